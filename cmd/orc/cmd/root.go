package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/bridge"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/logging"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/supervisor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose bool
	workDir string
)

// callerRole is the privilege the CLI operator acts with. The operator
// sits above the instance hierarchy, so every supervisory operation is
// allowed.
const callerRole = types.RoleExecutive

var rootCmd = &cobra.Command{
	Use:   "orc",
	Short: "orc - hierarchical agent orchestration over tmux",
	Long: `orc runs multi-agent workflows by driving AI agents inside tmux
sessions: it spawns instances in an executive/manager/specialist
hierarchy, delivers prompts, watches panes for completion signals, and
walks declarative YAML workflows stage by stage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// A .env in the working directory seeds process env (API keys and
	// the like) before anything spawns.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("orc {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// setup wires the pieces every instance-facing command needs: config,
// logger, durable registry, tmux transport, and a rehydrated
// supervisor. Close the returned closer when done.
type setup struct {
	dir    string
	cfg    *config.Config
	logger *slog.Logger
	sup    *supervisor.Supervisor

	closers []io.Closer
}

func (s *setup) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

func newSetup(ctx context.Context) (*setup, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}

	logger, logCloser, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	st := &setup{dir: dir, cfg: cfg, logger: logger}
	if logCloser != nil {
		st.closers = append(st.closers, logCloser)
	}

	store, err := supervisor.OpenStore(cfg.RegistryDB(dir))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	st.closers = append(st.closers, store)

	st.sup = supervisor.New(cfg.Supervisor, bridge.NewTmuxBridge(), supervisor.NewRegistry(), store, logger)
	if err := st.sup.Rehydrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("rehydrating registry: %w", err)
	}
	return st, nil
}
