package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/engine"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Run a workflow",
	Long: `Load, validate, and execute a workflow definition.

The run drives agent instances through the workflow's stages, waiting
on each stage's completion signal. State is snapshotted to
.orc/runs/<run-id>.yaml after every stage transition. Ctrl-C cancels
the run; with terminate_on_cancel set, it also tears down the run's
instances.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runVars []string

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "variable values (format: name=value)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := newSetup(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	path := args[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(st.dir, path)
	}
	def, err := workflow.Load(path)
	if err != nil {
		return err
	}

	vars := make(map[string]string)
	for _, v := range runVars {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid variable format: %s (expected name=value)", v)
		}
		vars[parts[0]] = parts[1]
	}

	snaps := engine.NewSnapshotWriter(st.cfg.RunsDir(st.dir))
	eng := engine.New(st.cfg, st.sup, snaps, st.logger)

	run, err := eng.Execute(ctx, def, engine.Options{Workdir: st.dir, Vars: vars})
	fmt.Println(run.Summary())
	fmt.Printf("snapshot: %s\n", snaps.Path(run.ID))
	if run.Status == types.RunStatusFailed && err == nil {
		err = fmt.Errorf("%s", run.FailureReason)
	}
	return err
}
