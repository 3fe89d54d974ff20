package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run snapshots",
	Long: `Without arguments, list all recorded runs. With a run ID, print
that run's stage history from its snapshot.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return err
	}
	runsDir := cfg.RunsDir(dir)

	if len(args) == 1 {
		return showRun(filepath.Join(runsDir, args[0]+".yaml"))
	}

	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) || len(entries) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	if err != nil {
		return err
	}

	var runs []*engine.Run
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		run, err := engine.LoadRun(filepath.Join(runsDir, entry.Name()))
		if err != nil {
			continue // Skip unreadable snapshots rather than failing the listing
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATUS\tSTAGES\tSTARTED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			run.ID, run.Workflow, run.Status, len(run.History),
			run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func showRun(path string) error {
	run, err := engine.LoadRun(path)
	if err != nil {
		return err
	}

	fmt.Println(run.Summary())
	if len(run.History) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tOUTCOME\tSIGNAL\tDURATION")
	for _, rec := range run.History {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.Stage, rec.Outcome, rec.Signal, rec.Duration().Round(10*time.Millisecond))
	}
	return w.Flush()
}
