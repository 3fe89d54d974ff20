package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/monitor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/supervisor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <instance>",
	Short: "Wait for a completion signal in an instance's output",
	Long: `Watch one instance until a genuine completion signal appears or the
timeout elapses. Echoed prompts and instructional mentions of the
keyword do not count.

With --nudge, instead send a bare Enter to the instance first; agents
sometimes stall with composed text sitting unsubmitted in the input
box, and a newline flushes it.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorKeyword string
	monitorTimeout int
	monitorNudge   bool
)

func init() {
	monitorCmd.Flags().StringVar(&monitorKeyword, "keyword", "", "signal keyword(s), \"a|b\" for alternatives")
	monitorCmd.Flags().IntVar(&monitorTimeout, "timeout", 300, "timeout in seconds")
	monitorCmd.Flags().BoolVar(&monitorNudge, "nudge", false, "send a bare Enter before watching")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := newSetup(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	instanceID := args[0]
	if monitorNudge {
		stuck, err := isStuck(ctx, st, instanceID)
		if err != nil {
			return err
		}
		if !stuck {
			fmt.Printf("%s is producing output, not nudging\n", instanceID)
		} else {
			if err := st.sup.Nudge(ctx, callerRole, instanceID); err != nil {
				return err
			}
			fmt.Printf("nudged %s\n", instanceID)
		}
		if monitorKeyword == "" {
			return nil
		}
	}
	if monitorKeyword == "" {
		return fmt.Errorf("--keyword is required unless --nudge is given")
	}

	var signals []string
	for _, kw := range strings.Split(monitorKeyword, "|") {
		if kw = strings.TrimSpace(kw); kw != "" {
			signals = append(signals, kw)
		}
	}

	m := monitor.New(
		&supervisorReader{sup: st.sup},
		monitor.NewClassifier(st.cfg.Monitor),
		instanceID,
		monitor.Config{
			Signals:      signals,
			PollInterval: st.cfg.Engine.PollInterval,
			Timeout:      time.Duration(monitorTimeout) * time.Second,
			BufferSize:   st.cfg.Monitor.BufferSize,
			ReadLines:    st.cfg.Monitor.ReadLines,
		},
		st.logger,
	)

	event, open := <-m.Start(ctx)
	if !open {
		return fmt.Errorf("monitor cancelled")
	}
	switch event.Kind {
	case monitor.EventMatched:
		fmt.Printf("matched %s: %s\n", event.Signal, event.Snippet)
		return nil
	default:
		return fmt.Errorf("timed out after %ds waiting for %s", monitorTimeout, monitorKeyword)
	}
}

// isStuck samples the instance's output twice across a short interval;
// unchanged output means the agent has stalled (often with composed
// text sitting unsubmitted in its input box).
func isStuck(ctx context.Context, st *setup, instanceID string) (bool, error) {
	before, err := st.sup.Read(ctx, callerRole, instanceID, st.cfg.Monitor.ReadLines)
	if err != nil {
		return false, err
	}
	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	after, err := st.sup.Read(ctx, callerRole, instanceID, st.cfg.Monitor.ReadLines)
	if err != nil {
		return false, err
	}
	return before == after, nil
}

// supervisorReader adapts the role-checked supervisor read to the
// monitor's reader interface.
type supervisorReader struct {
	sup *supervisor.Supervisor
}

func (r *supervisorReader) Read(ctx context.Context, instanceID string, maxLines int) (string, error) {
	return r.sup.Read(ctx, callerRole, instanceID, maxLines)
}
