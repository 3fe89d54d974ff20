package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/supervisor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered instances",
	RunE:  runLs,
}

var (
	lsRole   string
	lsParent string
)

func init() {
	lsCmd.Flags().StringVar(&lsRole, "role", "", "filter by role")
	lsCmd.Flags().StringVar(&lsParent, "parent", "", "filter by parent instance ID")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := newSetup(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	filter := supervisor.Filter{ParentID: lsParent}
	if lsRole != "" {
		role, valid := types.ParseRole(lsRole)
		if !valid {
			return fmt.Errorf("unknown role %q", lsRole)
		}
		filter.Role = role
	}

	instances, err := st.sup.List(callerRole, filter)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		fmt.Println("no instances")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tSTATUS\tPARENT\tSESSION\tWORKDIR")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			inst.ID, inst.Role, inst.Status, inst.ParentID, inst.Session, inst.Workdir)
	}
	return w.Flush()
}
