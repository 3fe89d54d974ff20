package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/supervisor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Spawn an agent instance",
	Long: `Create a new agent instance in its own tmux session.

Without --parent the instance is a root of a new hierarchy; with
--parent it is registered as that instance's child and its ID extends
the parent's lineage (e.g. spec_1_2_1 under mgr_1_2).`,
	RunE: runSpawn,
}

var (
	spawnRole    string
	spawnParent  string
	spawnContext string
	spawnMode    string
)

func init() {
	spawnCmd.Flags().StringVar(&spawnRole, "role", "specialist", "role: executive, manager, or specialist")
	spawnCmd.Flags().StringVar(&spawnParent, "parent", "", "parent instance ID")
	spawnCmd.Flags().StringVar(&spawnContext, "context", "", "initial context text delivered after startup")
	spawnCmd.Flags().StringVar(&spawnMode, "mode", "", "workspace mode: isolated or shared")
	rootCmd.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := newSetup(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	role, valid := types.ParseRole(spawnRole)
	if !valid {
		return fmt.Errorf("unknown role %q", spawnRole)
	}

	inst, err := st.sup.Spawn(ctx, callerRole, supervisor.SpawnSpec{
		Role:          role,
		Workdir:       st.dir,
		Context:       spawnContext,
		ParentID:      spawnParent,
		WorkspaceMode: types.WorkspaceMode(spawnMode),
	})
	if err != nil {
		return err
	}
	fmt.Printf("spawned %s (session %s)\n", inst.ID, inst.Session)
	return nil
}
