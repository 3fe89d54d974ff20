package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart <instance>",
	Short: "Restart a dead instance with its conversation resumed",
	Long: `Recreate a dead instance's session in its original working
directory, launching the agent with its resume flag so the prior
conversation context carries over. The instance keeps its ID and its
place in the hierarchy. Only dead instances can be restarted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := newSetup(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.sup.Restart(ctx, callerRole, args[0]); err != nil {
			return err
		}
		fmt.Printf("restarted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restartCmd)
}
