package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill <instance>",
	Short: "Terminate an instance and, by default, its descendants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := newSetup(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.sup.Terminate(ctx, callerRole, args[0], !killNoCascade); err != nil {
			return err
		}
		fmt.Printf("terminated %s\n", args[0])
		return nil
	},
}

var killNoCascade bool

func init() {
	killCmd.Flags().BoolVar(&killNoCascade, "no-cascade", false, "leave the instance's descendants running")
	rootCmd.AddCommand(killCmd)
}
