package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <instance>",
	Short: "Print an instance's recent rendered output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := newSetup(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		output, err := st.sup.Read(ctx, callerRole, args[0], readLines)
		if err != nil {
			return err
		}
		fmt.Print(output)
		return nil
	},
}

var readLines int

func init() {
	readCmd.Flags().IntVarP(&readLines, "lines", "n", 50, "max lines to read")
	rootCmd.AddCommand(readCmd)
}
