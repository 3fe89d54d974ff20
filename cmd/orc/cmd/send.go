package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <instance> <text>...",
	Short: "Deliver text to an instance as keystrokes",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := newSetup(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return st.sup.Send(ctx, callerRole, args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
