package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Validate a workflow definition without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := workflow.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: ok (%d stages, entry %q)\n", def.Name, len(def.Stages), def.Entry().ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
