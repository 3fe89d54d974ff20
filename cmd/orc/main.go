package main

import (
	"fmt"
	"os"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/cmd/orc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
