package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an orc project directory",
	Long: `Create the .orc directory (runs, logs, registry) and write a
default config.toml. Existing config is left untouched.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg := config.Default()
	for _, sub := range []string{cfg.RunsDir(dir), cfg.LogsDir(dir)} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}

	path := filepath.Join(dir, ".orc", "config.toml")
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("config already exists at %s\n", path)
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("initialized orc project in %s\n", dir)
	return nil
}
