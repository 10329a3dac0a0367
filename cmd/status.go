package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkdrift/inkdrift/internal/config"
	"github.com/inkdrift/inkdrift/internal/mcp"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show inkdrift status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	fmt.Printf("%s inkdrift Status\n\n", logo)

	_, statErr := os.Stat(cfgPath)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:  %s %s\n", cfgPath, cfgMark)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	keyMark := "(not set)"
	if cfg.Completion.APIKey != "" {
		keyMark = "✓"
	}
	fmt.Printf("API key: %s\n", keyMark)
	fmt.Printf("Model:   %s\n\n", cfg.Completion.Model)

	fmt.Println("Tool providers:")
	if len(cfg.Tools.Providers) == 0 {
		fmt.Println("  (none configured)")
		return nil
	}
	for id, p := range cfg.Tools.Providers {
		switch {
		case !p.Enabled:
			fmt.Printf("  %-20s (disabled)\n", id)
		case !mcp.CommandAllowed(p.Command):
			fmt.Printf("  %-20s ✗ command %q is not an approved runtime\n", id, p.Command)
		default:
			fmt.Printf("  %-20s ✓ %s\n", id, p.Command)
		}
	}
	return nil
}
