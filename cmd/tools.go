package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkdrift/inkdrift/internal/config"
	"github.com/inkdrift/inkdrift/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Connect configured tool providers and list what they offer",
	RunE:  runTools,
}

func runTools(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Tools.Providers) == 0 {
		fmt.Println("No tool providers configured.")
		fmt.Printf("Add them under \"tools.providers\" in %s\n", config.ConfigPath())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	registry := tools.BuildRegistry(ctx, cfg.Tools.Providers)
	defer registry.Close()

	entries := registry.Entries()
	if len(entries) == 0 {
		fmt.Println("No tools discovered. Check the provider commands and logs above.")
		return nil
	}

	filter := tools.Filter{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny, Enabled: cfg.Tools.ToolsEnabled}
	fmt.Printf("%s Discovered %d tool(s):\n\n", logo, len(entries))
	for _, e := range entries {
		mark := "✓"
		if !filter.Allows(e.CallName) {
			mark = "✗ (filtered)"
		}
		fmt.Printf("  %-48s %s\n", e.CallName, mark)
		if e.Description != "" {
			fmt.Printf("      %s\n", e.Description)
		}
	}
	return nil
}
