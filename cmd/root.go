// Package cmd implements the inkdrift CLI using cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"
const logo = "🖋"

var verbose bool

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "inkdrift",
	Short: logo + " inkdrift — chat and writing companion",
	Long:  logo + " inkdrift — a chat companion that can reach external tools while it writes",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Show debug logs")

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(statusCmd)
}
