package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskmind",
	Short: "🧠 Task-Mind terminal session server",
	Long: `Task-Mind terminal session server.

Runs interactive agent tasks under pseudo-terminals and streams their
output to browser terminals over WebSockets. Sessions can be re-attached
from multiple clients and resumed after the original process has exited.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
