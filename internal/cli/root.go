// Package cli implements the grandma command surface. Dependencies are
// injected as package variables during application wiring in internal/app.go.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// osExit is swappable in tests so exit codes can be asserted.
var osExit = os.Exit

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "grandma",
	Short: "grandma - supervised AI coding-agent iteration loop",
	Long: `grandma coordinates a repeated AI coding-agent process against a task
list until all tasks complete. Before and after each implementation pass, a
supervising reviewer decides whether the loop may continue; anything short of
an explicit go-ahead pauses the loop for human attention.

The loop is resumable: progress is checkpointed before every phase, a lock
prevents two sessions from supervising the same directory, and a prior run's
artifacts are archived when the task list's branch identity changes.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("grandma %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
