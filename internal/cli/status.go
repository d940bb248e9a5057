package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/grandma/internal/storage"
)

// Checkpoints is set during application wiring in app.go.
var Checkpoints storage.CheckpointStore

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last checkpoint and task progress",
	Long: `Show the last recorded checkpoint (iteration, phase, status) and how many
tasks remain incomplete. This is the first place to look after a non-zero
exit from 'grandma run'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Checkpoints == nil || Tasks == nil {
			return fmt.Errorf("session not initialized")
		}

		cp, err := Checkpoints.Load()
		if err != nil {
			return fmt.Errorf("reading checkpoint: %w", err)
		}
		if cp == nil {
			fmt.Println("No checkpoint recorded; no session has run here yet.")
		} else {
			fmt.Printf("Last checkpoint:\n")
			fmt.Printf("  iteration: %d\n", cp.Iteration)
			fmt.Printf("  phase:     %s\n", cp.Phase)
			fmt.Printf("  status:    %s\n", cp.Status)
			fmt.Printf("  session:   %s\n", cp.SessionID)
			fmt.Printf("  when:      %s\n", cp.Timestamp.Format("2006-01-02 15:04:05"))
			if cp.LogDir != "" {
				fmt.Printf("  logs:      %s\n", cp.LogDir)
			}
		}

		list, err := Tasks.Load()
		if err != nil {
			// The task list may be mid-edit; report the checkpoint anyway.
			fmt.Printf("\nTask list unavailable: %v\n", err)
			return nil
		}

		fmt.Printf("\nTasks: %d total, %d incomplete\n", len(list.Tasks), list.IncompleteCount())
		if current := list.Current(); current != nil {
			fmt.Printf("Current: %s: %s (priority %d, complexity %s)\n",
				current.ID, current.Title, current.Priority, current.Complexity)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
