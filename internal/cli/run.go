package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/grandma/internal/core"
	"github.com/valter-silva-au/grandma/internal/observability"
	"github.com/valter-silva-au/grandma/internal/storage"
	"github.com/valter-silva-au/grandma/pkg/models"
)

// Dependencies injected during application wiring in app.go.
var (
	Guard      core.SessionGuard
	Tasks      storage.TaskListStore
	Controller *core.IterationController
	RunConfig  *models.Config
	WorkLogs   storage.WorkLogManager
	RunLogDir  string
)

var runResume bool

var runCmd = &cobra.Command{
	Use:   "run [max-iterations]",
	Short: "Run the supervised iteration loop",
	Long: `Run the iteration loop until all tasks complete, a reviewer pauses it,
session init reports blocked, or the iteration budget runs out.

The optional positional argument caps the number of iterations (default 10).
With --resume, the loop continues from the last checkpoint instead of
starting a fresh session.

Exit code 0 means every task completed. Any non-zero exit needs human
attention; consult the checkpoint file and log directory printed in the
summary to see why.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Controller == nil || Guard == nil || Tasks == nil {
			return fmt.Errorf("session not initialized")
		}

		maxIterations := RunConfig.Limits.MaxIterations
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("max-iterations must be a positive integer, got %q", args[0])
			}
			maxIterations = n
		}

		// Single-instance lock, released on every exit path.
		handle, err := Guard.AcquireLock()
		if err != nil {
			return err
		}
		defer func() { _ = handle.Release() }()

		// Fail fast before any work begins.
		if err := Guard.ValidateEnvironment(); err != nil {
			return err
		}

		// Schema validation is fatal with no partial acceptance.
		list, err := Tasks.Load()
		if err != nil {
			return err
		}

		// Archive the prior run's artifacts on an identity change, then make
		// sure the side-channel logs exist before the first invocation.
		if err := Guard.ArchiveIfIdentityChanged(list.Branch); err != nil {
			return err
		}
		if err := WorkLogs.EnsureProgressLog(); err != nil {
			return err
		}
		if err := WorkLogs.EnsureGuidanceLog(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result := Controller.Run(ctx, core.RunOptions{
			MaxIterations: maxIterations,
			Resume:        runResume,
		})

		printRunSummary(result)

		if result.Reason != core.ExitReasonDone {
			// os.Exit does not unwind defers; the lock must be gone before
			// the process terminates. Release is idempotent, so the deferred
			// call stays harmless when osExit is swapped out in tests.
			_ = handle.Release()
			osExit(1)
		}
		return nil
	},
}

// printRunSummary renders the final colored summary block naming the phase,
// iteration and diagnostic locations.
func printRunSummary(result core.Result) {
	done, total := taskProgress()
	observability.PrintSummary(os.Stdout, observability.RunSummary{
		Status:       result.Status,
		Phase:        result.Phase,
		Iteration:    result.Iteration,
		TasksDone:    done,
		TasksTotal:   total,
		LogDir:       RunLogDir,
		GuidancePath: WorkLogs.GuidancePath(),
		Err:          result.Err,
	})
}

// taskProgress re-reads the task list for the summary. Failures are
// tolerated: the summary still prints without counts.
func taskProgress() (done, total int) {
	list, err := Tasks.Load()
	if err != nil {
		return 0, 0
	}
	return len(list.Tasks) - list.IncompleteCount(), len(list.Tasks)
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume from the last checkpoint instead of starting fresh")
	rootCmd.AddCommand(runCmd)
}
