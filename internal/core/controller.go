package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/valter-silva-au/grandma/pkg/models"
)

// ExitReason indicates why the loop stopped.
type ExitReason int

const (
	ExitReasonUnknown       ExitReason = iota
	ExitReasonDone                     // All tasks completed or agent signalled completion
	ExitReasonPaused                   // Reviewer withheld CONTINUE, or a phase failed after retries
	ExitReasonBlocked                  // Session init reported BLOCKED or failed
	ExitReasonMaxIterations            // Hit iteration limit
)

// String returns a human-readable description of the exit reason.
func (r ExitReason) String() string {
	switch r {
	case ExitReasonDone:
		return "completed"
	case ExitReasonPaused:
		return "paused"
	case ExitReasonBlocked:
		return "blocked"
	case ExitReasonMaxIterations:
		return "max iterations"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a loop execution.
type Result struct {
	Reason    ExitReason
	Status    models.RunStatus
	Phase     models.Phase
	Iteration int
	Err       error
}

// TaskSource is the subset of storage.TaskListStore the controller needs.
// The list is reloaded every iteration because the external agent mutates
// the completion flags between invocations.
type TaskSource interface {
	Load() (*models.TaskList, error)
}

// CheckpointTracker is the subset of storage.CheckpointStore the controller
// needs. A checkpoint is written before every phase invocation so a crash
// mid-invocation resumes at that same phase.
type CheckpointTracker interface {
	Save(cp models.Checkpoint) error
	LoadForResume() (iteration int, ok bool, err error)
}

// Runner mirrors integration.AgentRunner. Defining it here keeps core
// independent of the integration package.
type Runner interface {
	Invoke(ctx context.Context, req models.InvokeRequest) (*models.InvokeResult, error)
}

// ControllerOptions holds everything the controller needs, injected
// explicitly for test-friendly construction.
type ControllerOptions struct {
	Config       *models.Config
	Tasks        TaskSource
	Tracker      CheckpointTracker
	Runner       Runner
	Prompts      PromptBuilder
	SessionID    string
	LogDir       string
	ProgressPath string
	GuidancePath string
	Diag         io.Writer // diagnostics sink; nil discards
	Now          func() time.Time
}

// IterationController orchestrates the phase sequence per iteration:
// session init once, then preflight review, implementation and postflight
// review repeating until the task list is exhausted, a reviewer pauses the
// loop, or the iteration budget runs out.
type IterationController struct {
	cfg          *models.Config
	tasks        TaskSource
	tracker      CheckpointTracker
	runner       Runner
	prompts      PromptBuilder
	sessionID    string
	logDir       string
	progressPath string
	guidancePath string
	diag         io.Writer
	now          func() time.Time
}

// NewIterationController creates a controller from explicit options.
func NewIterationController(opts ControllerOptions) *IterationController {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	diag := opts.Diag
	if diag == nil {
		diag = io.Discard
	}
	return &IterationController{
		cfg:          opts.Config,
		tasks:        opts.Tasks,
		tracker:      opts.Tracker,
		runner:       opts.Runner,
		prompts:      opts.Prompts,
		sessionID:    opts.SessionID,
		logDir:       opts.LogDir,
		progressPath: opts.ProgressPath,
		guidancePath: opts.GuidancePath,
		diag:         diag,
		now:          now,
	}
}

// RunOptions controls one execution of the loop.
type RunOptions struct {
	MaxIterations int
	Resume        bool
}

// Run executes the loop until an exit condition is met. It never panics out
// of a phase: escalated runner failures pause the loop with a persisted
// checkpoint (or block it, during session init).
func (c *IterationController) Run(ctx context.Context, opts RunOptions) Result {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = c.cfg.Limits.MaxIterations
	}

	start := 1
	if opts.Resume {
		if iter, ok, err := c.tracker.LoadForResume(); err != nil {
			return Result{Reason: ExitReasonBlocked, Status: models.StatusBlocked, Err: err}
		} else if ok {
			start = iter
			fmt.Fprintf(c.diag, "resuming at iteration %d\n", start)
		} else {
			fmt.Fprintf(c.diag, "no resumable checkpoint; starting fresh\n")
		}
	}

	// Session init runs once per session; a resume past iteration 1 means
	// the session was already initialized. lastPhase only ever names a phase
	// that actually ran in this execution, so a resumed run that skipped
	// init never checkpoints session_init.
	var lastPhase models.Phase
	if start <= 1 {
		if res, ok := c.sessionInit(ctx); !ok {
			return res
		}
		lastPhase = models.PhaseSessionInit
	}
	for iter := start; iter <= maxIterations; iter++ {
		list, err := c.tasks.Load()
		if err != nil {
			c.checkpoint(iter, lastPhase, models.StatusPaused)
			return Result{Reason: ExitReasonPaused, Status: models.StatusPaused, Phase: lastPhase, Iteration: iter, Err: err}
		}

		task := list.Current()
		if task == nil {
			// Terminal condition for the whole loop: nothing left to do.
			c.checkpoint(iter, lastPhase, models.StatusComplete)
			return Result{Reason: ExitReasonDone, Status: models.StatusComplete, Phase: lastPhase, Iteration: iter}
		}

		pctx := PromptContext{
			Task:          task,
			Iteration:     iter,
			MaxIterations: maxIterations,
			Branch:        list.Branch,
			Incomplete:    list.IncompleteCount(),
			ProgressPath:  c.progressPath,
			GuidancePath:  c.guidancePath,
		}

		// Preflight review: only an unambiguous CONTINUE proceeds.
		if res, ok := c.reviewPhase(ctx, models.PhasePreflight, PromptPreflight, iter, pctx); !ok {
			return res
		}
		lastPhase = models.PhasePreflight

		// Implementation: model chosen by the current task's complexity.
		c.checkpoint(iter, models.PhaseImplementation, models.StatusInProgress)
		prompt, err := c.prompts.Build(PromptImplement, pctx)
		if err != nil {
			return c.pause(iter, models.PhaseImplementation, err)
		}
		invRes, err := c.runner.Invoke(ctx, models.InvokeRequest{
			Model:       c.cfg.Models.ForComplexity(task.Complexity),
			Prompt:      prompt,
			Description: fmt.Sprintf("implementation-%02d", iter),
		})
		if err != nil {
			return c.pause(iter, models.PhaseImplementation, err)
		}
		lastPhase = models.PhaseImplementation

		// A completion signal ends the whole session successfully,
		// regardless of remaining iteration budget.
		if ContainsSignal(invRes.Output, SignalComplete) {
			c.checkpoint(iter, models.PhaseImplementation, models.StatusComplete)
			return Result{Reason: ExitReasonDone, Status: models.StatusComplete, Phase: models.PhaseImplementation, Iteration: iter}
		}

		// Postflight review: CONTINUE advances to the next iteration.
		if res, ok := c.reviewPhase(ctx, models.PhasePostflight, PromptPostflight, iter, pctx); !ok {
			return res
		}
		lastPhase = models.PhasePostflight
		c.checkpoint(iter, models.PhasePostflight, models.StatusIterationComplete)
	}

	c.checkpoint(maxIterations, lastPhase, models.StatusMaxIterationsReached)
	return Result{
		Reason:    ExitReasonMaxIterations,
		Status:    models.StatusMaxIterationsReached,
		Phase:     lastPhase,
		Iteration: maxIterations,
	}
}

// sessionInit invokes the initialization prompt and gates on READY/BLOCKED.
// Any failure here is terminal: no further phases run.
func (c *IterationController) sessionInit(ctx context.Context) (Result, bool) {
	c.checkpoint(1, models.PhaseSessionInit, models.StatusInProgress)

	prompt, err := c.prompts.Build(PromptInit, PromptContext{
		Iteration:    1,
		ProgressPath: c.progressPath,
		GuidancePath: c.guidancePath,
	})
	if err == nil {
		var res *models.InvokeResult
		res, err = c.runner.Invoke(ctx, models.InvokeRequest{
			Model:       c.cfg.Models.Init,
			Prompt:      prompt,
			Description: "session-init",
		})
		if err == nil {
			if sig := ExtractSignal(res.Output, InitVocabulary()); sig == SignalReady {
				return Result{}, true
			}
			fmt.Fprintf(c.diag, "session init did not report READY; blocking\n")
			err = nil
		}
	}

	c.checkpoint(1, models.PhaseSessionInit, models.StatusBlocked)
	return Result{
		Reason:    ExitReasonBlocked,
		Status:    models.StatusBlocked,
		Phase:     models.PhaseSessionInit,
		Iteration: 1,
		Err:       err,
	}, false
}

// reviewPhase runs a preflight or postflight review invocation and parses
// its CONTINUE/PAUSE signal. A missing or conflicting signal is not an
// error: the default-deny vocabulary resolves it to PAUSE.
func (c *IterationController) reviewPhase(ctx context.Context, phase models.Phase, templateName string, iter int, pctx PromptContext) (Result, bool) {
	c.checkpoint(iter, phase, models.StatusInProgress)

	prompt, err := c.prompts.Build(templateName, pctx)
	if err != nil {
		return c.pause(iter, phase, err), false
	}

	res, err := c.runner.Invoke(ctx, models.InvokeRequest{
		Model:       c.cfg.Models.Review,
		Prompt:      prompt,
		Description: fmt.Sprintf("%s-%02d", phase, iter),
	})
	if err != nil {
		return c.pause(iter, phase, err), false
	}

	if sig := ExtractSignal(res.Output, ReviewVocabulary()); sig != SignalContinue {
		fmt.Fprintf(c.diag, "%s withheld CONTINUE at iteration %d; pausing\n", phase, iter)
		return c.pause(iter, phase, nil), false
	}
	return Result{}, true
}

// pause persists a paused checkpoint and builds the terminal result.
func (c *IterationController) pause(iter int, phase models.Phase, err error) Result {
	c.checkpoint(iter, phase, models.StatusPaused)
	return Result{
		Reason:    ExitReasonPaused,
		Status:    models.StatusPaused,
		Phase:     phase,
		Iteration: iter,
		Err:       err,
	}
}

// checkpoint overwrites the durable checkpoint record. A failed write is
// reported but does not abort the phase: the checkpoint exists for resume,
// not for business decisions.
func (c *IterationController) checkpoint(iter int, phase models.Phase, status models.RunStatus) {
	cp := models.Checkpoint{
		Iteration: iter,
		Phase:     phase,
		Status:    status,
		Timestamp: c.now(),
		SessionID: c.sessionID,
		LogDir:    c.logDir,
	}
	if err := c.tracker.Save(cp); err != nil {
		fmt.Fprintf(c.diag, "warning: failed to save checkpoint: %v\n", err)
	}
}
