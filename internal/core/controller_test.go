package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/grandma/pkg/models"
)

// fakeTasks serves the same list on every load unless completeAfter is set,
// at which point subsequent loads report everything done. The controller
// reloads between iterations because the agent mutates completion flags.
type fakeTasks struct {
	list          *models.TaskList
	loads         int
	completeAfter int // loads after which all tasks read as completed; 0 disables
	err           error
}

func (f *fakeTasks) Load() (*models.TaskList, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.loads++
	copied := *f.list
	copied.Tasks = append([]models.Task(nil), f.list.Tasks...)
	if f.completeAfter > 0 && f.loads > f.completeAfter {
		for i := range copied.Tasks {
			copied.Tasks[i].Completed = true
		}
	}
	return &copied, nil
}

type memTracker struct {
	saved      []models.Checkpoint
	resumeIter int
	resumeOK   bool
}

func (m *memTracker) Save(cp models.Checkpoint) error {
	m.saved = append(m.saved, cp)
	return nil
}

func (m *memTracker) LoadForResume() (int, bool, error) {
	return m.resumeIter, m.resumeOK, nil
}

func (m *memTracker) last(t *testing.T) models.Checkpoint {
	t.Helper()
	if len(m.saved) == 0 {
		t.Fatal("no checkpoint was saved")
	}
	return m.saved[len(m.saved)-1]
}

// scriptRunner answers each invocation from a script keyed by description
// prefix, and records what was invoked in order.
type scriptRunner struct {
	outputs     map[string]string // description prefix -> output
	failOn      string            // description prefix that returns an error
	invocations []models.InvokeRequest
}

func (r *scriptRunner) Invoke(_ context.Context, req models.InvokeRequest) (*models.InvokeResult, error) {
	r.invocations = append(r.invocations, req)
	if r.failOn != "" && strings.HasPrefix(req.Description, r.failOn) {
		return nil, errors.New("agent process failed after retries")
	}
	for prefix, out := range r.outputs {
		if strings.HasPrefix(req.Description, prefix) {
			return &models.InvokeResult{Output: out, Attempts: 1}, nil
		}
	}
	return &models.InvokeResult{Output: "made progress on the task as instructed", Attempts: 1}, nil
}

func (r *scriptRunner) descriptions() []string {
	out := make([]string, 0, len(r.invocations))
	for _, inv := range r.invocations {
		out = append(out, inv.Description)
	}
	return out
}

type fakePrompts struct{}

func (fakePrompts) Build(name string, _ PromptContext) (string, error) {
	return "rendered " + name, nil
}

func controllerFixture(tasks TaskSource, tracker CheckpointTracker, runner Runner) *IterationController {
	cfg := &models.Config{
		Models: models.ModelConfig{
			Low:    "claude-haiku-4-5",
			Medium: "claude-sonnet-4-5",
			High:   "claude-opus-4-1",
			Review: "claude-opus-4-1",
			Init:   "claude-haiku-4-5",
		},
		Limits: models.LimitConfig{MaxIterations: 10},
	}
	return NewIterationController(ControllerOptions{
		Config:       cfg,
		Tasks:        tasks,
		Tracker:      tracker,
		Runner:       runner,
		Prompts:      fakePrompts{},
		SessionID:    "test-session",
		LogDir:       "/tmp/logs",
		ProgressPath: "PROGRESS.md",
		GuidancePath: "GUIDANCE.md",
		Now:          func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) },
	})
}

func oneTaskList() *models.TaskList {
	return &models.TaskList{
		Branch: "feat/login",
		Tasks: []models.Task{
			{ID: "T-1", Title: "Add login", Priority: 1, Complexity: models.ComplexityHigh},
		},
	}
}

func approvingScript() map[string]string {
	return map[string]string{
		"session-init":      "environment ready\n[[READY]]",
		"grandma_preflight": "plan looks sound\n[[CONTINUE]]",
		"grandma_review":    "work verified\n[[CONTINUE]]",
	}
}

func TestRun_CompletionSignalEndsSession(t *testing.T) {
	outputs := approvingScript()
	outputs["implementation"] = "everything is finished\n[[COMPLETE]]"
	runner := &scriptRunner{outputs: outputs}
	tracker := &memTracker{}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonDone || res.Status != models.StatusComplete {
		t.Fatalf("Result = %+v, want done/complete", res)
	}

	// COMPLETE during implementation skips the postflight review.
	want := []string{"session-init", "grandma_preflight-01", "implementation-01"}
	got := runner.descriptions()
	if len(got) != len(want) {
		t.Fatalf("invocations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("invocation[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	last := tracker.last(t)
	if last.Status != models.StatusComplete || last.Phase != models.PhaseImplementation {
		t.Errorf("final checkpoint = %+v", last)
	}
}

func TestRun_ExhaustedTaskListCompletes(t *testing.T) {
	runner := &scriptRunner{outputs: approvingScript()}
	tracker := &memTracker{}
	tasks := &fakeTasks{list: oneTaskList(), completeAfter: 1}

	c := controllerFixture(tasks, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonDone || res.Status != models.StatusComplete {
		t.Fatalf("Result = %+v, want done/complete", res)
	}
	// One full iteration ran, then the reload found nothing incomplete.
	if res.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", res.Iteration)
	}
	if tracker.last(t).Status != models.StatusComplete {
		t.Errorf("final checkpoint status = %s", tracker.last(t).Status)
	}
}

func TestRun_PreflightPausePersistsCheckpoint(t *testing.T) {
	outputs := approvingScript()
	outputs["grandma_preflight"] = "guidance log updated; human input needed\n[[PAUSE]]"
	runner := &scriptRunner{outputs: outputs}
	tracker := &memTracker{}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonPaused || res.Phase != models.PhasePreflight {
		t.Fatalf("Result = %+v, want paused at %s", res, models.PhasePreflight)
	}
	if res.Err != nil {
		t.Errorf("a reviewer PAUSE is not an error, got %v", res.Err)
	}

	// The implementation phase must not have been reached.
	for _, desc := range runner.descriptions() {
		if strings.HasPrefix(desc, "implementation") {
			t.Errorf("implementation invoked after a preflight pause")
		}
	}

	last := tracker.last(t)
	if last.Status != models.StatusPaused || last.Phase != models.PhasePreflight || last.Iteration != 1 {
		t.Errorf("final checkpoint = %+v", last)
	}
}

func TestRun_AmbiguousReviewOutputPauses(t *testing.T) {
	outputs := approvingScript()
	// No recognizable tag at all: default-deny resolves to pause.
	outputs["grandma_review"] = "looks good to me, keep going"
	runner := &scriptRunner{outputs: outputs}
	tracker := &memTracker{}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonPaused || res.Phase != models.PhasePostflight {
		t.Fatalf("Result = %+v, want paused at %s", res, models.PhasePostflight)
	}
}

func TestRun_InitBlockedStopsEverything(t *testing.T) {
	outputs := approvingScript()
	outputs["session-init"] = "cannot find repository\n[[BLOCKED]]"
	runner := &scriptRunner{outputs: outputs}
	tracker := &memTracker{}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonBlocked || res.Status != models.StatusBlocked {
		t.Fatalf("Result = %+v, want blocked", res)
	}
	if len(runner.invocations) != 1 {
		t.Errorf("invocations after blocked init = %v", runner.descriptions())
	}
	last := tracker.last(t)
	if last.Phase != models.PhaseSessionInit || last.Status != models.StatusBlocked {
		t.Errorf("final checkpoint = %+v", last)
	}
}

func TestRun_InitWithoutSignalBlocks(t *testing.T) {
	outputs := approvingScript()
	outputs["session-init"] = "probably fine, proceeding"
	runner := &scriptRunner{outputs: outputs}
	tracker := &memTracker{}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonBlocked {
		t.Fatalf("Result = %+v, want blocked on missing READY", res)
	}
}

func TestRun_MaxIterationsReached(t *testing.T) {
	runner := &scriptRunner{outputs: approvingScript()}
	tracker := &memTracker{}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{MaxIterations: 2})

	if res.Reason != ExitReasonMaxIterations || res.Status != models.StatusMaxIterationsReached {
		t.Fatalf("Result = %+v, want max iterations", res)
	}
	if res.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", res.Iteration)
	}

	// Two full iterations: init + 2x(preflight, implementation, postflight).
	if got := len(runner.invocations); got != 7 {
		t.Errorf("invocations = %d (%v), want 7", got, runner.descriptions())
	}
	if tracker.last(t).Status != models.StatusMaxIterationsReached {
		t.Errorf("final checkpoint status = %s", tracker.last(t).Status)
	}
}

func TestRun_ResumeSkipsSessionInit(t *testing.T) {
	runner := &scriptRunner{outputs: approvingScript()}
	tracker := &memTracker{resumeIter: 4, resumeOK: true}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{MaxIterations: 4, Resume: true})

	if res.Reason != ExitReasonMaxIterations {
		t.Fatalf("Result = %+v, want max iterations after one resumed iteration", res)
	}

	got := runner.descriptions()
	if len(got) == 0 || got[0] != "grandma_preflight-04" {
		t.Fatalf("first invocation = %v, want grandma_preflight-04 (no session init)", got)
	}
	for _, desc := range got {
		if desc == "session-init" {
			t.Errorf("session init ran on a resumed session")
		}
	}
}

func TestRun_ResumePastBudgetNeverCheckpointsInit(t *testing.T) {
	runner := &scriptRunner{outputs: approvingScript()}
	tracker := &memTracker{resumeIter: 5, resumeOK: true}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{MaxIterations: 3, Resume: true})

	if res.Reason != ExitReasonMaxIterations {
		t.Fatalf("Result = %+v, want max iterations", res)
	}
	if len(runner.invocations) != 0 {
		t.Errorf("invocations = %v, want none past the budget", runner.descriptions())
	}

	// Session init did not run in this execution, so no checkpoint may claim
	// it did.
	for _, cp := range tracker.saved {
		if cp.Phase == models.PhaseSessionInit {
			t.Errorf("checkpoint records %s for a resumed run that skipped init", models.PhaseSessionInit)
		}
	}
}

func TestRun_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	outputs := approvingScript()
	outputs["implementation"] = "done\n[[COMPLETE]]"
	runner := &scriptRunner{outputs: outputs}
	tracker := &memTracker{resumeOK: false}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{Resume: true})

	if res.Reason != ExitReasonDone {
		t.Fatalf("Result = %+v, want done", res)
	}
	if got := runner.descriptions(); len(got) == 0 || got[0] != "session-init" {
		t.Errorf("fresh start must begin with session init, got %v", got)
	}
}

func TestRun_RunnerFailurePausesWithError(t *testing.T) {
	runner := &scriptRunner{outputs: approvingScript(), failOn: "implementation"}
	tracker := &memTracker{}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonPaused || res.Phase != models.PhaseImplementation {
		t.Fatalf("Result = %+v, want paused at implementation", res)
	}
	if res.Err == nil {
		t.Error("escalated runner failure must carry its error")
	}
	last := tracker.last(t)
	if last.Status != models.StatusPaused || last.Phase != models.PhaseImplementation {
		t.Errorf("final checkpoint = %+v", last)
	}
}

func TestRun_ImplementationModelFollowsComplexity(t *testing.T) {
	runner := &scriptRunner{outputs: approvingScript()}
	tracker := &memTracker{}
	list := oneTaskList()
	list.Tasks[0].Complexity = models.ComplexityLow

	c := controllerFixture(&fakeTasks{list: list}, tracker, runner)
	_ = c.Run(context.Background(), RunOptions{MaxIterations: 1})

	var implModel, reviewModel string
	for _, inv := range runner.invocations {
		if strings.HasPrefix(inv.Description, "implementation") {
			implModel = inv.Model
		}
		if strings.HasPrefix(inv.Description, "grandma_review") {
			reviewModel = inv.Model
		}
	}
	if implModel != "claude-haiku-4-5" {
		t.Errorf("implementation model = %q, want the low-complexity model", implModel)
	}
	if reviewModel != "claude-opus-4-1" {
		t.Errorf("review model = %q, want the review model", reviewModel)
	}
}

func TestRun_CheckpointPrecedesEveryInvocation(t *testing.T) {
	tracker := &memTracker{}
	runner := &scriptRunner{outputs: approvingScript()}

	c := controllerFixture(&fakeTasks{list: oneTaskList()}, tracker, runner)
	_ = c.Run(context.Background(), RunOptions{MaxIterations: 1})

	// Every phase writes an in_progress checkpoint before invoking the agent,
	// so the count of in_progress saves matches the invocation count.
	inProgress := 0
	for _, cp := range tracker.saved {
		if cp.Status == models.StatusInProgress {
			inProgress++
		}
	}
	if inProgress != len(runner.invocations) {
		t.Errorf("in_progress checkpoints = %d, invocations = %d", inProgress, len(runner.invocations))
	}
}

func TestRun_TaskLoadFailurePauses(t *testing.T) {
	runner := &scriptRunner{outputs: approvingScript()}
	tracker := &memTracker{}
	tasks := &fakeTasks{err: errors.New("tasks.yaml: permission denied")}

	c := controllerFixture(tasks, tracker, runner)
	res := c.Run(context.Background(), RunOptions{})

	if res.Reason != ExitReasonPaused || res.Err == nil {
		t.Fatalf("Result = %+v, want paused with error", res)
	}
}
