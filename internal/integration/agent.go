// Package integration contains the boundary to the external agent process:
// building the subprocess invocation, enforcing timeouts, classifying
// failures, and retrying with backoff.
package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/valter-silva-au/grandma/pkg/models"
)

// apiErrorMarkers are matched case-insensitively against process output.
// The set is deliberately conservative: legitimate text mentioning "error"
// must not trip it, so every marker is a provider-specific phrase.
var apiErrorMarkers = []string{
	"rate limit",
	"rate_limit_error",
	"overloaded_error",
	"connection reset by peer",
	"429 too many requests",
	"request timed out",
	"internal server error",
}

// ProcessFailure is the terminal error surfaced after the retry budget is
// exhausted. It carries the classification of the final attempt.
type ProcessFailure struct {
	Class       models.OutcomeClass
	Description string
	Attempts    int
	ExitCode    int
	Matched     string // API error marker that matched, if any
	OutputBytes int
}

func (e *ProcessFailure) Error() string {
	switch e.Class {
	case models.OutcomeTimeout:
		return fmt.Sprintf("%s: timed out after %d attempts", e.Description, e.Attempts)
	case models.OutcomeNonZeroExit:
		return fmt.Sprintf("%s: exited %d after %d attempts", e.Description, e.ExitCode, e.Attempts)
	case models.OutcomeAPIError:
		return fmt.Sprintf("%s: api error (%q) after %d attempts", e.Description, e.Matched, e.Attempts)
	case models.OutcomeShortOutput:
		return fmt.Sprintf("%s: suspect output of %d bytes after %d attempts", e.Description, e.OutputBytes, e.Attempts)
	default:
		return fmt.Sprintf("%s: failed after %d attempts", e.Description, e.Attempts)
	}
}

// InvocationRecorder is the subset of the observability invocation log the
// runner needs. Defining it here keeps integration independent of the
// observability package.
type InvocationRecorder interface {
	Record(rec models.InvocationRecord) error
}

// AgentRunner defines the interface for invoking the external agent process.
type AgentRunner interface {
	// Invoke runs the agent with the given model and prompt, retrying on
	// failure classes up to the configured attempt budget. The prompt is
	// piped over stdin, immune to command-line length limits. Exhausting
	// retries returns a *ProcessFailure; it is never silently swallowed.
	Invoke(ctx context.Context, req models.InvokeRequest) (*models.InvokeResult, error)
}

type agentRunner struct {
	agent    models.AgentConfig
	limits   models.LimitConfig
	logDir   string
	recorder InvocationRecorder

	// sleep and run are overridable in tests: sleep to capture the backoff
	// schedule, run to substitute stub processes.
	sleep func(ctx context.Context, d time.Duration) error
	run   func(ctx context.Context, model, prompt string) (output string, exitCode int, timedOut bool, err error)
}

// NewAgentRunner creates an AgentRunner that captures per-attempt output
// under logDir and appends a record per attempt to the recorder.
func NewAgentRunner(agent models.AgentConfig, limits models.LimitConfig, logDir string, recorder InvocationRecorder) AgentRunner {
	r := &agentRunner{
		agent:    agent,
		limits:   limits,
		logDir:   logDir,
		recorder: recorder,
		sleep:    sleepCtx,
	}
	r.run = r.runProcess
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invoke executes the retry loop. Each failed attempt waits base_delay
// multiplied by the attempt number before the next try.
func (r *agentRunner) Invoke(ctx context.Context, req models.InvokeRequest) (*models.InvokeResult, error) {
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("invoking agent: creating log directory: %w", err)
	}

	var last *ProcessFailure
	for attempt := 1; attempt <= r.limits.MaxAttempts; attempt++ {
		output, exitCode, timedOut, runErr := r.run(ctx, req.Model, req.Prompt)
		class, matched := r.classify(output, exitCode, timedOut, runErr)

		outputPath := r.captureOutput(req.Description, attempt, class, output)
		r.record(req, attempt, class, exitCode, outputPath)

		if class == models.OutcomeSuccess {
			return &models.InvokeResult{
				Output:     output,
				Attempts:   attempt,
				OutputPath: outputPath,
			}, nil
		}

		last = &ProcessFailure{
			Class:       class,
			Description: req.Description,
			Attempts:    attempt,
			ExitCode:    exitCode,
			Matched:     matched,
			OutputBytes: len(output),
		}

		if attempt < r.limits.MaxAttempts {
			delay := r.limits.BaseDelay * time.Duration(attempt)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("invoking agent: %w", err)
			}
		}
	}

	return nil, last
}

// classify maps a finished attempt to its outcome class. Success requires
// exit code zero, no timeout, no recognized API-error marker, and output at
// least the minimum byte threshold.
func (r *agentRunner) classify(output string, exitCode int, timedOut bool, runErr error) (models.OutcomeClass, string) {
	if timedOut {
		return models.OutcomeTimeout, ""
	}
	if exitCode != 0 || runErr != nil {
		return models.OutcomeNonZeroExit, ""
	}
	lower := strings.ToLower(output)
	for _, marker := range apiErrorMarkers {
		if strings.Contains(lower, marker) {
			return models.OutcomeAPIError, marker
		}
	}
	if len(output) < r.limits.MinOutputBytes {
		return models.OutcomeShortOutput, ""
	}
	return models.OutcomeSuccess, ""
}

// runProcess executes one agent attempt under the configured timeout. The
// subprocess runs in its own process group so a timeout kills the whole
// group and no orphaned work survives the watchdog.
func (r *agentRunner) runProcess(ctx context.Context, model, prompt string) (string, int, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.limits.Timeout)
	defer cancel()

	args := make([]string, 0, len(r.agent.Args)+2)
	args = append(args, r.agent.Args...)
	args = append(args, "--model", model)

	cmd := exec.CommandContext(attemptCtx, r.agent.Command, args...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 10 * time.Second

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()

	if attemptCtx.Err() == context.DeadlineExceeded {
		return output, -1, true, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, exitErr.ExitCode(), false, nil
		}
		// Could not be started at all.
		return output, -1, false, fmt.Errorf("starting %s: %w", r.agent.Command, err)
	}

	return output, 0, false, nil
}

// captureOutput persists an attempt's raw output to an immutable log file
// keyed by description, attempt number and outcome. Capture failures are not
// fatal to the invocation itself.
func (r *agentRunner) captureOutput(description string, attempt int, class models.OutcomeClass, output string) string {
	name := fmt.Sprintf("%s-attempt%d-%s.log", sanitizeDescription(description), attempt, class)
	path := filepath.Join(r.logDir, name)
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to capture output to %s: %v\n", path, err)
		return ""
	}
	return path
}

func (r *agentRunner) record(req models.InvokeRequest, attempt int, class models.OutcomeClass, exitCode int, outputPath string) {
	if r.recorder == nil {
		return
	}
	rec := models.InvocationRecord{
		Time:        time.Now(),
		Model:       req.Model,
		Description: req.Description,
		Attempt:     attempt,
		Outcome:     class,
		ExitCode:    exitCode,
		OutputPath:  outputPath,
		PromptBytes: len(req.Prompt),
	}
	if err := r.recorder.Record(rec); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record invocation: %v\n", err)
	}
}

// sanitizeDescription makes a phase description safe for use in a file name.
func sanitizeDescription(desc string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		default:
			return '-'
		}
	}, desc)
}
