package core

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// AlreadyRunningError reports that another live controller holds the session
// lock. The caller must exit immediately rather than wait.
type AlreadyRunningError struct {
	LockPath string
	HolderPID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another session (pid %d) is already running in this directory; "+
		"if that process is gone, remove %s and retry", e.HolderPID, e.LockPath)
}

// ValidationError reports missing prerequisites discovered before any work
// begins: an unresolvable agent executable or absent prompt templates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("environment validation failed (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// LockHandle represents a held session lock. Release is idempotent so it can
// be deferred on every exit path.
type LockHandle struct {
	path string
	once sync.Once
	err  error
}

// Release removes the lock file. Safe to call more than once.
func (h *LockHandle) Release() error {
	h.once.Do(func() {
		h.err = os.Remove(h.path)
	})
	return h.err
}

// LogResetter is the subset of storage.WorkLogManager the guard needs after
// archival. Defining it here keeps core independent of the storage package.
type LogResetter interface {
	ResetLogs() error
}

// SessionGuard enforces single-instance execution for a working directory,
// validates the environment before any work begins, and archives a prior
// run's artifacts when the run identity changes.
type SessionGuard interface {
	AcquireLock() (*LockHandle, error)
	ValidateEnvironment() error
	ArchiveIfIdentityChanged(currentIdentity string) error
	PreviousIdentity() string
}

// GuardPaths names every file the guard touches.
type GuardPaths struct {
	LockPath     string // .grandma/lock
	IdentityPath string // .grandma/run_identity
	ArchiveDir   string // .grandma/archive
	TaskListPath string
	ProgressPath string
	GuidancePath string
	PromptDir    string
}

type sessionGuard struct {
	paths        GuardPaths
	agentCommand string
	logs         LogResetter
	now          func() time.Time
	// processAlive reports whether the given PID belongs to a live process.
	// Overridable in tests.
	processAlive func(pid int) bool
}

// NewSessionGuard creates a SessionGuard for the given paths and agent
// command.
func NewSessionGuard(paths GuardPaths, agentCommand string, logs LogResetter) SessionGuard {
	return &sessionGuard{
		paths:        paths,
		agentCommand: agentCommand,
		logs:         logs,
		now:          time.Now,
		processAlive: processAlive,
	}
}

// processAlive probes a PID with signal 0. An EPERM response still means the
// process exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

// AcquireLock writes this process's PID to the lock file atomically
// (O_CREATE|O_EXCL). A live holder fails immediately with
// AlreadyRunningError; a dead holder's lock is reclaimed once.
func (g *sessionGuard) AcquireLock() (*LockHandle, error) {
	if err := os.MkdirAll(filepath.Dir(g.paths.LockPath), 0o755); err != nil {
		return nil, fmt.Errorf("acquiring lock: creating directory: %w", err)
	}

	for reclaimed := false; ; {
		f, err := os.OpenFile(g.paths.LockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(g.paths.LockPath)
				return nil, fmt.Errorf("acquiring lock: writing pid: %w", werr)
			}
			return &LockHandle{path: g.paths.LockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquiring lock: %w", err)
		}

		holder, readErr := g.readHolder()
		if readErr == nil && g.processAlive(holder) {
			return nil, &AlreadyRunningError{LockPath: g.paths.LockPath, HolderPID: holder}
		}
		if reclaimed {
			// A second stale lock in one acquisition attempt means something
			// else is racing us; give up rather than loop.
			return nil, &AlreadyRunningError{LockPath: g.paths.LockPath, HolderPID: holder}
		}

		// Stale lock: holder is gone, reclaim once.
		if err := os.Remove(g.paths.LockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("acquiring lock: removing stale lock: %w", err)
		}
		reclaimed = true
	}
}

func (g *sessionGuard) readHolder() (int, error) {
	data, err := os.ReadFile(g.paths.LockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing lock holder pid: %w", err)
	}
	return pid, nil
}

// ValidateEnvironment checks that the agent executable is resolvable and all
// prompt templates exist. Every violation is collected so the operator sees
// the full picture in one failure.
func (g *sessionGuard) ValidateEnvironment() error {
	var problems []string

	if _, err := exec.LookPath(g.agentCommand); err != nil {
		problems = append(problems, fmt.Sprintf("agent executable %q not found in PATH", g.agentCommand))
	}

	for _, name := range PromptTemplateNames() {
		path := filepath.Join(g.paths.PromptDir, name)
		if _, err := os.Stat(path); err != nil {
			problems = append(problems, fmt.Sprintf("prompt template %s is missing", path))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// PreviousIdentity returns the run identity recorded by the last session, or
// empty if none was recorded.
func (g *sessionGuard) PreviousIdentity() string {
	data, err := os.ReadFile(g.paths.IdentityPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ArchiveIfIdentityChanged archives the task list and work logs into a dated
// folder named from the previous identity when the identity has changed,
// then resets the live logs. It records the current identity afterwards, so
// an identity-unchanged rerun is a no-op: archival happens exactly once per
// transition.
func (g *sessionGuard) ArchiveIfIdentityChanged(currentIdentity string) error {
	previous := g.PreviousIdentity()

	if currentIdentity != "" && previous != "" && currentIdentity != previous {
		stamp := g.now().Format("20060102-150405")
		dest := filepath.Join(g.paths.ArchiveDir, fmt.Sprintf("%s-%s", sanitizeIdentity(previous), stamp))
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("archiving prior run: creating %s: %w", dest, err)
		}

		for _, src := range []string{g.paths.TaskListPath, g.paths.ProgressPath, g.paths.GuidancePath} {
			if err := copyFile(src, filepath.Join(dest, filepath.Base(src))); err != nil {
				return fmt.Errorf("archiving prior run: %w", err)
			}
		}

		if err := g.logs.ResetLogs(); err != nil {
			return fmt.Errorf("archiving prior run: %w", err)
		}
	}

	if currentIdentity != "" && currentIdentity != previous {
		if err := os.MkdirAll(filepath.Dir(g.paths.IdentityPath), 0o755); err != nil {
			return fmt.Errorf("recording run identity: %w", err)
		}
		if err := os.WriteFile(g.paths.IdentityPath, []byte(currentIdentity+"\n"), 0o644); err != nil {
			return fmt.Errorf("recording run identity: %w", err)
		}
	}
	return nil
}

// sanitizeIdentity makes a run identity (often a branch name with slashes)
// safe to use as a directory name.
func sanitizeIdentity(identity string) string {
	return strings.ReplaceAll(identity, string(os.PathSeparator), "-")
}

// copyFile copies src to dst. A missing source is skipped: a prior run may
// never have produced every artifact.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
