package storage

import (
	"fmt"
	"os"
	"time"
)

// The progress and guidance logs are opaque side-channel artifacts owned by
// the external agent and reviewer processes. The loop only guarantees their
// existence and initialization; it never parses their content for control
// decisions.

// WorkLogManager ensures the progress and guidance logs exist with fresh
// headers, and re-initializes them after a run-identity archival.
type WorkLogManager interface {
	EnsureProgressLog() error
	EnsureGuidanceLog() error
	ResetLogs() error
	ProgressPath() string
	GuidancePath() string
}

type fileWorkLogManager struct {
	progressPath string
	guidancePath string
	now          func() time.Time
}

// NewWorkLogManager creates a WorkLogManager for the given log paths.
func NewWorkLogManager(progressPath, guidancePath string) WorkLogManager {
	return &fileWorkLogManager{
		progressPath: progressPath,
		guidancePath: guidancePath,
		now:          time.Now,
	}
}

func (m *fileWorkLogManager) ProgressPath() string { return m.progressPath }
func (m *fileWorkLogManager) GuidancePath() string { return m.guidancePath }

// EnsureProgressLog creates the append-only progress log with a header if it
// does not already exist. An existing log is left untouched.
func (m *fileWorkLogManager) EnsureProgressLog() error {
	return m.ensure(m.progressPath, m.progressHeader())
}

// EnsureGuidanceLog creates the guidance log with a header if it does not
// already exist. The reviewer prepends its latest section; the loop never
// reads the body.
func (m *fileWorkLogManager) EnsureGuidanceLog() error {
	return m.ensure(m.guidancePath, m.guidanceHeader())
}

// ResetLogs replaces both logs with fresh headers. Called after the prior
// run's artifacts have been archived on a run-identity change.
func (m *fileWorkLogManager) ResetLogs() error {
	if err := os.WriteFile(m.progressPath, []byte(m.progressHeader()), 0o644); err != nil {
		return fmt.Errorf("resetting progress log: %w", err)
	}
	if err := os.WriteFile(m.guidancePath, []byte(m.guidanceHeader()), 0o644); err != nil {
		return fmt.Errorf("resetting guidance log: %w", err)
	}
	return nil
}

func (m *fileWorkLogManager) ensure(path, header string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking log %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("initializing log %s: %w", path, err)
	}
	return nil
}

func (m *fileWorkLogManager) progressHeader() string {
	return fmt.Sprintf("# Progress Log\n\nInitialized: %s\n\n", m.now().Format(time.RFC3339))
}

func (m *fileWorkLogManager) guidanceHeader() string {
	return fmt.Sprintf("# Guidance Log\n\nInitialized: %s\n\n", m.now().Format(time.RFC3339))
}
