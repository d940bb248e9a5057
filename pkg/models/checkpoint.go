package models

import "time"

// Phase identifies one step of an iteration.
type Phase string

const (
	PhaseSessionInit    Phase = "session_init"
	PhasePreflight      Phase = "grandma_preflight"
	PhaseImplementation Phase = "implementation"
	PhasePostflight     Phase = "grandma_review"
)

// RunStatus is the recorded state of the loop at a checkpoint.
type RunStatus string

const (
	StatusInProgress           RunStatus = "in_progress"
	StatusPaused               RunStatus = "paused"
	StatusIterationComplete    RunStatus = "iteration_complete"
	StatusComplete             RunStatus = "complete"
	StatusBlocked              RunStatus = "blocked"
	StatusMaxIterationsReached RunStatus = "max_iterations_reached"
)

// Checkpoint is the single durable record of loop progress. It is
// overwritten on every phase transition and used only for resume, never for
// business decisions.
type Checkpoint struct {
	Iteration int       `yaml:"iteration"`
	Phase     Phase     `yaml:"phase"`
	Status    RunStatus `yaml:"status"`
	Timestamp time.Time `yaml:"timestamp"`
	SessionID string    `yaml:"session_id"`
	LogDir    string    `yaml:"log_dir"`
}
