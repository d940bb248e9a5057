package models

import "time"

// OutcomeClass classifies the result of one agent process attempt.
type OutcomeClass string

const (
	OutcomeSuccess     OutcomeClass = "success"
	OutcomeTimeout     OutcomeClass = "timeout"
	OutcomeNonZeroExit OutcomeClass = "non_zero_exit"
	OutcomeShortOutput OutcomeClass = "short_output"
	OutcomeAPIError    OutcomeClass = "api_error"
)

// InvokeRequest describes one agent invocation: which model to select, the
// prompt payload delivered over stdin, and a short description used to key
// the captured output files.
type InvokeRequest struct {
	Model       string
	Prompt      string
	Description string
}

// InvokeResult is the final outcome of an invocation after retries.
type InvokeResult struct {
	Output     string
	Attempts   int
	OutputPath string
}

// InvocationRecord is one line of the append-only invocation log. Records
// are retained for the lifetime of the session and never mutated after
// write.
type InvocationRecord struct {
	Time        time.Time    `json:"time"`
	Model       string       `json:"model"`
	Description string       `json:"description"`
	Attempt     int          `json:"attempt"`
	Outcome     OutcomeClass `json:"outcome"`
	ExitCode    int          `json:"exit_code"`
	OutputPath  string       `json:"output_path"`
	PromptBytes int          `json:"prompt_bytes"`
}
