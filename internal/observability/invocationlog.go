// Package observability provides the append-only invocation log and the
// terminal run summary.
package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/valter-silva-au/grandma/pkg/models"
)

// InvocationFilter specifies criteria for reading invocation records.
type InvocationFilter struct {
	Since       *time.Time
	Description string
	Outcome     models.OutcomeClass
}

// InvocationLog defines the interface for the per-session invocation log.
// Records are append-only and never mutated after write; they are retained
// for the lifetime of the session for debugging.
type InvocationLog interface {
	Record(rec models.InvocationRecord) error
	Read(filter InvocationFilter) ([]models.InvocationRecord, error)
	Close() error
}

// jsonlInvocationLog implements InvocationLog using an append-only JSONL
// file.
type jsonlInvocationLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLInvocationLog creates an InvocationLog backed by a JSONL file at
// the given path.
func NewJSONLInvocationLog(path string) (InvocationLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening invocation log: %w", err)
	}
	return &jsonlInvocationLog{path: path, file: f}, nil
}

// Record appends a JSON-encoded record followed by a newline.
func (l *jsonlInvocationLog) Record(rec models.InvocationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling invocation record: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing invocation record: %w", err)
	}
	return nil
}

// Read scans the log line by line and returns records matching the filter.
func (l *jsonlInvocationLog) Read(filter InvocationFilter) ([]models.InvocationRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening invocation log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []models.InvocationRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec models.InvocationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip malformed lines
		}

		if matchesInvocationFilter(rec, filter) {
			records = append(records, rec)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning invocation log: %w", err)
	}

	return records, nil
}

// Close closes the underlying log file.
func (l *jsonlInvocationLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing invocation log: %w", err)
	}
	return nil
}

// matchesInvocationFilter checks whether a record satisfies all filter
// criteria.
func matchesInvocationFilter(rec models.InvocationRecord, filter InvocationFilter) bool {
	if filter.Since != nil && rec.Time.Before(*filter.Since) {
		return false
	}
	if filter.Description != "" && rec.Description != filter.Description {
		return false
	}
	if filter.Outcome != "" && rec.Outcome != filter.Outcome {
		return false
	}
	return true
}
