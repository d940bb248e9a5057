// Package storage provides the file-backed stores for the supervised
// working directory: the task list, the iteration checkpoint, and the
// progress/guidance work logs.
package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/valter-silva-au/grandma/pkg/models"
	"gopkg.in/yaml.v3"
)

// SchemaError reports a malformed or incomplete task list. It is fatal: the
// store accepts the whole list or nothing.
type SchemaError struct {
	Path       string
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("task list %s failed validation (%d problems):\n  - %s",
		e.Path, len(e.Violations), strings.Join(e.Violations, "\n  - "))
}

// TaskListStore defines the interface for loading and validating the task
// list. The store never writes: the completion flag is mutated only by the
// external agent process.
type TaskListStore interface {
	Load() (*models.TaskList, error)
	Path() string
}

type fileTaskListStore struct {
	path string
}

// NewTaskListStore creates a TaskListStore backed by the YAML file at path.
func NewTaskListStore(path string) TaskListStore {
	return &fileTaskListStore{path: path}
}

func (s *fileTaskListStore) Path() string {
	return s.path
}

// taskFlags is a parallel decode of just the completion flags. The model
// carries a plain bool for ergonomic reads, which cannot distinguish
// `completed: false` from an absent key; this can.
type taskFlags struct {
	Tasks []struct {
		Completed *bool `yaml:"completed"`
	} `yaml:"tasks"`
}

// Load reads and validates the task list. Every task must carry an
// identifier, a title and an explicit completed flag, and identifiers must
// be unique within the list. Any violation fails the whole load with a
// SchemaError naming the count and kind of invalid entries.
func (s *fileTaskListStore) Load() (*models.TaskList, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading task list: %w", err)
	}

	var list models.TaskList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, &SchemaError{Path: s.path, Violations: []string{fmt.Sprintf("not valid YAML: %v", err)}}
	}
	var flags taskFlags
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil, &SchemaError{Path: s.path, Violations: []string{fmt.Sprintf("not valid YAML: %v", err)}}
	}

	var violations []string
	if len(list.Tasks) == 0 {
		violations = append(violations, "tasks collection is missing or empty")
	}

	seen := make(map[string]bool, len(list.Tasks))
	for i, t := range list.Tasks {
		switch {
		case t.ID == "":
			violations = append(violations, fmt.Sprintf("task %d has no id", i))
		case seen[t.ID]:
			violations = append(violations, fmt.Sprintf("task %d duplicates id %q", i, t.ID))
		default:
			seen[t.ID] = true
		}
		if t.Title == "" {
			violations = append(violations, fmt.Sprintf("task %d (%s) has no title", i, t.ID))
		}
		if i < len(flags.Tasks) && flags.Tasks[i].Completed == nil {
			violations = append(violations, fmt.Sprintf("task %d (%s) has no completed flag", i, t.ID))
		}
	}

	if len(violations) > 0 {
		return nil, &SchemaError{Path: s.path, Violations: violations}
	}

	return &list, nil
}
