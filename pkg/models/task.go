package models

// Complexity is a per-task hint selecting which model class handles the
// task's implementation phase.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Task represents a single work item in the task list. The completion flag
// is owned by the external agent process; the loop only reads it.
type Task struct {
	ID                 string     `yaml:"id"`
	Title              string     `yaml:"title"`
	Description        string     `yaml:"description,omitempty"`
	AcceptanceCriteria []string   `yaml:"acceptance_criteria,omitempty"`
	Priority           int        `yaml:"priority"`
	Complexity         Complexity `yaml:"complexity,omitempty"`
	Completed          bool       `yaml:"completed"`
	Notes              string     `yaml:"notes,omitempty"`
}

// TaskList is the top-level structure of tasks.yaml. Branch is the run
// identity: when it changes between invocations, the prior run's artifacts
// are archived.
type TaskList struct {
	Branch string `yaml:"branch"`
	Tasks  []Task `yaml:"tasks"`
}

// Current returns the incomplete task with the lowest priority value, or nil
// if every task is complete. Ties are broken by list order, so repeated calls
// on unchanged input always return the same task.
func (l *TaskList) Current() *Task {
	var current *Task
	for i := range l.Tasks {
		t := &l.Tasks[i]
		if t.Completed {
			continue
		}
		if current == nil || t.Priority < current.Priority {
			current = t
		}
	}
	return current
}

// IncompleteCount returns the number of tasks whose completion flag is false.
func (l *TaskList) IncompleteCount() int {
	count := 0
	for i := range l.Tasks {
		if !l.Tasks[i].Completed {
			count++
		}
	}
	return count
}
