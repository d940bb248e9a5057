package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/grandma/pkg/models"
	"gopkg.in/yaml.v3"
)

// CheckpointStore defines the interface for the single durable checkpoint
// record that makes the loop resumable after interruption.
type CheckpointStore interface {
	// Save overwrites the checkpoint record. The write is atomic so a crash
	// cannot leave a half-written checkpoint that confuses resume logic.
	Save(cp models.Checkpoint) error
	// Load returns the last saved checkpoint, or nil if none exists.
	Load() (*models.Checkpoint, error)
	// LoadForResume returns the iteration to resume from. Resume is enabled
	// only when the last status is paused or in_progress (re-enter the same
	// iteration) or when the review phase of an iteration completed cleanly
	// (begin at iteration+1). Any other status means start fresh.
	LoadForResume() (iteration int, ok bool, err error)
}

type fileCheckpointStore struct {
	path string
}

// NewCheckpointStore creates a CheckpointStore backed by the YAML file at
// path.
func NewCheckpointStore(path string) CheckpointStore {
	return &fileCheckpointStore{path: path}
}

// Save marshals the checkpoint and writes it via temp-file-then-rename.
func (s *fileCheckpointStore) Save(cp models.Checkpoint) error {
	data, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("saving checkpoint: marshaling YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("saving checkpoint: creating directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("saving checkpoint: writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving checkpoint: renaming: %w", err)
	}
	return nil
}

func (s *fileCheckpointStore) Load() (*models.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("loading checkpoint: parsing YAML: %w", err)
	}
	return &cp, nil
}

func (s *fileCheckpointStore) LoadForResume() (int, bool, error) {
	cp, err := s.Load()
	if err != nil {
		return 0, false, err
	}
	if cp == nil {
		return 0, false, nil
	}

	switch cp.Status {
	case models.StatusPaused, models.StatusInProgress:
		return cp.Iteration, true, nil
	case models.StatusIterationComplete:
		if cp.Phase == models.PhasePostflight {
			return cp.Iteration + 1, true, nil
		}
		return 0, false, nil
	default:
		return 0, false, nil
	}
}
