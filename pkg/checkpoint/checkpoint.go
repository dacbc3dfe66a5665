// Package checkpoint records how far a batch ingestion got so that an
// interrupted run can resume after the last submitted item.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidBatchID is returned when a batch ID contains invalid characters
var ErrInvalidBatchID = errors.New("invalid batch ID: contains path traversal or invalid characters")

// BatchCheckpoint is the progress of one batch file.
type BatchCheckpoint struct {
	BatchID string `json:"batch_id"`
	Source  string `json:"source"`
	Total   int    `json:"total"`
	// Next is the index of the first item not yet submitted.
	Next int `json:"next"`

	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Invalid  int `json:"invalid"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	AttemptCount  int       `json:"attempt_count"`
	LastError     string    `json:"last_error,omitempty"`
}

// Done reports whether every item was submitted.
func (c *BatchCheckpoint) Done() bool { return c.Next >= c.Total }

// BatchID derives a stable id from the batch content.
func BatchID(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// Manager stores checkpoints as JSON files in a directory.
type Manager struct {
	dir string
}

// NewManager creates dir if needed. An empty dir uses
// os.TempDir()/newsdedup-checkpoints.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "newsdedup-checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string { return m.dir }

func validateBatchID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return ErrInvalidBatchID
	}
	return nil
}

// Path returns the file for a batch checkpoint.
func (m *Manager) Path(batchID string) (string, error) {
	if err := validateBatchID(batchID); err != nil {
		return "", err
	}
	full := filepath.Join(m.dir, "checkpoint_"+batchID+".json")
	if filepath.Dir(full) != filepath.Clean(m.dir) {
		return "", ErrInvalidBatchID
	}
	return full, nil
}

// Start loads the checkpoint for batchID or creates a fresh one.
func (m *Manager) Start(ctx context.Context, batchID, source string, total int) (*BatchCheckpoint, error) {
	cp, err := m.Load(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		cp.AttemptCount++
		return cp, nil
	}
	now := time.Now()
	return &BatchCheckpoint{
		BatchID:      batchID,
		Source:       source,
		Total:        total,
		CreatedAt:    now,
		AttemptCount: 1,
	}, nil
}

// Save writes the checkpoint atomically.
func (m *Manager) Save(_ context.Context, cp *BatchCheckpoint) error {
	path, err := m.Path(cp.BatchID)
	if err != nil {
		return err
	}
	cp.LastUpdatedAt = time.Now()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}
	return nil
}

// Load returns nil, nil when no checkpoint exists.
func (m *Manager) Load(_ context.Context, batchID string) (*BatchCheckpoint, error) {
	path, err := m.Path(batchID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var cp BatchCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes a checkpoint; a missing one is not an error.
func (m *Manager) Delete(_ context.Context, batchID string) error {
	path, err := m.Path(batchID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

// RecordError saves cause on the checkpoint.
func (m *Manager) RecordError(ctx context.Context, cp *BatchCheckpoint, cause error) error {
	cp.LastError = cause.Error()
	return m.Save(ctx, cp)
}

// List returns every readable checkpoint in the directory.
func (m *Manager) List(_ context.Context) ([]*BatchCheckpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	var out []*BatchCheckpoint
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var cp BatchCheckpoint
		if json.Unmarshal(data, &cp) != nil {
			continue
		}
		out = append(out, &cp)
	}
	return out, nil
}

// CleanOld removes checkpoints not updated within maxAge.
func (m *Manager) CleanOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cps, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, cp := range cps {
		if cp.LastUpdatedAt.Before(cutoff) {
			if m.Delete(ctx, cp.BatchID) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
