// Package checkpoint persists sampler states so training can resume
// mid-epoch.
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

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"asr-datamodule/internal/db"
	"asr-datamodule/internal/sampling"
)

// ErrNotFound is returned when no state was saved for a run.
var ErrNotFound = errors.New("checkpoint not found")

const lockRetry = 50 * time.Millisecond

// Store saves and loads sampler states by run id.
type Store interface {
	Save(ctx context.Context, runID string, st sampling.State) error
	Load(ctx context.Context, runID string) (*sampling.State, error)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func validateRunID(runID string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("empty run id")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

// FileStore keeps one JSON file per run. Writers take an exclusive file lock
// and replace the file atomically, readers take a shared lock.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

func (s *FileStore) Save(ctx context.Context, runID string, st sampling.State) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	lock := flock.New(s.path(runID) + ".lock")
	ok, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock checkpoint %s: %w", runID, err)
	}
	if !ok {
		return fmt.Errorf("lock checkpoint %s: not acquired", runID)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, runID+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(runID))
}

func (s *FileStore) Load(ctx context.Context, runID string) (*sampling.State, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	lock := flock.New(s.path(runID) + ".lock")
	ok, err := lock.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock checkpoint %s: %w", runID, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock checkpoint %s: not acquired", runID)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st sampling.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return &st, nil
}

// DBStore keeps sampler states in the sampler_states table.
type DBStore struct {
	db *db.DB
}

func NewDBStore(database *db.DB) *DBStore {
	return &DBStore{db: database}
}

func (s *DBStore) Save(ctx context.Context, runID string, st sampling.State) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.SaveSamplerState(ctx, &db.SamplerState{
		RunID:          runID,
		Kind:           st.Kind,
		Epoch:          st.Epoch,
		BatchesYielded: st.BatchesYielded,
		State:          data,
	})
}

func (s *DBStore) Load(ctx context.Context, runID string) (*sampling.State, error) {
	rec, err := s.db.GetSamplerState(ctx, runID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st sampling.State
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return &st, nil
}
