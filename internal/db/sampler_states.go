package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SamplerState is a stored sampler checkpoint. State holds the JSON encoded
// sampler state; Kind, Epoch and BatchesYielded are copied out for queries.
type SamplerState struct {
	RunID          string          `json:"run_id"`
	Kind           string          `json:"kind"`
	Epoch          int             `json:"epoch"`
	BatchesYielded int             `json:"batches_yielded"`
	State          json.RawMessage `json:"state,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (db *DB) SaveSamplerState(ctx context.Context, st *SamplerState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	q := db.upsert("sampler_states", "run_id", []string{"kind", "epoch", "batches_yielded", "state", "updated_at"})
	_, err := db.conn.ExecContext(ctx, q,
		st.RunID, st.Kind, st.Epoch, st.BatchesYielded, string(st.State), st.UpdatedAt.Unix())
	return err
}

func (db *DB) GetSamplerState(ctx context.Context, runID string) (*SamplerState, error) {
	var st SamplerState
	var state string
	var updated int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT run_id, kind, epoch, batches_yielded, state, updated_at
		FROM sampler_states WHERE run_id = ?`, runID).
		Scan(&st.RunID, &st.Kind, &st.Epoch, &st.BatchesYielded, &state, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.State = []byte(state)
	st.UpdatedAt = time.Unix(updated, 0)
	return &st, nil
}

func (db *DB) DeleteSamplerState(ctx context.Context, runID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sampler_states WHERE run_id = ?", runID)
	return err
}

// ListSamplerStates returns the most recently updated checkpoints first.
func (db *DB) ListSamplerStates(ctx context.Context, limit int) ([]SamplerState, error) {
	query := `
		SELECT run_id, kind, epoch, batches_yielded, updated_at
		FROM sampler_states ORDER BY updated_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SamplerState
	for rows.Next() {
		var st SamplerState
		var updated int64
		if err := rows.Scan(&st.RunID, &st.Kind, &st.Epoch, &st.BatchesYielded, &updated); err != nil {
			return nil, err
		}
		st.UpdatedAt = time.Unix(updated, 0)
		out = append(out, st)
	}
	return out, rows.Err()
}
