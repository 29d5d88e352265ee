package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// ManifestStats is the counted content of one manifest file.
type ManifestStats struct {
	Path          string    `json:"path"`
	FileHash      string    `json:"file_hash"`
	NumCuts       int64     `json:"num_cuts"`
	TotalDuration float64   `json:"total_duration"`
	CountedAt     time.Time `json:"counted_at"`
}

const statsCacheTTL = 30 * time.Second

type statsCache struct {
	mu    sync.RWMutex
	stats []ManifestStats
	at    time.Time
}

func (db *DB) UpsertManifestStats(ctx context.Context, ms *ManifestStats) error {
	if ms.CountedAt.IsZero() {
		ms.CountedAt = time.Now()
	}
	q := db.upsert("manifest_stats", "path", []string{"file_hash", "num_cuts", "total_duration", "counted_at"})
	_, err := db.conn.ExecContext(ctx, q,
		ms.Path, ms.FileHash, ms.NumCuts, ms.TotalDuration, ms.CountedAt.Unix())
	if err == nil {
		c := &db.stats
		c.mu.Lock()
		c.stats = nil
		c.mu.Unlock()
	}
	return err
}

func (db *DB) GetManifestStats(ctx context.Context, path string) (*ManifestStats, error) {
	var ms ManifestStats
	var counted int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT path, file_hash, num_cuts, total_duration, counted_at
		FROM manifest_stats WHERE path = ?`, path).
		Scan(&ms.Path, &ms.FileHash, &ms.NumCuts, &ms.TotalDuration, &counted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ms.CountedAt = time.Unix(counted, 0)
	return &ms, nil
}

func (db *DB) ListManifestStats(ctx context.Context) ([]ManifestStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, file_hash, num_cuts, total_duration, counted_at
		FROM manifest_stats ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ManifestStats
	for rows.Next() {
		var ms ManifestStats
		var counted int64
		if err := rows.Scan(&ms.Path, &ms.FileHash, &ms.NumCuts, &ms.TotalDuration, &counted); err != nil {
			return nil, err
		}
		ms.CountedAt = time.Unix(counted, 0)
		out = append(out, ms)
	}
	return out, rows.Err()
}

// ListManifestStatsCached serves ListManifestStats from a short-lived cache.
func (db *DB) ListManifestStatsCached(ctx context.Context) ([]ManifestStats, error) {
	c := &db.stats
	c.mu.RLock()
	if c.stats != nil && time.Since(c.at) < statsCacheTTL {
		defer c.mu.RUnlock()
		return c.stats, nil
	}
	c.mu.RUnlock()

	stats, err := db.ListManifestStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = []ManifestStats{}
	}

	c.mu.Lock()
	c.stats = stats
	c.at = time.Now()
	c.mu.Unlock()

	return stats, nil
}
