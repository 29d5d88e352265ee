package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asr-datamodule/internal/config"
	"asr-datamodule/internal/db"
	"asr-datamodule/internal/sampling"
)

func state() sampling.State {
	return sampling.State{
		Kind:           sampling.KindDynamicBucketing,
		Epoch:          4,
		BatchesYielded: 1234,
		Seed:           0,
		MaxDuration:    1000,
		Shuffle:        true,
		DropLast:       true,
		NumBuckets:     30,
		WorldSize:      1,
	}
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "sampler"))
	require.NoError(t, err)

	database, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "ckpt.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return map[string]Store{"file": fs, "db": NewDBStore(database)}
}

func TestStoresRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "run")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Save(ctx, "run", state()))
			next := state()
			next.BatchesYielded = 2000
			require.NoError(t, store.Save(ctx, "run", next))

			got, err := store.Load(ctx, "run")
			require.NoError(t, err)
			assert.Equal(t, next, *got)
		})
	}
}

func TestStoresRejectBadRunIDs(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Save(ctx, "", state()))
			assert.Error(t, store.Save(ctx, "../escape", state()))
		})
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Save(context.Background(), "r1", state()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"r1.json", "r1.json.lock"}, names)
}

func TestNewRunIDIsUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	assert.NoError(t, validateRunID(a))
}
