package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"asr-datamodule/internal/config"
	"asr-datamodule/internal/cut"
	"asr-datamodule/internal/db"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestRouter(t *testing.T, withDB bool) (*Router, *db.DB) {
	t.Helper()
	cfg := config.Default()
	cfg.Data.ManifestDir = t.TempDir()
	cfg.Workers.Count = 2

	require.NoError(t, cut.WriteManifest(filepath.Join(cfg.Data.ManifestDir, "gigaspeech_cuts_M.jsonl.gz"),
		[]cut.Cut{{ID: "a", Duration: 1800}, {ID: "b", Duration: 1800}}))
	require.NoError(t, cut.WriteManifest(filepath.Join(cfg.Data.ManifestDir, "gigaspeech_cuts_DEV.jsonl.gz"),
		[]cut.Cut{{ID: "c", Duration: 360}}))

	var database *db.DB
	if withDB {
		var err error
		database, err = db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
	}
	return NewRouter(&cfg, database, zaptest.NewLogger(t)), database
}

func do(t *testing.T, r http.Handler, method, path string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, false)
	code, env := do(t, r, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok","database":false}`, string(env.Data))
}

func TestStatsWithoutDatabase(t *testing.T) {
	r, _ := newTestRouter(t, false)
	code, env := do(t, r, http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
}

func TestManifestsList(t *testing.T) {
	r, _ := newTestRouter(t, false)
	code, env := do(t, r, http.MethodGet, "/api/manifests")
	require.Equal(t, http.StatusOK, code)

	var manifests []struct{ Name, Split string }
	require.NoError(t, json.Unmarshal(env.Data, &manifests))
	require.Len(t, manifests, 2)
	assert.Equal(t, "dev", manifests[0].Split)
	assert.Equal(t, "train", manifests[1].Split)
}

func TestCountThenStats(t *testing.T) {
	r, _ := newTestRouter(t, true)

	code, _ := do(t, r, http.MethodPost, "/api/count/start?workers=2")
	require.Equal(t, http.StatusOK, code)

	require.Eventually(t, func() bool {
		_, env := do(t, r, http.MethodGet, "/api/count/status")
		var st struct {
			Running   bool  `json:"running"`
			Processed int64 `json:"processed"`
		}
		return json.Unmarshal(env.Data, &st) == nil && !st.Running && st.Processed == 2
	}, 5*time.Second, 10*time.Millisecond)

	code, env := do(t, r, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Manifests int     `json:"manifests"`
		Cuts      int64   `json:"cuts"`
		Hours     float64 `json:"hours"`
		Splits    map[string]splitStats
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 2, stats.Manifests)
	assert.Equal(t, int64(3), stats.Cuts)
	assert.InDelta(t, 1.1, stats.Hours, 1e-9)
	assert.Equal(t, int64(2), stats.Splits["train"].Cuts)
	assert.InDelta(t, 0.1, stats.Splits["dev"].Hours, 1e-9)
}

func TestSamplerStateEndpoints(t *testing.T) {
	r, database := newTestRouter(t, true)
	require.NoError(t, database.SaveSamplerState(context.Background(), &db.SamplerState{
		RunID: "run-1", Kind: "DynamicBucketingSampler", Epoch: 2, BatchesYielded: 7, State: []byte(`{"epoch":2}`),
	}))

	code, env := do(t, r, http.MethodGet, "/api/sampler-states/run-1")
	require.Equal(t, http.StatusOK, code)
	var st db.SamplerState
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 7, st.BatchesYielded)
	assert.JSONEq(t, `{"epoch":2}`, string(st.State))

	code, env = do(t, r, http.MethodGet, "/api/sampler-states")
	require.Equal(t, http.StatusOK, code)
	var list []db.SamplerState
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	code, _ = do(t, r, http.MethodDelete, "/api/sampler-states/run-1")
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, http.MethodGet, "/api/sampler-states/run-1")
	assert.Equal(t, http.StatusNotFound, code)
}
