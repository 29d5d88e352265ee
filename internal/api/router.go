package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"asr-datamodule/internal/config"
	"asr-datamodule/internal/db"
	"asr-datamodule/internal/service"
)

type Router struct {
	mux      *http.ServeMux
	handlers *Handlers
	logger   *zap.Logger
}

// NewRouter wires the manifest counter and the stats endpoints. database may
// be nil, in which case the stats and sampler-state endpoints answer 503.
func NewRouter(cfg *config.Config, database *db.DB, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := service.NewCounter(database, cfg.Data.ManifestDir, cfg.Workers.Count, logger.Named("counter"))
	logger.Info("Counter ready",
		zap.String("dir", cfg.Data.ManifestDir),
		zap.Int("workers", cfg.Workers.Count))

	r := &Router{
		mux:      http.NewServeMux(),
		handlers: NewHandlers(database, counter, cfg.Data),
		logger:   logger,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	// Health
	r.mux.HandleFunc("GET /api/health", r.handlers.Health)
	r.mux.HandleFunc("GET /api/options", r.handlers.Options)

	// Stats
	r.mux.HandleFunc("GET /api/stats", r.handlers.Stats)
	r.mux.HandleFunc("GET /api/manifests", r.handlers.ManifestsList)

	// Count
	r.mux.HandleFunc("POST /api/count/start", r.handlers.CountStart)
	r.mux.HandleFunc("GET /api/count/status", r.handlers.CountStatus)
	r.mux.HandleFunc("POST /api/count/stop", r.handlers.CountStop)

	// Sampler checkpoints
	r.mux.HandleFunc("GET /api/sampler-states", r.handlers.SamplerStatesList)
	r.mux.HandleFunc("GET /api/sampler-states/{id}", r.handlers.SamplerStateGet)
	r.mux.HandleFunc("DELETE /api/sampler-states/{id}", r.handlers.SamplerStateDelete)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)

	r.logger.Debug("Request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("query", req.URL.RawQuery),
		zap.Duration("took", time.Since(start)))
}
