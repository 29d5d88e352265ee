package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"asr-datamodule/internal/config"
	"asr-datamodule/internal/db"
	"asr-datamodule/internal/scanner"
	"asr-datamodule/internal/service"
)

type Handlers struct {
	db      *db.DB
	counter *service.Counter
	data    config.DataConfig
}

func NewHandlers(database *db.DB, counter *service.Counter, data config.DataConfig) *Handlers {
	return &Handlers{
		db:      database,
		counter: counter,
		data:    data,
	}
}

type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *Handlers) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) success(w http.ResponseWriter, data any) {
	h.json(w, http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handlers) error(w http.ResponseWriter, status int, msg string) {
	h.json(w, status, Response{Success: false, Error: msg})
}

func (h *Handlers) requireDB(w http.ResponseWriter) bool {
	if h.db == nil {
		h.error(w, http.StatusServiceUnavailable, "database disabled")
		return false
	}
	return true
}

// === Health handlers ===

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.success(w, map[string]any{
		"status":   "ok",
		"database": h.db != nil,
	})
}

func (h *Handlers) Options(w http.ResponseWriter, r *http.Request) {
	h.success(w, h.data)
}

// === Stats handlers ===

type splitStats struct {
	Manifests int     `json:"manifests"`
	Cuts      int64   `json:"cuts"`
	Hours     float64 `json:"hours"`
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	stats, err := h.db.ListManifestStatsCached(r.Context())
	if err != nil {
		h.error(w, http.StatusInternalServerError, err.Error())
		return
	}

	splits := map[string]*splitStats{}
	var cuts int64
	var seconds float64
	for _, ms := range stats {
		cuts += ms.NumCuts
		seconds += ms.TotalDuration

		split := "other"
		if m, ok := scanner.ParseManifestName(filepath.Base(ms.Path)); ok {
			split = m.Split
		}
		s, ok := splits[split]
		if !ok {
			s = &splitStats{}
			splits[split] = s
		}
		s.Manifests++
		s.Cuts += ms.NumCuts
		s.Hours += ms.TotalDuration / 3600
	}

	h.success(w, map[string]any{
		"manifests": len(stats),
		"cuts":      cuts,
		"hours":     seconds / 3600,
		"splits":    splits,
	})
}

func (h *Handlers) ManifestsList(w http.ResponseWriter, r *http.Request) {
	manifests, err := scanner.ScanManifests(h.data.ManifestDir)
	if err != nil {
		h.error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.success(w, manifests)
}

// === Count handlers ===

func (h *Handlers) CountStart(w http.ResponseWriter, r *http.Request) {
	workers, _ := strconv.Atoi(r.URL.Query().Get("workers"))

	// the count outlives the request
	if err := h.counter.Start(context.Background(), workers); err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.success(w, map[string]any{
		"message": "Count started",
		"workers": workers,
	})
}

func (h *Handlers) CountStatus(w http.ResponseWriter, r *http.Request) {
	h.success(w, h.counter.Status())
}

func (h *Handlers) CountStop(w http.ResponseWriter, r *http.Request) {
	h.counter.Stop()
	h.success(w, "Count stopped")
}

// === Sampler state handlers ===

func (h *Handlers) SamplerStatesList(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	states, err := h.db.ListSamplerStates(r.Context(), limit)
	if err != nil {
		h.error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.success(w, states)
}

func (h *Handlers) SamplerStateGet(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	st, err := h.db.GetSamplerState(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		h.error(w, http.StatusNotFound, "sampler state not found")
		return
	}
	if err != nil {
		h.error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.success(w, st)
}

func (h *Handlers) SamplerStateDelete(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	if err := h.db.DeleteSamplerState(r.Context(), r.PathValue("id")); err != nil {
		h.error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.success(w, "Deleted")
}
