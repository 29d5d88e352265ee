package metrics

import (
	"sync"

	"asr-datamodule/internal/dataset"
)

// BatchStats accumulates what a data loader emitted over a run.
type BatchStats struct {
	mu         sync.Mutex
	frameShift float64
	batches    int64
	cuts       int64
	realTokens int64
	padTokens  int64
	maxBatch   int
}

// Snapshot is a point-in-time copy of BatchStats.
type Snapshot struct {
	Batches      int64   `json:"batches"`
	Cuts         int64   `json:"cuts"`
	Seconds      float64 `json:"seconds"`
	RealTokens   int64   `json:"real_tokens"`
	PadTokens    int64   `json:"pad_tokens"`
	PaddingRatio float64 `json:"padding_ratio"`
	MaxBatchSize int     `json:"max_batch_size"`
}

func NewBatchStats(frameShift float64) *BatchStats {
	return &BatchStats{frameShift: frameShift}
}

// Observe records one batch. Padding is everything past InputLens[i] in the
// padded row.
func (s *BatchStats) Observe(b *dataset.Batch) {
	if b == nil {
		return
	}
	var real, padded int64
	for i, row := range b.Inputs {
		padded += int64(len(row))
		if i < len(b.InputLens) {
			real += int64(b.InputLens[i])
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.cuts += int64(len(b.Inputs))
	s.realTokens += real
	s.padTokens += padded - real
	if len(b.Inputs) > s.maxBatch {
		s.maxBatch = len(b.Inputs)
	}
}

func (s *BatchStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Batches:      s.batches,
		Cuts:         s.cuts,
		Seconds:      float64(s.realTokens) * s.frameShift,
		RealTokens:   s.realTokens,
		PadTokens:    s.padTokens,
		MaxBatchSize: s.maxBatch,
	}
	if total := s.realTokens + s.padTokens; total > 0 {
		snap.PaddingRatio = float64(s.padTokens) / float64(total)
	}
	return snap
}
