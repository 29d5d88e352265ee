package sampling

import (
	"errors"
	"fmt"
)

// ErrStateMismatch is returned when a saved state belongs to a different
// kind of sampler.
var ErrStateMismatch = errors.New("sampler state mismatch")

// Sampler kinds recorded in State.Kind.
const (
	KindDynamicBucketing = "DynamicBucketingSampler"
	KindSimpleCut        = "SimpleCutSampler"
)

// State is the resumable progress of a sampler. Restoring it makes the next
// iteration skip the batches that were already handed out in that epoch.
type State struct {
	Kind           string  `json:"kind"`
	Epoch          int     `json:"epoch"`
	BatchesYielded int     `json:"batches_yielded"`
	Seed           uint64  `json:"seed"`
	MaxDuration    float64 `json:"max_duration"`
	Shuffle        bool    `json:"shuffle"`
	DropLast       bool    `json:"drop_last"`
	NumBuckets     int     `json:"num_buckets,omitempty"`
	WorldSize      int     `json:"world_size"`
	Rank           int     `json:"rank"`
}

func (s State) String() string {
	return fmt.Sprintf("%s(epoch=%d, batches_yielded=%d)", s.Kind, s.Epoch, s.BatchesYielded)
}
