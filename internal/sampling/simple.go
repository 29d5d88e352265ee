package sampling

import (
	"iter"
	"math/rand/v2"

	"asr-datamodule/internal/cut"
)

// SimpleCutSampler batches cuts in stream order (optionally shuffled) until
// the next cut would exceed MaxDuration.
type SimpleCutSampler struct {
	cuts *cut.CutSet
	opts Options
	prog progress
}

// NewSimpleCutSampler validates opts and binds them to cuts.
func NewSimpleCutSampler(cuts *cut.CutSet, opts Options) (*SimpleCutSampler, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &SimpleCutSampler{cuts: cuts, opts: opts}, nil
}

func (s *SimpleCutSampler) Batches() iter.Seq2[[]cut.Cut, error] {
	return emitBatches(s.opts, &s.prog, func(rng *rand.Rand, emit func([]cut.Cut) bool) error {
		b := newBucketer(nil, s.opts.MaxDuration)
		stopped := false
		err := streamCuts(s.cuts, s.opts.Shuffle, s.opts.ShuffleBufferSize, rng, func(c cut.Cut) bool {
			if batch := b.add(c); batch != nil && !emit(batch) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil || stopped || s.opts.DropLast {
			return err
		}
		for _, batch := range b.flush() {
			if !emit(batch) {
				return nil
			}
		}
		return nil
	})
}

func (s *SimpleCutSampler) SetEpoch(epoch int) {
	s.prog.setEpoch(epoch)
}

func (s *SimpleCutSampler) StateDict() State {
	return stateOf(KindSimpleCut, s.opts, &s.prog, 0)
}

func (s *SimpleCutSampler) LoadStateDict(st State) error {
	return loadState(KindSimpleCut, &s.opts, &s.prog, st)
}
