package sampling

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"sort"
	"sync"

	"asr-datamodule/internal/cut"
)

// DefaultNumCutsForBinsEstimate bounds how many cuts are read to estimate
// duration bucket boundaries.
const DefaultNumCutsForBinsEstimate = 10000

// BucketingOptions configures a DynamicBucketingSampler.
type BucketingOptions struct {
	Options
	NumBuckets             int
	NumCutsForBinsEstimate int
	// DurationBins overrides the estimated bucket boundaries when set.
	DurationBins []float64
}

// DynamicBucketingSampler streams cuts into duration buckets so that every
// batch holds cuts of similar length. A bucket emits a batch as soon as the
// next cut would push its pooled duration past MaxDuration.
type DynamicBucketingSampler struct {
	cuts *cut.CutSet
	opts BucketingOptions
	prog progress

	binsOnce sync.Once
	bins     []float64
	binsErr  error
}

// NewDynamicBucketingSampler validates opts and binds them to cuts.
func NewDynamicBucketingSampler(cuts *cut.CutSet, opts BucketingOptions) (*DynamicBucketingSampler, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if opts.NumBuckets <= 0 {
		return nil, fmt.Errorf("sampler: num buckets must be positive, got %d", opts.NumBuckets)
	}
	if opts.NumCutsForBinsEstimate <= 0 {
		opts.NumCutsForBinsEstimate = DefaultNumCutsForBinsEstimate
	}
	s := &DynamicBucketingSampler{cuts: cuts, opts: opts}
	if len(opts.DurationBins) > 0 {
		bins := append([]float64(nil), opts.DurationBins...)
		sort.Float64s(bins)
		s.binsOnce.Do(func() { s.bins = bins })
	}
	return s, nil
}

// DurationBins returns the bucket upper boundaries, estimating them on first use.
func (s *DynamicBucketingSampler) DurationBins() ([]float64, error) {
	s.binsOnce.Do(func() {
		s.bins, s.binsErr = EstimateDurationBins(s.cuts, s.opts.NumBuckets, s.opts.NumCutsForBinsEstimate)
	})
	return s.bins, s.binsErr
}

// Batches iterates one epoch.
func (s *DynamicBucketingSampler) Batches() iter.Seq2[[]cut.Cut, error] {
	return emitBatches(s.opts.Options, &s.prog, func(rng *rand.Rand, emit func([]cut.Cut) bool) error {
		bins, err := s.DurationBins()
		if err != nil {
			return err
		}
		b := newBucketer(bins, s.opts.MaxDuration)
		stopped := false
		err = streamCuts(s.cuts, s.opts.Shuffle, s.opts.ShuffleBufferSize, rng, func(c cut.Cut) bool {
			if batch := b.add(c); batch != nil && !emit(batch) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil || stopped || s.opts.DropLast {
			return err
		}
		rest := b.flush()
		if s.opts.Shuffle {
			rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		}
		for _, batch := range rest {
			if !emit(batch) {
				return nil
			}
		}
		return nil
	})
}

// SetEpoch selects the epoch used to seed shuffling.
func (s *DynamicBucketingSampler) SetEpoch(epoch int) {
	s.prog.setEpoch(epoch)
}

// StateDict snapshots the sampler progress.
func (s *DynamicBucketingSampler) StateDict() State {
	return stateOf(KindDynamicBucketing, s.opts.Options, &s.prog, s.opts.NumBuckets)
}

// LoadStateDict restores progress saved by StateDict.
func (s *DynamicBucketingSampler) LoadStateDict(st State) error {
	if st.NumBuckets > 0 && st.NumBuckets != s.opts.NumBuckets {
		return fmt.Errorf("%w: %d buckets, state has %d", ErrStateMismatch, s.opts.NumBuckets, st.NumBuckets)
	}
	return loadState(KindDynamicBucketing, &s.opts.Options, &s.prog, st)
}

// EstimateDurationBins reads up to limit cuts and returns numBuckets-1
// boundaries that split the observed durations into buckets of roughly
// equal total duration.
func EstimateDurationBins(cuts *cut.CutSet, numBuckets, limit int) ([]float64, error) {
	if numBuckets <= 1 {
		return nil, nil
	}
	var durs []float64
	for c, err := range cuts.Subset(limit).All() {
		if err != nil {
			return nil, fmt.Errorf("estimate duration bins: %w", err)
		}
		durs = append(durs, c.Duration)
	}
	if len(durs) == 0 {
		return nil, nil
	}
	sort.Float64s(durs)

	var total float64
	for _, d := range durs {
		total += d
	}
	per := total / float64(numBuckets)

	bins := make([]float64, 0, numBuckets-1)
	var acc float64
	for _, d := range durs {
		acc += d
		if acc >= per*float64(len(bins)+1) && len(bins) < numBuckets-1 {
			if len(bins) == 0 || d > bins[len(bins)-1] {
				bins = append(bins, d)
			}
		}
	}
	return bins, nil
}

// bucketer accumulates cuts per duration bucket. A nil bins slice gives a
// single bucket.
type bucketer struct {
	bins    []float64
	max     float64
	buckets [][]cut.Cut
	sums    []float64
}

func newBucketer(bins []float64, maxDuration float64) *bucketer {
	n := len(bins) + 1
	return &bucketer{
		bins:    bins,
		max:     maxDuration,
		buckets: make([][]cut.Cut, n),
		sums:    make([]float64, n),
	}
}

func (b *bucketer) index(d float64) int {
	return sort.Search(len(b.bins), func(i int) bool { return d <= b.bins[i] })
}

// add places c in its bucket and returns a full batch when c did not fit.
func (b *bucketer) add(c cut.Cut) []cut.Cut {
	i := b.index(c.Duration)
	var out []cut.Cut
	if len(b.buckets[i]) > 0 && b.sums[i]+c.Duration > b.max {
		out = b.buckets[i]
		b.buckets[i] = nil
		b.sums[i] = 0
	}
	b.buckets[i] = append(b.buckets[i], c)
	b.sums[i] += c.Duration
	return out
}

// flush returns the partially filled buckets in bucket order.
func (b *bucketer) flush() [][]cut.Cut {
	var out [][]cut.Cut
	for i, bucket := range b.buckets {
		if len(bucket) > 0 {
			out = append(out, bucket)
			b.buckets[i] = nil
			b.sums[i] = 0
		}
	}
	return out
}
