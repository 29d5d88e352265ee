// Package sampling groups cuts into batches bounded by their pooled duration.
package sampling

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"sync"

	"asr-datamodule/internal/cut"
)

// DefaultShuffleBufferSize is the number of cuts held back for streaming shuffles.
const DefaultShuffleBufferSize = 20000

// Sampler yields batches of cuts. Every call to Batches starts one epoch.
type Sampler interface {
	Batches() iter.Seq2[[]cut.Cut, error]
	SetEpoch(epoch int)
	StateDict() State
	LoadStateDict(State) error
}

// Options shared by every sampler.
type Options struct {
	MaxDuration       float64
	Shuffle           bool
	DropLast          bool
	Seed              uint64
	ShuffleBufferSize int
	WorldSize         int
	Rank              int
}

func (o *Options) normalize() error {
	if o.MaxDuration <= 0 {
		return fmt.Errorf("sampler: max duration must be positive, got %v", o.MaxDuration)
	}
	if o.ShuffleBufferSize <= 0 {
		o.ShuffleBufferSize = DefaultShuffleBufferSize
	}
	if o.WorldSize <= 0 {
		o.WorldSize = 1
	}
	if o.Rank < 0 || o.Rank >= o.WorldSize {
		return fmt.Errorf("sampler: rank %d outside world size %d", o.Rank, o.WorldSize)
	}
	return nil
}

// progress tracks epoch and batch counters shared by the sampler
// implementations. Batches run on the loader producer goroutine while
// StateDict may be called from the training loop.
type progress struct {
	mu      sync.Mutex
	epoch   int
	yielded int
	skip    int
}

func (p *progress) setEpoch(epoch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		p.epoch = epoch
		p.yielded = 0
		p.skip = 0
	}
}

func (p *progress) begin() (epoch, skip int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	skip = p.skip
	p.skip = 0
	p.yielded = skip
	return p.epoch, skip
}

func (p *progress) inc() {
	p.mu.Lock()
	p.yielded++
	p.mu.Unlock()
}

func (p *progress) snapshot() (epoch, yielded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch, p.yielded
}

func (p *progress) restore(epoch, yielded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch = epoch
	p.yielded = yielded
	p.skip = yielded
}

// emitBatches applies rank partitioning, resume fast-forwarding and progress
// accounting on top of a raw batch producer.
func emitBatches(opts Options, prog *progress, produce func(rng *rand.Rand, emit func([]cut.Cut) bool) error) iter.Seq2[[]cut.Cut, error] {
	return func(yield func([]cut.Cut, error) bool) {
		epoch, skip := prog.begin()
		rng := rand.New(rand.NewPCG(opts.Seed+uint64(epoch), 0))

		index := 0
		kept := 0
		stopped := false
		err := produce(rng, func(batch []cut.Cut) bool {
			mine := index%opts.WorldSize == opts.Rank
			index++
			if !mine {
				return true
			}
			kept++
			if kept <= skip {
				return true
			}
			prog.inc()
			if !yield(batch, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

func stateOf(kind string, opts Options, prog *progress, numBuckets int) State {
	epoch, yielded := prog.snapshot()
	return State{
		Kind:           kind,
		Epoch:          epoch,
		BatchesYielded: yielded,
		Seed:           opts.Seed,
		MaxDuration:    opts.MaxDuration,
		Shuffle:        opts.Shuffle,
		DropLast:       opts.DropLast,
		NumBuckets:     numBuckets,
		WorldSize:      opts.WorldSize,
		Rank:           opts.Rank,
	}
}

func loadState(kind string, opts *Options, prog *progress, st State) error {
	if st.Kind != kind {
		return fmt.Errorf("%w: have %s, state is for %s", ErrStateMismatch, kind, st.Kind)
	}
	if st.WorldSize > 0 && st.WorldSize != opts.WorldSize {
		return fmt.Errorf("%w: world size %d, state has %d", ErrStateMismatch, opts.WorldSize, st.WorldSize)
	}
	// Saved sampling parameters win so the restored epoch replays the same batches.
	opts.Seed = st.Seed
	opts.MaxDuration = st.MaxDuration
	opts.Shuffle = st.Shuffle
	opts.DropLast = st.DropLast
	prog.restore(st.Epoch, st.BatchesYielded)
	return nil
}

// streamCuts feeds the cuts to emit, through a shuffle buffer when shuffle is
// set. It stops early when emit returns false.
func streamCuts(cuts *cut.CutSet, shuffle bool, bufSize int, rng *rand.Rand, emit func(cut.Cut) bool) error {
	if !shuffle {
		for c, err := range cuts.All() {
			if err != nil {
				return err
			}
			if !emit(c) {
				return nil
			}
		}
		return nil
	}

	buf := make([]cut.Cut, 0, min(bufSize, 1024))
	for c, err := range cuts.All() {
		if err != nil {
			return err
		}
		if len(buf) < bufSize {
			buf = append(buf, c)
			continue
		}
		i := rng.IntN(len(buf))
		out := buf[i]
		buf[i] = c
		if !emit(out) {
			return nil
		}
	}
	rng.Shuffle(len(buf), func(i, j int) { buf[i], buf[j] = buf[j], buf[i] })
	for _, c := range buf {
		if !emit(c) {
			return nil
		}
	}
	return nil
}
