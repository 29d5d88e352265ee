// Package loader runs a dataset over sampler batches with a pool of workers.
package loader

import (
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"

	"asr-datamodule/internal/cut"
	"asr-datamodule/internal/dataset"
	"asr-datamodule/internal/sampling"
)

// DefaultPrefetch is the number of batches buffered per worker.
const DefaultPrefetch = 2

// Collator turns the cuts of one sampler batch into a dataset batch.
type Collator interface {
	Collate(cuts []cut.Cut, rng *rand.Rand) (*dataset.Batch, error)
}

// WorkerSeed derives the seed of a worker from the loader base seed.
func WorkerSeed(base uint64, workerID int) uint64 {
	return base + uint64(workerID)
}

// SeedWorkers gives every worker an independent but reproducible seed:
// Seed + worker id.
type SeedWorkers struct {
	Seed uint64
}

// WorkerSeed returns the seed for workerID.
func (s SeedWorkers) WorkerSeed(workerID int) uint64 {
	return WorkerSeed(s.Seed, workerID)
}

// ResolveWorkers maps a negative worker count to the number of physical cores.
func ResolveWorkers(n int) int {
	if n >= 0 {
		return n
	}
	if cores := cpuid.CPU.PhysicalCores; cores > 0 {
		return cores
	}
	return runtime.NumCPU()
}

// Options configures a DataLoader.
type Options struct {
	NumWorkers int
	// WorkerInit seeds the workers. Without it every iteration draws a fresh
	// random base seed.
	WorkerInit *SeedWorkers
	Prefetch   int
}

// DataLoader yields collated batches in sampler order. Batches are formed by
// the sampler; the loader never re-batches.
type DataLoader struct {
	dataset    Collator
	sampler    sampling.Sampler
	numWorkers int
	workerInit *SeedWorkers
	prefetch   int
}

// New builds a loader. Workers are started per iteration and stopped when it ends.
func New(ds Collator, sampler sampling.Sampler, opts Options) *DataLoader {
	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return &DataLoader{
		dataset:    ds,
		sampler:    sampler,
		numWorkers: ResolveWorkers(opts.NumWorkers),
		workerInit: opts.WorkerInit,
		prefetch:   prefetch,
	}
}

// Sampler exposes the sampler, for epoch selection and checkpointing.
func (l *DataLoader) Sampler() sampling.Sampler {
	return l.sampler
}

// Dataset returns the collator.
func (l *DataLoader) Dataset() Collator {
	return l.dataset
}

// NumWorkers returns the resolved worker count.
func (l *DataLoader) NumWorkers() int {
	return l.numWorkers
}

// WorkerInit returns the worker seeding policy, nil when unseeded.
func (l *DataLoader) WorkerInit() *SeedWorkers {
	return l.workerInit
}

func (l *DataLoader) baseSeed() uint64 {
	if l.workerInit != nil {
		return l.workerInit.Seed
	}
	return rand.Uint64()
}

// Iter runs one pass over the sampler. Batch i is collated by worker
// i % NumWorkers with that worker's RNG, so output is reproducible for a
// fixed seed and worker count. With zero workers batches are collated in
// the calling goroutine. Iteration ends at the first error.
func (l *DataLoader) Iter(ctx context.Context) iter.Seq2[*dataset.Batch, error] {
	if l.numWorkers == 0 {
		return l.iterInline(ctx)
	}
	return func(yield func(*dataset.Batch, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		n := l.numWorkers
		base := l.baseSeed()
		g, gctx := errgroup.WithContext(ctx)

		inputs := make([]chan []cut.Cut, n)
		outputs := make([]chan *dataset.Batch, n)
		for w := range n {
			inputs[w] = make(chan []cut.Cut, l.prefetch)
			outputs[w] = make(chan *dataset.Batch, l.prefetch)
		}

		g.Go(func() error {
			defer func() {
				for _, in := range inputs {
					close(in)
				}
			}()
			i := 0
			for cuts, err := range l.sampler.Batches() {
				if err != nil {
					return err
				}
				select {
				case inputs[i%n] <- cuts:
				case <-gctx.Done():
					return gctx.Err()
				}
				i++
			}
			return nil
		})

		for w := range n {
			g.Go(func() error {
				defer close(outputs[w])
				rng := rand.New(rand.NewPCG(WorkerSeed(base, w), 0))
				for cuts := range inputs[w] {
					b, err := l.dataset.Collate(cuts, rng)
					if err != nil {
						return err
					}
					select {
					case outputs[w] <- b:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}

		for i := 0; ; i++ {
			b, ok := <-outputs[i%n]
			if !ok {
				break
			}
			if !yield(b, nil) {
				cancel()
				_ = g.Wait()
				return
			}
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				return
			}
			yield(nil, err)
		}
	}
}

func (l *DataLoader) iterInline(ctx context.Context) iter.Seq2[*dataset.Batch, error] {
	return func(yield func(*dataset.Batch, error) bool) {
		rng := rand.New(rand.NewPCG(l.baseSeed(), 0))
		for cuts, err := range l.sampler.Batches() {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(nil, err)
				return
			}
			b, err := l.dataset.Collate(cuts, rng)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}
