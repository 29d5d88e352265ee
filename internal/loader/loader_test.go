package loader

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"asr-datamodule/internal/cut"
	"asr-datamodule/internal/dataset"
	"asr-datamodule/internal/sampling"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// draw records the batch cut ids and one draw from the worker RNG.
type draw struct {
	failOn string
}

func (d draw) Collate(cuts []cut.Cut, rng *rand.Rand) (*dataset.Batch, error) {
	b := &dataset.Batch{}
	for _, c := range cuts {
		if c.ID == d.failOn {
			return nil, fmt.Errorf("collate %s: boom", c.ID)
		}
		b.Supervisions.Text = append(b.Supervisions.Text, c.ID)
	}
	b.InputLens = []int{rng.IntN(1 << 30)}
	return b, nil
}

func sampler(t *testing.T, n int) sampling.Sampler {
	t.Helper()
	cuts := make([]cut.Cut, n)
	for i := range cuts {
		cuts[i] = cut.Cut{ID: fmt.Sprintf("c%03d", i), Duration: 1}
	}
	s, err := sampling.NewSimpleCutSampler(cut.FromCuts(cuts), sampling.Options{MaxDuration: 3})
	require.NoError(t, err)
	return s
}

func run(t *testing.T, l *DataLoader) []*dataset.Batch {
	t.Helper()
	var out []*dataset.Batch
	for b, err := range l.Iter(context.Background()) {
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestWorkerSeedIsBasePlusID(t *testing.T) {
	for _, id := range []int{0, 1, 2, 7} {
		assert.Equal(t, uint64(42+id), WorkerSeed(42, id))
		assert.Equal(t, uint64(42+id), SeedWorkers{Seed: 42}.WorkerSeed(id))
	}
}

func TestIterPreservesSamplerOrder(t *testing.T) {
	l := New(draw{}, sampler(t, 30), Options{NumWorkers: 4, WorkerInit: &SeedWorkers{Seed: 42}})
	batches := run(t, l)
	require.Len(t, batches, 10)

	var ids []string
	for _, b := range batches {
		ids = append(ids, b.Supervisions.Text...)
	}
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("c%03d", i), id)
	}
}

func TestIterIsReproducibleWithSeededWorkers(t *testing.T) {
	mk := func() *DataLoader {
		return New(draw{}, sampler(t, 60), Options{NumWorkers: 3, WorkerInit: &SeedWorkers{Seed: 42}})
	}
	a := run(t, mk())
	b := run(t, mk())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("runs differ (-first +second):\n%s", diff)
	}

	// Batch i is collated by worker i%3 using seed 42+i%3.
	rngs := []*rand.Rand{
		rand.New(rand.NewPCG(42, 0)),
		rand.New(rand.NewPCG(43, 0)),
		rand.New(rand.NewPCG(44, 0)),
	}
	for i, batch := range a {
		assert.Equal(t, rngs[i%3].IntN(1<<30), batch.InputLens[0], "batch %d", i)
	}
}

func TestIterInline(t *testing.T) {
	l := New(draw{}, sampler(t, 9), Options{NumWorkers: 0, WorkerInit: &SeedWorkers{Seed: 42}})
	batches := run(t, l)
	require.Len(t, batches, 3)
	rng := rand.New(rand.NewPCG(42, 0))
	for _, b := range batches {
		assert.Equal(t, rng.IntN(1<<30), b.InputLens[0])
	}
}

func TestIterStopsOnCollateError(t *testing.T) {
	for _, workers := range []int{0, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			l := New(draw{failOn: "c010"}, sampler(t, 30), Options{NumWorkers: workers})
			var got int
			var gotErr error
			for _, err := range l.Iter(context.Background()) {
				if err != nil {
					gotErr = err
					break
				}
				got++
			}
			require.Error(t, gotErr)
			assert.Contains(t, gotErr.Error(), "boom")
			assert.LessOrEqual(t, got, 3)
		})
	}
}

func TestIterEarlyBreakStopsWorkers(t *testing.T) {
	l := New(draw{}, sampler(t, 300), Options{NumWorkers: 4})
	n := 0
	for _, err := range l.Iter(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestIterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{0, 3} {
		l := New(draw{}, sampler(t, 300), Options{NumWorkers: workers})
		var last error
		for _, err := range l.Iter(ctx) {
			if err != nil {
				last = err
			}
		}
		assert.True(t, errors.Is(last, context.Canceled), "workers=%d: %v", workers, last)
	}
}

func TestResolveWorkers(t *testing.T) {
	assert.Equal(t, 2, ResolveWorkers(2))
	assert.Equal(t, 0, ResolveWorkers(0))
	assert.Positive(t, ResolveWorkers(-1))
}
