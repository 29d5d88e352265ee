package cut

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"strings"
)

// Mux interleaves several cut sets into a single stream. At every step one of
// the sources that still has cuts is drawn with probability proportional to
// its weight. The stream ends when every source is exhausted. Iterating the
// result twice yields the same order.
func Mux(seed uint64, sets []*CutSet, weights []float64) (*CutSet, error) {
	if len(sets) == 0 {
		return nil, errors.New("mux: no cut sets")
	}
	if weights == nil {
		weights = make([]float64, len(sets))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(sets) {
		return nil, fmt.Errorf("mux: %d cut sets but %d weights", len(sets), len(weights))
	}
	for i, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("mux: weight %d must be positive, got %v", i, w)
		}
	}

	names := make([]string, len(sets))
	for i, s := range sets {
		names[i] = s.desc
	}
	srcs := append([]*CutSet(nil), sets...)
	ws := append([]float64(nil), weights...)

	return &CutSet{
		desc: "mux(" + strings.Join(names, ", ") + ")",
		seq: func(yield func(Cut, error) bool) {
			rng := rand.New(rand.NewPCG(seed, 0))

			type source struct {
				next   func() (Cut, error, bool)
				stop   func()
				weight float64
			}
			active := make([]*source, 0, len(srcs))
			for i, s := range srcs {
				next, stop := iter.Pull2(s.seq)
				active = append(active, &source{next: next, stop: stop, weight: ws[i]})
			}
			defer func() {
				for _, s := range active {
					s.stop()
				}
			}()

			for len(active) > 0 {
				var total float64
				for _, s := range active {
					total += s.weight
				}
				pick := len(active) - 1
				r := rng.Float64() * total
				for i, s := range active {
					if r < s.weight {
						pick = i
						break
					}
					r -= s.weight
				}

				src := active[pick]
				c, err, ok := src.next()
				if !ok {
					src.stop()
					active = append(active[:pick], active[pick+1:]...)
					continue
				}
				if err != nil {
					yield(Cut{}, err)
					return
				}
				if !yield(c, nil) {
					return
				}
			}
		},
	}, nil
}
