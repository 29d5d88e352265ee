package cut

import (
	"fmt"
	"iter"
)

// CutSet is an ordered, possibly lazy, collection of cuts. Lazy sets
// re-read their source every time they are iterated, so a CutSet can be
// shared and iterated once per epoch.
type CutSet struct {
	desc string
	seq  iter.Seq2[Cut, error]
}

// New wraps an iterator as a CutSet. The iterator must be restartable.
func New(desc string, seq iter.Seq2[Cut, error]) *CutSet {
	return &CutSet{desc: desc, seq: seq}
}

// FromCuts builds an eager CutSet over an in-memory slice.
func FromCuts(cuts []Cut) *CutSet {
	owned := append([]Cut(nil), cuts...)
	return &CutSet{
		desc: fmt.Sprintf("cuts(%d)", len(owned)),
		seq: func(yield func(Cut, error) bool) {
			for _, c := range owned {
				if !yield(c, nil) {
					return
				}
			}
		},
	}
}

func (s *CutSet) String() string {
	return s.desc
}

// All iterates the cuts. Iteration stops after the first error.
func (s *CutSet) All() iter.Seq2[Cut, error] {
	return s.seq
}

// Subset returns a lazy view over the first n cuts.
func (s *CutSet) Subset(first int) *CutSet {
	parent := s.seq
	return &CutSet{
		desc: fmt.Sprintf("%s[:%d]", s.desc, first),
		seq: func(yield func(Cut, error) bool) {
			if first <= 0 {
				return
			}
			n := 0
			for c, err := range parent {
				if !yield(c, err) || err != nil {
					return
				}
				n++
				if n >= first {
					return
				}
			}
		},
	}
}

// Filter returns a lazy view with the cuts for which keep returns true.
func (s *CutSet) Filter(keep func(Cut) bool) *CutSet {
	parent := s.seq
	return &CutSet{
		desc: s.desc + ".filter",
		seq: func(yield func(Cut, error) bool) {
			for c, err := range parent {
				if err != nil {
					yield(Cut{}, err)
					return
				}
				if keep(c) && !yield(c, nil) {
					return
				}
			}
		},
	}
}

// Collect materializes the set.
func (s *CutSet) Collect() ([]Cut, error) {
	var cuts []Cut
	for c, err := range s.seq {
		if err != nil {
			return nil, err
		}
		cuts = append(cuts, c)
	}
	return cuts, nil
}

// Len counts the cuts by iterating the set.
func (s *CutSet) Len() (int, error) {
	n := 0
	for _, err := range s.seq {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
