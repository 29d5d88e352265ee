// Package augment implements input transforms applied to batches of discrete
// speech tokens before they reach the model.
package augment

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// DefaultNumFrameMasks is the frame-mask count used when none is configured.
const DefaultNumFrameMasks = 10

// DefaultP is the per-sequence probability of applying the augmentation.
const DefaultP = 0.9

// DefaultMaxFramesMaskFraction caps the share of frames a single sequence may
// lose to frame masks.
const DefaultMaxFramesMaskFraction = 0.15

// Transform mutates a padded batch in place. inputs[i][:lens[i]] holds the
// valid tokens of sequence i.
type Transform interface {
	Apply(inputs [][]int, lens []int, rng *rand.Rand)
	fmt.Stringer
}

// DiscretizedInputAugment is a SpecAugment-style policy for token sequences:
// time warping along the sequence axis, contiguous frame masks, and masks over
// ranges of token ids (the discrete counterpart of frequency masks).
type DiscretizedInputAugment struct {
	TokenType             string
	TimeWarpFactor        int
	NumFrameMasks         int
	FramesMaskSize        int
	MaxFramesMaskFraction float64
	NumTokenMasks         int
	TokensMaskSize        int
	NumTokens             int
	MaskID                int
	P                     float64
}

func (a *DiscretizedInputAugment) String() string {
	return fmt.Sprintf("DiscretizedInputAugment(token_type=%s, time_warp_factor=%d, num_frame_masks=%d, frames_mask_size=%d, num_token_masks=%d, tokens_mask_size=%d, p=%.2f)",
		a.TokenType, a.TimeWarpFactor, a.NumFrameMasks, a.FramesMaskSize, a.NumTokenMasks, a.TokensMaskSize, a.P)
}

// Validate checks the policy parameters.
func (a *DiscretizedInputAugment) Validate() error {
	switch {
	case a.NumFrameMasks < 0, a.FramesMaskSize < 0, a.NumTokenMasks < 0, a.TokensMaskSize < 0:
		return fmt.Errorf("augment: mask counts and sizes must be non-negative")
	case a.P < 0 || a.P > 1:
		return fmt.Errorf("augment: p must be in [0, 1], got %v", a.P)
	case a.NumTokenMasks > 0 && a.NumTokens <= 0:
		return fmt.Errorf("augment: token masks need a vocabulary size")
	case a.MaxFramesMaskFraction < 0 || a.MaxFramesMaskFraction > 1:
		return fmt.Errorf("augment: max frames mask fraction must be in [0, 1], got %v", a.MaxFramesMaskFraction)
	}
	return nil
}

// Apply augments every sequence independently.
func (a *DiscretizedInputAugment) Apply(inputs [][]int, lens []int, rng *rand.Rand) {
	for i := range inputs {
		n := lens[i]
		if n <= 0 || rng.Float64() >= a.P {
			continue
		}
		seq := inputs[i][:n]
		if a.TimeWarpFactor >= 1 {
			timeWarp(seq, a.TimeWarpFactor, rng)
		}
		a.maskTokens(seq, rng)
		a.maskFrames(seq, rng)
	}
}

// timeWarp picks a center frame and moves it by up to factor frames,
// stretching one side and compressing the other with nearest-neighbour
// resampling. Sequences too short to warp are left untouched.
func timeWarp(seq []int, factor int, rng *rand.Rand) {
	n := len(seq)
	if n-factor <= factor+1 {
		return
	}
	center := factor + rng.IntN(n-2*factor)
	warped := center - factor + rng.IntN(2*factor+1)
	if warped <= 0 || warped >= n || warped == center {
		return
	}

	orig := append([]int(nil), seq...)
	resample(seq[:warped], orig[:center])
	resample(seq[warped:], orig[center:])
}

func resample(dst, src []int) {
	if len(src) == 0 {
		return
	}
	scale := float64(len(src)) / float64(len(dst))
	for i := range dst {
		j := int(float64(i) * scale)
		if j >= len(src) {
			j = len(src) - 1
		}
		dst[i] = src[j]
	}
}

func (a *DiscretizedInputAugment) maskTokens(seq []int, rng *rand.Rand) {
	if a.NumTokenMasks == 0 || a.TokensMaskSize == 0 {
		return
	}
	for m := 0; m < a.NumTokenMasks; m++ {
		width := rng.IntN(a.TokensMaskSize + 1)
		if width == 0 || width > a.NumTokens {
			continue
		}
		lo := rng.IntN(a.NumTokens - width + 1)
		hi := lo + width
		for i, tok := range seq {
			if tok >= lo && tok < hi {
				seq[i] = a.MaskID
			}
		}
	}
}

func (a *DiscretizedInputAugment) maskFrames(seq []int, rng *rand.Rand) {
	if a.NumFrameMasks == 0 || a.FramesMaskSize == 0 {
		return
	}
	n := len(seq)
	maxWidth := a.FramesMaskSize
	if a.MaxFramesMaskFraction > 0 {
		budget := int(math.Ceil(a.MaxFramesMaskFraction * float64(n) / float64(a.NumFrameMasks)))
		maxWidth = min(maxWidth, budget)
	}
	maxWidth = min(maxWidth, n)
	if maxWidth <= 0 {
		return
	}
	for m := 0; m < a.NumFrameMasks; m++ {
		width := rng.IntN(maxWidth + 1)
		if width == 0 {
			continue
		}
		start := rng.IntN(n - width + 1)
		for i := start; i < start+width; i++ {
			seq[i] = a.MaskID
		}
	}
}
