// Package dataset turns sampled cuts into padded batches of discrete speech
// tokens with their supervisions.
package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"asr-datamodule/internal/augment"
	"asr-datamodule/internal/cut"
)

// Input strategies understood by the data module. Discrete-token datasets read
// precomputed tokens regardless, the value is carried through for consumers.
const (
	AudioSamples        = "AudioSamples"
	PrecomputedFeatures = "PrecomputedFeatures"
)

// FrameShift returns the token frame shift in seconds for a token type.
func FrameShift(tokenType string) (float64, error) {
	switch strings.ToLower(tokenType) {
	case "wavlm", "hubert", "data2vec":
		return 0.02, nil
	case "encodec":
		return 1.0 / 75, nil
	}
	return 0, fmt.Errorf("unknown token type %q", tokenType)
}

// Supervisions describes the transcripts of a batch. Index i of every slice
// refers to the same supervision segment.
type Supervisions struct {
	Text        []string
	SequenceIdx []int
	StartFrame  []int
	NumFrames   []int
	Cuts        []cut.Cut
}

// Batch is one collated mini-batch. FrequencySize is the per-token
// embedding width the model is expected to project the ids to.
type Batch struct {
	Inputs        [][]int
	InputLens     []int
	Supervisions  Supervisions
	InputStrategy string
	FrequencySize int
}

// Duration returns the pooled duration of the batch in seconds.
func (b *Batch) Duration(frameShift float64) float64 {
	var total int
	for _, n := range b.InputLens {
		total += n
	}
	return float64(total) * frameShift
}

// DiscretizedInputSpeechRecognitionDataset reads token sequences from a cut
// custom field and collates them into a Batch.
type DiscretizedInputSpeechRecognitionDataset struct {
	Field         string
	NumTokens     int
	FrequencySize int
	TokenType     string
	InputStrategy string
	Transforms    []augment.Transform
	ReturnCuts    bool

	frameShift float64
}

// New validates the dataset options.
func New(d DiscretizedInputSpeechRecognitionDataset) (*DiscretizedInputSpeechRecognitionDataset, error) {
	if d.Field == "" {
		return nil, fmt.Errorf("dataset: empty token field")
	}
	if d.NumTokens <= 0 {
		return nil, fmt.Errorf("dataset: num tokens must be positive, got %d", d.NumTokens)
	}
	if d.FrequencySize < 0 {
		return nil, fmt.Errorf("dataset: frequency size must not be negative, got %d", d.FrequencySize)
	}
	shift, err := FrameShift(d.TokenType)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	d.frameShift = shift
	return &d, nil
}

// PadID is the id written into padded positions.
func (d *DiscretizedInputSpeechRecognitionDataset) PadID() int {
	return d.NumTokens
}

// FrameShift returns the token frame shift in seconds.
func (d *DiscretizedInputSpeechRecognitionDataset) FrameShift() float64 {
	return d.frameShift
}

// Collate builds a batch from sampled cuts. Cuts are ordered by decreasing
// duration, inputs padded with PadID, and the configured transforms applied
// using rng.
func (d *DiscretizedInputSpeechRecognitionDataset) Collate(cuts []cut.Cut, rng *rand.Rand) (*Batch, error) {
	if len(cuts) == 0 {
		return nil, fmt.Errorf("dataset: empty batch")
	}
	sorted := append([]cut.Cut(nil), cuts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration > sorted[j].Duration
	})

	seqs := make([][]int, len(sorted))
	maxLen := 0
	for i, c := range sorted {
		toks, err := d.tokens(c)
		if err != nil {
			return nil, err
		}
		seqs[i] = toks
		maxLen = max(maxLen, len(toks))
	}

	b := &Batch{
		Inputs:        make([][]int, len(seqs)),
		InputLens:     make([]int, len(seqs)),
		InputStrategy: d.InputStrategy,
		FrequencySize: d.FrequencySize,
	}
	for i, toks := range seqs {
		row := make([]int, maxLen)
		n := copy(row, toks)
		for j := n; j < maxLen; j++ {
			row[j] = d.PadID()
		}
		b.Inputs[i] = row
		b.InputLens[i] = n
	}

	for _, tr := range d.Transforms {
		tr.Apply(b.Inputs, b.InputLens, rng)
	}

	for i, c := range sorted {
		for _, sup := range c.Supervisions {
			start := int(math.Round(sup.Start / d.frameShift))
			end := int(math.Round(sup.End() / d.frameShift))
			start = min(max(start, 0), b.InputLens[i])
			frames := max(min(end, b.InputLens[i])-start, 0)
			b.Supervisions.Text = append(b.Supervisions.Text, norm.NFC.String(sup.Text))
			b.Supervisions.SequenceIdx = append(b.Supervisions.SequenceIdx, i)
			b.Supervisions.StartFrame = append(b.Supervisions.StartFrame, start)
			b.Supervisions.NumFrames = append(b.Supervisions.NumFrames, frames)
			if d.ReturnCuts {
				b.Supervisions.Cuts = append(b.Supervisions.Cuts, c)
			}
		}
	}
	return b, nil
}

// tokens accepts either a JSON int array or a whitespace separated string.
func (d *DiscretizedInputSpeechRecognitionDataset) tokens(c cut.Cut) ([]int, error) {
	raw, ok := c.Custom[d.Field]
	if !ok {
		return nil, fmt.Errorf("cut %s: missing field %q", c.ID, d.Field)
	}

	var toks []int
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		fields := strings.Fields(s)
		toks = make([]int, len(fields))
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("cut %s: field %q: %w", c.ID, d.Field, err)
			}
			toks[i] = v
		}
	} else if err := json.Unmarshal(raw, &toks); err != nil {
		return nil, fmt.Errorf("cut %s: field %q is neither a token string nor an int array", c.ID, d.Field)
	}

	for _, v := range toks {
		if v < 0 || v >= d.NumTokens {
			return nil, fmt.Errorf("cut %s: token %d out of range [0, %d)", c.ID, v, d.NumTokens)
		}
	}
	return toks, nil
}
