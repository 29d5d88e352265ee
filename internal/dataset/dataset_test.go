package dataset

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asr-datamodule/internal/augment"
	"asr-datamodule/internal/cut"
)

func tokenCut(id string, dur float64, tokens string) cut.Cut {
	return cut.Cut{
		ID:       id,
		Duration: dur,
		Supervisions: []cut.Supervision{{
			ID:       id,
			Start:    0,
			Duration: dur,
			Text:     "Café",
		}},
		Custom: map[string]json.RawMessage{"discrete_tokens": json.RawMessage(tokens)},
	}
}

func newDataset(t *testing.T, returnCuts bool, transforms ...augment.Transform) *DiscretizedInputSpeechRecognitionDataset {
	t.Helper()
	d, err := New(DiscretizedInputSpeechRecognitionDataset{
		Field:         "discrete_tokens",
		NumTokens:     2000,
		FrequencySize: 80,
		TokenType:     "wavlm",
		InputStrategy: AudioSamples,
		Transforms:    transforms,
		ReturnCuts:    returnCuts,
	})
	require.NoError(t, err)
	return d
}

func TestCollateSortsAndPads(t *testing.T) {
	d := newDataset(t, true)
	cuts := []cut.Cut{
		tokenCut("short", 0.04, `"5 6"`),
		tokenCut("long", 0.08, `[1, 2, 3, 4]`),
	}

	b, err := d.Collate(cuts, rand.New(rand.NewPCG(42, 0)))
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1, 2, 3, 4}, {5, 6, 2000, 2000}}, b.Inputs)
	assert.Equal(t, []int{4, 2}, b.InputLens)
	assert.Equal(t, []int{0, 1}, b.Supervisions.SequenceIdx)
	assert.Equal(t, []int{4, 2}, b.Supervisions.NumFrames)
	assert.Equal(t, []int{0, 0}, b.Supervisions.StartFrame)
	assert.Equal(t, "Café", b.Supervisions.Text[0])
	require.Len(t, b.Supervisions.Cuts, 2)
	assert.Equal(t, "long", b.Supervisions.Cuts[0].ID)
	assert.Equal(t, AudioSamples, b.InputStrategy)
	assert.Equal(t, 80, b.FrequencySize)
	assert.InDelta(t, 0.12, b.Duration(d.FrameShift()), 1e-9)
}

func TestCollateWithoutReturnCuts(t *testing.T) {
	d := newDataset(t, false)
	b, err := d.Collate([]cut.Cut{tokenCut("a", 0.02, `"7"`)}, rand.New(rand.NewPCG(1, 0)))
	require.NoError(t, err)
	assert.Nil(t, b.Supervisions.Cuts)
}

func TestCollateRejectsBadTokens(t *testing.T) {
	d := newDataset(t, false)
	rng := rand.New(rand.NewPCG(1, 0))

	_, err := d.Collate([]cut.Cut{tokenCut("oov", 0.02, `"2000"`)}, rng)
	assert.ErrorContains(t, err, "out of range")

	_, err = d.Collate([]cut.Cut{tokenCut("nan", 0.02, `"1 x"`)}, rng)
	assert.Error(t, err)

	_, err = d.Collate([]cut.Cut{tokenCut("obj", 0.02, `{"a":1}`)}, rng)
	assert.Error(t, err)

	missing := tokenCut("missing", 0.02, `"1"`)
	missing.Custom = nil
	_, err = d.Collate([]cut.Cut{missing}, rng)
	assert.ErrorContains(t, err, "missing field")

	_, err = d.Collate(nil, rng)
	assert.Error(t, err)
}

type recordingTransform struct{ calls int }

func (r *recordingTransform) Apply(inputs [][]int, lens []int, rng *rand.Rand) {
	r.calls++
	inputs[0][0] = 1999
}

func (r *recordingTransform) String() string { return "recording" }

func TestCollateAppliesTransforms(t *testing.T) {
	tr := &recordingTransform{}
	d := newDataset(t, false, tr)
	b, err := d.Collate([]cut.Cut{tokenCut("a", 0.04, `"1 2"`)}, rand.New(rand.NewPCG(1, 0)))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, 1999, b.Inputs[0][0])
}

func TestNewValidates(t *testing.T) {
	_, err := New(DiscretizedInputSpeechRecognitionDataset{Field: "x", NumTokens: 10, TokenType: "mfcc"})
	assert.Error(t, err)
	_, err = New(DiscretizedInputSpeechRecognitionDataset{NumTokens: 10, TokenType: "wavlm"})
	assert.Error(t, err)
	_, err = New(DiscretizedInputSpeechRecognitionDataset{Field: "x", TokenType: "wavlm"})
	assert.Error(t, err)
	_, err = New(DiscretizedInputSpeechRecognitionDataset{Field: "x", NumTokens: 10, TokenType: "wavlm", FrequencySize: -1})
	assert.Error(t, err)
}
