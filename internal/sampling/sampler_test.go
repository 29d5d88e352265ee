package sampling

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asr-datamodule/internal/cut"
)

func fixture(n int) *cut.CutSet {
	cuts := make([]cut.Cut, n)
	for i := range cuts {
		cuts[i] = cut.Cut{
			ID:       fmt.Sprintf("c%04d", i),
			Duration: float64((i*37)%20) + 0.5,
		}
	}
	return cut.FromCuts(cuts)
}

func collect(t *testing.T, s Sampler) [][]string {
	t.Helper()
	var out [][]string
	for batch, err := range s.Batches() {
		require.NoError(t, err)
		ids := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
		}
		out = append(out, ids)
	}
	return out
}

func flatten(batches [][]string) []string {
	var all []string
	for _, b := range batches {
		all = append(all, b...)
	}
	sort.Strings(all)
	return all
}

func allIDs(t *testing.T, set *cut.CutSet) []string {
	cuts, err := set.Collect()
	require.NoError(t, err)
	ids := make([]string, len(cuts))
	for i, c := range cuts {
		ids[i] = c.ID
	}
	sort.Strings(ids)
	return ids
}

func bucketing(t *testing.T, set *cut.CutSet, shuffle, dropLast bool) *DynamicBucketingSampler {
	t.Helper()
	s, err := NewDynamicBucketingSampler(set, BucketingOptions{
		Options: Options{
			MaxDuration:       60,
			Shuffle:           shuffle,
			DropLast:          dropLast,
			ShuffleBufferSize: 50,
		},
		NumBuckets: 5,
	})
	require.NoError(t, err)
	return s
}

func TestBucketingRespectsMaxDuration(t *testing.T) {
	set := fixture(500)
	s := bucketing(t, set, true, false)

	count := 0
	for batch, err := range s.Batches() {
		require.NoError(t, err)
		if len(batch) > 1 {
			assert.LessOrEqual(t, cut.TotalDuration(batch), 60.0)
		}
		count += len(batch)
	}
	assert.Equal(t, 500, count)
}

func TestBucketingCoversEveryCutOnce(t *testing.T) {
	set := fixture(300)
	batches := collect(t, bucketing(t, set, true, false))
	assert.Equal(t, allIDs(t, set), flatten(batches))
}

func TestBucketingGroupsSimilarDurations(t *testing.T) {
	set := fixture(400)
	s := bucketing(t, set, false, false)
	bins, err := s.DurationBins()
	require.NoError(t, err)
	require.NotEmpty(t, bins)
	b := newBucketer(bins, 60)

	for batch, err := range s.Batches() {
		require.NoError(t, err)
		want := b.index(batch[0].Duration)
		for _, c := range batch {
			assert.Equal(t, want, b.index(c.Duration))
		}
	}
}

func TestBucketingDropLast(t *testing.T) {
	set := fixture(300)
	kept := flatten(collect(t, bucketing(t, set, false, true)))
	assert.Less(t, len(kept), 300)
}

func TestBucketingShuffleDependsOnEpoch(t *testing.T) {
	set := fixture(300)
	s := bucketing(t, set, true, false)
	e0 := collect(t, s)
	again := collect(t, s)
	assert.Equal(t, e0, again)

	s.SetEpoch(1)
	e1 := collect(t, s)
	assert.NotEqual(t, e0, e1)
	assert.Equal(t, flatten(e0), flatten(e1))
}

func TestResumeReplaysRemainingBatches(t *testing.T) {
	set := fixture(400)
	full := collect(t, bucketing(t, set, true, true))
	require.Greater(t, len(full), 6)

	first := bucketing(t, set, true, true)
	n := 0
	for _, err := range first.Batches() {
		require.NoError(t, err)
		n++
		if n == 5 {
			break
		}
	}
	st := first.StateDict()
	assert.Equal(t, 5, st.BatchesYielded)
	assert.Equal(t, KindDynamicBucketing, st.Kind)

	resumed := bucketing(t, set, true, true)
	require.NoError(t, resumed.LoadStateDict(st))
	assert.Equal(t, full[5:], collect(t, resumed))
	assert.Equal(t, len(full), resumed.StateDict().BatchesYielded)
}

func TestLoadStateDictRejectsOtherKind(t *testing.T) {
	set := fixture(10)
	simple, err := NewSimpleCutSampler(set, Options{MaxDuration: 30})
	require.NoError(t, err)

	err = bucketing(t, set, false, false).LoadStateDict(simple.StateDict())
	assert.ErrorIs(t, err, ErrStateMismatch)

	st := bucketing(t, set, false, false).StateDict()
	st.NumBuckets = 7
	assert.ErrorIs(t, bucketing(t, set, false, false).LoadStateDict(st), ErrStateMismatch)
}

func TestRankPartitioning(t *testing.T) {
	set := fixture(300)
	mk := func(rank int) *SimpleCutSampler {
		s, err := NewSimpleCutSampler(set, Options{MaxDuration: 40, WorldSize: 2, Rank: rank})
		require.NoError(t, err)
		return s
	}
	single, err := NewSimpleCutSampler(set, Options{MaxDuration: 40})
	require.NoError(t, err)

	all := collect(t, single)
	r0 := collect(t, mk(0))
	r1 := collect(t, mk(1))
	for i, b := range all {
		if i%2 == 0 {
			assert.Equal(t, b, r0[i/2])
		} else {
			assert.Equal(t, b, r1[i/2])
		}
	}

	_, err = NewSimpleCutSampler(set, Options{MaxDuration: 40, WorldSize: 2, Rank: 2})
	assert.Error(t, err)
}

func TestSimpleSamplerKeepsOrderWithoutShuffle(t *testing.T) {
	set := fixture(50)
	s, err := NewSimpleCutSampler(set, Options{MaxDuration: 30})
	require.NoError(t, err)

	var order []string
	for batch, err := range s.Batches() {
		require.NoError(t, err)
		if len(batch) > 1 {
			assert.LessOrEqual(t, cut.TotalDuration(batch), 30.0)
		}
		for _, c := range batch {
			order = append(order, c.ID)
		}
	}
	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("c%04d", i)
	}
	assert.Equal(t, want, order)
}

func TestSingleLongCutFormsOwnBatch(t *testing.T) {
	set := cut.FromCuts([]cut.Cut{
		{ID: "a", Duration: 5},
		{ID: "huge", Duration: 100},
		{ID: "b", Duration: 5},
	})
	s, err := NewSimpleCutSampler(set, Options{MaxDuration: 20})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"huge"}, {"b"}}, collect(t, s))
}

func TestEstimateDurationBins(t *testing.T) {
	set := fixture(1000)
	bins, err := EstimateDurationBins(set, 4, 1000)
	require.NoError(t, err)
	require.Len(t, bins, 3)
	assert.True(t, sort.Float64sAreSorted(bins))

	none, err := EstimateDurationBins(set, 1, 1000)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestNewRejectsBadOptions(t *testing.T) {
	set := fixture(1)
	_, err := NewSimpleCutSampler(set, Options{})
	assert.Error(t, err)
	_, err = NewDynamicBucketingSampler(set, BucketingOptions{Options: Options{MaxDuration: 10}})
	assert.Error(t, err)
}
