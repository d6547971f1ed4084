package historian_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
)

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func point(name string, sec int64, v float64) historian.DataPoint {
	return historian.DataPoint{Tag: name, Timestamp: at(sec), Value: v, Quality: tag.QualityGood, Unit: "degC"}
}

type captureSink struct {
	batches [][]historian.DataPoint
}

func (s *captureSink) WritePoints(ctx context.Context, points []historian.DataPoint) error {
	s.batches = append(s.batches, points)
	return nil
}

func TestHistorian_RoundTrip(t *testing.T) {
	h := historian.New(historian.DefaultConfig())
	p := historian.DataPoint{Tag: "T1", Timestamp: at(100), Value: 3.14, Quality: tag.QualityGood}

	require.Equal(t, 1, h.Append(p))
	got := h.Query("T1", at(90), at(110))

	require.Len(t, got, 1)
	assert.Equal(t, p, got[0])
}

func TestHistorian_RangeIsInclusiveAndSorted(t *testing.T) {
	h := historian.New(historian.DefaultConfig())
	h.Append(point("T", 30, 3), point("T", 10, 1), point("T", 20, 2), point("T", 40, 4))

	got := h.Query("T", at(10), at(30))
	require.Len(t, got, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{got[0].Value, got[1].Value, got[2].Value})
	assert.Empty(t, h.Query("missing", at(0), at(100)))
}

func TestHistorian_RingEvictsOldestTimestamp(t *testing.T) {
	h := historian.New(historian.Config{CapacityPerTag: 3})
	for i := int64(1); i <= 5; i++ {
		h.Append(point("T", i, float64(i)))
	}
	got := h.Query("T", at(0), at(10))
	require.Len(t, got, 3)
	assert.Equal(t, at(3), got[0].Timestamp)

	stats := h.Stats()
	assert.Equal(t, 3, stats.Points)
	assert.Equal(t, uint64(2), stats.Evicted)
}

func TestHistorian_LateSampleKeepsNewestPoints(t *testing.T) {
	h := historian.New(historian.Config{CapacityPerTag: 2})
	h.Append(point("T", 200, 2), point("T", 300, 3))

	// Older than everything held: the late sample itself is the one lost.
	h.Append(point("T", 100, 1))
	got := h.Query("T", at(0), at(1000))
	require.Len(t, got, 2)
	assert.Equal(t, at(200), got[0].Timestamp)
	assert.Equal(t, at(300), got[1].Timestamp)
	assert.Equal(t, uint64(1), h.Stats().Evicted)

	// Inside the held range: the oldest timestamp makes room for it.
	h.Append(point("T", 250, 2.5))
	got = h.Query("T", at(0), at(1000))
	require.Len(t, got, 2)
	assert.Equal(t, at(250), got[0].Timestamp)
	assert.Equal(t, at(300), got[1].Timestamp)
	assert.Equal(t, uint64(2), h.Stats().Evicted)

	ts, ok := h.TagStats("T")
	require.True(t, ok)
	assert.Equal(t, at(250), ts.Oldest)
	assert.Equal(t, at(300), ts.Newest)
}

func TestHistorian_OutOfOrderIngestStaysSortedAcrossWrap(t *testing.T) {
	h := historian.New(historian.Config{CapacityPerTag: 4})
	for _, sec := range []int64{10, 30, 20, 50, 40, 70, 60} {
		h.Append(point("T", sec, float64(sec)))
	}
	got := h.Query("T", at(0), at(100))
	require.Len(t, got, 4)
	var secs []int64
	for _, p := range got {
		secs = append(secs, p.Timestamp.Unix())
	}
	assert.Equal(t, []int64{40, 50, 60, 70}, secs)

	latest, ok := h.Latest("T")
	require.True(t, ok)
	assert.Equal(t, 70.0, latest.Value)
}

func TestHistorian_DuplicateTimestampOverwrites(t *testing.T) {
	h := historian.New(historian.Config{CapacityPerTag: 2})
	h.Append(point("T", 1, 1), point("T", 2, 2))
	h.Append(point("T", 1, 10))

	got := h.Query("T", at(0), at(10))
	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[0].Value)
	assert.Equal(t, uint64(0), h.Stats().Evicted)
}

func TestHistorian_LatestUsesNewestTimestamp(t *testing.T) {
	h := historian.New(historian.DefaultConfig())
	h.Append(point("A", 50, 5), point("A", 20, 2), point("B", 7, 7))

	latest, ok := h.Latest("A")
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Value)

	many := h.LatestMany([]string{"A", "B", "C"})
	assert.Len(t, many, 2)
	assert.Equal(t, 7.0, many["B"].Value)

	_, ok = h.Latest("C")
	assert.False(t, ok)
}

func TestHistorian_Stats(t *testing.T) {
	h := historian.New(historian.DefaultConfig())
	h.Append(point("A", 50, 5), point("A", 20, 2), point("B", 70, 7))

	ts, ok := h.TagStats("A")
	require.True(t, ok)
	assert.Equal(t, 2, ts.Count)
	assert.Equal(t, at(20), ts.Oldest)
	assert.Equal(t, at(50), ts.Newest)

	s := h.Stats()
	assert.Equal(t, 2, s.Tags)
	assert.Equal(t, 3, s.Points)
	assert.Equal(t, at(20), s.Oldest)
	assert.Equal(t, at(70), s.Newest)
	assert.Equal(t, []string{"A", "B"}, h.Tags())
}

func TestHistorian_RetentionEnforcedIndependently(t *testing.T) {
	now := at(1000)
	h := historian.New(historian.Config{CapacityPerTag: 100, Retention: 60 * time.Second},
		historian.WithClock(func() time.Time { return now }))

	// Outside the window on arrival.
	assert.Equal(t, 0, h.Append(point("T", 900, 1)))
	assert.Equal(t, 3, h.Append(point("T", 950, 1), point("T", 990, 2), point("T", 945, 3)))

	removed := h.Prune(at(1020))
	assert.Equal(t, 2, removed)
	got := h.Query("T", at(0), at(2000))
	require.Len(t, got, 1)
	assert.Equal(t, at(990), got[0].Timestamp)

	assert.Equal(t, 0, h.Prune(at(1020)))
	assert.Equal(t, 1, h.Prune(at(2000)))
	assert.Empty(t, h.Tags())
}

func TestHistorian_SinkReceivesAcceptedPoints(t *testing.T) {
	sink := &captureSink{}
	h := historian.New(historian.DefaultConfig(), historian.WithSink(sink))

	h.Append(point("T", 1, 1), historian.DataPoint{Timestamp: at(2)})

	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 1)
}

func TestFromSnapshot_SkipsNeverWrittenTags(t *testing.T) {
	s := tag.NewStore()
	s.Define("never", "", tag.Limits{})
	s.Set("R1.TT101", 37.5, tag.QualityGood, at(5))

	points := historian.FromSnapshot(s.All())
	require.Len(t, points, 1)
	assert.Equal(t, "R1.TT101", points[0].Tag)
	assert.Equal(t, 37.5, points[0].Value)
}
