package metrics

import (
	"testing"
	"time"

	"meshmon/internal/model"
)

func stamp(t time.Time) string {
	return t.Format(model.TimeLayout)
}

func TestSummarize_Basic(t *testing.T) {
	t.Parallel()

	now := time.Now().Truncate(time.Second)
	items := []model.PacketEntry{
		{Time: stamp(now.Add(-10 * time.Second)), FromID: "!00000001", Hops: 1, Signal: "-100", Kind: "Text"},
		{Time: stamp(now.Add(-5 * time.Second)), FromID: "!00000002", Hops: 3, Signal: "-80", Kind: "Text"},
		{Time: stamp(now.Add(-4 * time.Second)), FromID: "!00000002", Hops: -1, Signal: "", Kind: "-"},
		{Time: stamp(now.Add(-time.Hour)), FromID: "!00000003", Hops: 7, Signal: "-120", Kind: "TR"},
		{Time: "garbage", FromID: "!00000004"},
	}
	s := Summarize(items, now.Add(-1*time.Minute))
	if s.Count != 3 {
		t.Fatalf("count=%d", s.Count)
	}
	if s.DistinctSenders != 2 {
		t.Fatalf("senders=%d", s.DistinctSenders)
	}
	if s.AvgHops != 2 || s.MaxHops != 3 {
		t.Fatalf("hops avg/max=%.2f/%d", s.AvgHops, s.MaxHops)
	}
	if s.AvgRSSI != -90 || s.MinRSSI != -100 || s.P95RSSI != -80 {
		t.Fatalf("rssi avg/min/p95=%.2f/%.2f/%.2f", s.AvgRSSI, s.MinRSSI, s.P95RSSI)
	}
	if s.ByType["Text"] != 2 || s.ByType["-"] != 1 {
		t.Fatalf("by_type=%v", s.ByType)
	}
	if !s.From.Equal(now.Add(-10*time.Second)) || !s.To.Equal(now.Add(-4*time.Second)) {
		t.Fatalf("from/to=%v/%v", s.From, s.To)
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil, time.Now())
	if s.Count != 0 || s.ByType == nil {
		t.Fatalf("summary=%+v", s)
	}
}

func TestPercentile_Edges(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4}
	if got := percentile(values, 0); got != 1 {
		t.Fatalf("p0=%v", got)
	}
	if got := percentile(values, 1); got != 4 {
		t.Fatalf("p100=%v", got)
	}
}
