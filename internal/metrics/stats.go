package metrics

import (
	"math"
	"sort"
	"strconv"
	"time"

	"meshmon/internal/model"
)

// Summary is a traffic statistics snapshot over the packet feed.
type Summary struct {
	Count           int            `json:"count"`
	From            time.Time      `json:"from"`
	To              time.Time      `json:"to"`
	DistinctSenders int            `json:"distinct_senders"`
	AvgHops         float64        `json:"avg_hops"`
	MaxHops         int            `json:"max_hops"`
	AvgRSSI         float64        `json:"avg_rssi"`
	P95RSSI         float64        `json:"p95_rssi"`
	MinRSSI         float64        `json:"min_rssi"`
	ByType          map[string]int `json:"by_type"`
}

// Summarize computes statistics for rows received at or after since. Rows
// whose time does not parse are skipped. Hop averages ignore undetermined
// hops and signal statistics ignore rows without a reading.
func Summarize(items []model.PacketEntry, since time.Time) Summary {
	type row struct {
		entry model.PacketEntry
		at    time.Time
	}
	filtered := make([]row, 0, len(items))
	for _, p := range items {
		at, err := time.ParseInLocation(model.TimeLayout, p.Time, time.Local)
		if err != nil {
			continue
		}
		if at.After(since) || at.Equal(since) {
			filtered = append(filtered, row{entry: p, at: at})
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0, ByType: map[string]int{}}
	}

	senders := make(map[string]struct{})
	byType := make(map[string]int)
	rssi := make([]float64, 0, len(filtered))
	var sumHops, sumRSSI float64
	hopCount := 0
	maxHops := 0
	minRSSI := math.MaxFloat64
	from := filtered[0].at
	to := filtered[0].at

	for _, r := range filtered {
		p := r.entry
		senders[p.FromID] = struct{}{}
		byType[p.Kind]++
		if p.Hops >= 0 {
			sumHops += float64(p.Hops)
			hopCount++
			if p.Hops > maxHops {
				maxHops = p.Hops
			}
		}
		if v, err := strconv.ParseFloat(p.Signal, 64); err == nil {
			rssi = append(rssi, v)
			sumRSSI += v
			if v < minRSSI {
				minRSSI = v
			}
		}
		if r.at.Before(from) {
			from = r.at
		}
		if r.at.After(to) {
			to = r.at
		}
	}

	s := Summary{
		Count:           len(filtered),
		From:            from,
		To:              to,
		DistinctSenders: len(senders),
		MaxHops:         maxHops,
		ByType:          byType,
	}
	if hopCount > 0 {
		s.AvgHops = sumHops / float64(hopCount)
	}
	if len(rssi) > 0 {
		sort.Float64s(rssi)
		s.AvgRSSI = sumRSSI / float64(len(rssi))
		s.P95RSSI = percentile(rssi, 0.95)
		s.MinRSSI = minRSSI
	}
	return s
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
