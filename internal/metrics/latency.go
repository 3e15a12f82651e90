package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/txbot/pkg/types"
)

// DefaultReservoirSize bounds the samples kept for percentile estimation.
// A run rarely confirms more than this many transactions, so percentiles
// are usually exact.
const DefaultReservoirSize = 4096

// Confirmation latency bucket bounds in milliseconds. Receipts are polled,
// so nothing lands much below one poll interval.
var latencyBuckets = []struct {
	bound float64
	label string
}{
	{2000, "0-2s"},
	{5000, "2-5s"},
	{10000, "5-10s"},
	{30000, "10-30s"},
}

const overflowLabel = "30s+"

// LatencyTracker accumulates submission-to-receipt latencies for one run.
// Percentiles come from a fixed-size reservoir (Algorithm R), so memory
// stays bounded however many transactions confirm.
type LatencyTracker struct {
	mu sync.Mutex

	count int64
	sum   float64
	min   float64
	max   float64

	reservoir []float64
	size      int
	buckets   []int

	// xorshift64* state; per instance so trackers never share it
	randState uint64
}

// NewLatencyTracker creates an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return newLatencyTracker(DefaultReservoirSize)
}

func newLatencyTracker(size int) *LatencyTracker {
	return &LatencyTracker{
		min:       math.MaxFloat64,
		reservoir: make([]float64, 0, size),
		size:      size,
		buckets:   make([]int, len(latencyBuckets)+1),
		randState: 0x9E3779B97F4A7C15,
	}
}

// Add records one latency sample in milliseconds. Negative samples are
// ignored.
func (t *LatencyTracker) Add(ms float64) {
	if ms < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	t.sum += ms
	t.min = math.Min(t.min, ms)
	t.max = math.Max(t.max, ms)
	t.buckets[bucketIndex(ms)]++

	if len(t.reservoir) < t.size {
		t.reservoir = append(t.reservoir, ms)
		return
	}
	if j := t.next() % uint64(t.count); j < uint64(t.size) {
		t.reservoir[j] = ms
	}
}

func bucketIndex(ms float64) int {
	for i, b := range latencyBuckets {
		if ms < b.bound {
			return i
		}
	}
	return len(latencyBuckets)
}

func (t *LatencyTracker) next() uint64 {
	t.randState ^= t.randState >> 12
	t.randState ^= t.randState << 25
	t.randState ^= t.randState >> 27
	return t.randState * 0x2545F4914F6CDD1D
}

// Stats summarizes the samples so far, or returns nil if there are none.
func (t *LatencyTracker) Stats() *types.LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return nil
	}

	sorted := make([]float64, len(t.reservoir))
	copy(sorted, t.reservoir)
	sort.Float64s(sorted)

	stats := &types.LatencyStats{
		Count:   int(t.count),
		Min:     t.min,
		Max:     t.max,
		Avg:     t.sum / float64(t.count),
		P50:     percentile(sorted, 0.50),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Buckets: make([]types.LatencyBucket, 0, len(t.buckets)),
	}
	for i, n := range t.buckets {
		label := overflowLabel
		if i < len(latencyBuckets) {
			label = latencyBuckets[i].label
		}
		stats.Buckets = append(stats.Buckets, types.LatencyBucket{Label: label, Count: n})
	}
	return stats
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
