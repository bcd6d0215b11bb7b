package analysis

import (
	"sort"
	"strconv"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/montanaflynn/stats"

	"github.com/nitis/hapstat/internal/types"
)

// Aggregator reduces the valid records of one scan to a report. All
// built-ins are single-pass and streaming, which lets the engine fan one
// traversal out to every requested command.
type Aggregator interface {
	Name() string
	Observe(rec *types.Record)
	Report() types.Report
}

// Response times above this are flagged by the slow_requests command.
const slowThreshold = time.Second

// topN is how many entries the top_* commands keep.
const topN = 10

// counter counts the valid records.
type counter struct {
	n int
}

func (c *counter) Name() string          { return "counter" }
func (c *counter) Observe(*types.Record) { c.n++ }
func (c *counter) Report() types.Report {
	v := float64(c.n)
	return types.Report{Command: "counter", Considered: c.n, Value: &v}
}

// mapCounter groups records by a key. Records for which the key is
// absent (TCP lines without a request, sentinel status codes) are
// considered but not grouped.
type mapCounter struct {
	name       string
	key        func(*types.Record) (string, bool)
	considered int
	counts     map[string]int64
}

func newMapCounter(name string, key func(*types.Record) (string, bool)) *mapCounter {
	return &mapCounter{name: name, key: key, counts: make(map[string]int64)}
}

func (m *mapCounter) Name() string { return m.name }

func (m *mapCounter) Observe(rec *types.Record) {
	m.considered++
	if k, ok := m.key(rec); ok {
		m.counts[k]++
	}
}

func (m *mapCounter) Report() types.Report {
	counts := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	return types.Report{Command: m.name, Considered: m.considered, Counts: counts}
}

// topCounter is a mapCounter that reports only its most frequent keys.
type topCounter struct {
	*mapCounter
	limit int
}

func (t *topCounter) Report() types.Report {
	type pair struct {
		key   string
		count int64
	}
	pairs := make([]pair, 0, len(t.counts))
	for k, v := range t.counts {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].key < pairs[j].key
	})
	if len(pairs) > t.limit {
		pairs = pairs[:t.limit]
	}
	counts := make(map[string]int64, len(pairs))
	for _, p := range pairs {
		counts[p.key] = p.count
	}
	return types.Report{Command: t.name, Considered: t.considered, Counts: counts}
}

func methodKey(rec *types.Record) (string, bool) {
	if rec.Request == nil {
		return "", false
	}
	return rec.Request.Method, true
}

func pathKey(rec *types.Record) (string, bool) {
	if rec.Request == nil {
		return "", false
	}
	return rec.Request.Path, true
}

func statusKey(rec *types.Record) (string, bool) {
	if !rec.Status.Valid {
		return "", false
	}
	return strconv.Itoa(rec.Status.Int), true
}

func statusClassKey(rec *types.Record) (string, bool) {
	if !rec.Status.Valid {
		return "", false
	}
	class := rec.Status.Int / 100
	if class < 1 || class > 5 {
		return "", false
	}
	return strconv.Itoa(class) + "xx", true
}

func ipKey(rec *types.Record) (string, bool)     { return rec.ClientIP, true }
func serverKey(rec *types.Record) (string, bool) { return rec.Backend + "/" + rec.Server, true }

func connectionTypeKey(rec *types.Record) (string, bool) {
	if rec.IsSSL() {
		return "ssl", true
	}
	return "plain", true
}

// slowRequests flags records whose server response time exceeds the
// threshold, in file order, and summarizes their distribution.
type slowRequests struct {
	considered int
	flagged    []*types.Record
	millis     []float64
}

func (s *slowRequests) Name() string { return "slow_requests" }

func (s *slowRequests) Observe(rec *types.Record) {
	s.considered++
	tr := rec.Timers.Response
	if tr.Valid && tr.Duration > slowThreshold {
		s.flagged = append(s.flagged, rec)
		s.millis = append(s.millis, float64(tr.Milliseconds()))
	}
}

func (s *slowRequests) Report() types.Report {
	report := types.Report{
		Command:    "slow_requests",
		Considered: s.considered,
		Flagged:    s.flagged,
	}
	if p95, err := stats.Percentile(s.millis, 95); err == nil {
		report.Value = &p95
	}
	return report
}

// averageTimer averages one of the session timers, in milliseconds,
// over the records where it applies. Sentinel values stay out of the
// mean instead of dragging it toward zero.
type averageTimer struct {
	name       string
	pick       func(*types.Record) types.NullDuration
	considered int
	samples    []float64
}

func (a *averageTimer) Name() string { return a.name }

func (a *averageTimer) Observe(rec *types.Record) {
	a.considered++
	if d := a.pick(rec); d.Valid {
		a.samples = append(a.samples, float64(d.Milliseconds()))
	}
}

func (a *averageTimer) Report() types.Report {
	report := types.Report{Command: a.name, Considered: a.considered}
	if mean, err := stats.Mean(a.samples); err == nil {
		report.Value = &mean
	}
	return report
}

// bytesTransferred sums the bytes read by clients.
type bytesTransferred struct {
	considered int
	total      int64
}

func (b *bytesTransferred) Name() string { return "bytes_transferred" }

func (b *bytesTransferred) Observe(rec *types.Record) {
	b.considered++
	b.total += rec.BytesRead
}

func (b *bytesTransferred) Report() types.Report {
	v := float64(b.total)
	return types.Report{Command: "bytes_transferred", Considered: b.considered, Value: &v}
}

// queuePeaks tracks spans of consecutive records with a non-empty
// backend queue and the peak depth reached in each span.
type queuePeaks struct {
	considered int
	peaks      []types.QueuePeak
	current    *types.QueuePeak
}

func (q *queuePeaks) Name() string { return "queue_peaks" }

func (q *queuePeaks) Observe(rec *types.Record) {
	q.considered++
	depth := rec.Queues.Backend
	if depth == 0 {
		q.close()
		return
	}
	if q.current == nil {
		q.current = &types.QueuePeak{First: rec.Time}
	}
	if depth > q.current.Peak {
		q.current.Peak = depth
	}
	q.current.Spans++
	q.current.Last = rec.Time
}

func (q *queuePeaks) close() {
	if q.current != nil {
		q.peaks = append(q.peaks, *q.current)
		q.current = nil
	}
}

func (q *queuePeaks) Report() types.Report {
	q.close()
	return types.Report{Command: "queue_peaks", Considered: q.considered, Peaks: q.peaks}
}

// requestsPerMinute buckets records by accept minute and carries an
// exponentially weighted average of the per-minute rate.
type requestsPerMinute struct {
	considered int
	buckets    map[time.Time]int64
}

func (r *requestsPerMinute) Name() string { return "requests_per_minute" }

func (r *requestsPerMinute) Observe(rec *types.Record) {
	r.considered++
	if r.buckets == nil {
		r.buckets = make(map[time.Time]int64)
	}
	r.buckets[rec.Time.Truncate(time.Minute)]++
}

func (r *requestsPerMinute) Report() types.Report {
	series := make([]types.RatePoint, 0, len(r.buckets))
	for minute, count := range r.buckets {
		series = append(series, types.RatePoint{Minute: minute, Count: count})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Minute.Before(series[j].Minute) })

	report := types.Report{Command: "requests_per_minute", Considered: r.considered, Series: series}
	if len(series) > 0 {
		avg := ewma.NewMovingAverage()
		for _, point := range series {
			avg.Add(float64(point.Count))
		}
		v := avg.Value()
		report.Value = &v
	}
	return report
}
