package runtime

import (
	"errors"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/drblury/cdcsync/internal/runtime/cdc"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ErrorCategory groups abandoned or dropped messages by the stage that failed.
type ErrorCategory string

const (
	ErrorCategoryNone        ErrorCategory = "none"
	ErrorCategoryDecode      ErrorCategory = "decode"
	ErrorCategoryUnsupported ErrorCategory = "unsupported"
	ErrorCategoryApply       ErrorCategory = "apply"
	ErrorCategoryOther       ErrorCategory = "other"
)

// ClassifyOutcome returns the error category of out.
func ClassifyOutcome(out Outcome) ErrorCategory {
	switch {
	case out.Err == nil:
		return ErrorCategoryNone
	case errors.Is(out.Err, cdc.ErrUnsupportedOperation):
		return ErrorCategoryUnsupported
	case out.Event == nil && out.Stage == StageAbandoned && isDecodeError(out.Err):
		return ErrorCategoryDecode
	case out.Dropped || out.Interrupted:
		return ErrorCategoryApply
	default:
		return ErrorCategoryOther
	}
}

func isDecodeError(err error) bool {
	var decodeErr *cdc.DecodeError
	return errors.As(err, &decodeErr)
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
}

type ErrorBreakdown struct {
	Decode      uint64 `json:"decode"`
	Unsupported uint64 `json:"unsupported"`
	Apply       uint64 `json:"apply"`
	Other       uint64 `json:"other"`
	LastError   string `json:"last_error,omitempty"`
}

// Record counts err under category.
func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		return
	case ErrorCategoryDecode:
		e.Decode++
	case ErrorCategoryUnsupported:
		e.Unsupported++
	case ErrorCategoryApply:
		e.Apply++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// StatsSnapshot is a point-in-time copy of ConsumerStats.
type StatsSnapshot struct {
	MessagesReceived uint64 `json:"messages_received"`
	Acknowledged     uint64 `json:"acknowledged"`
	Applied          uint64 `json:"applied"`
	Abandoned        uint64 `json:"abandoned"`
	Dropped          uint64 `json:"dropped"`
	DeadLettered     uint64 `json:"dead_lettered"`
	Interrupted      uint64 `json:"interrupted"`
	Retries          uint64 `json:"retries"`
	InFlight         uint64 `json:"in_flight"`

	LastProcessedAt time.Time `json:"last_processed_at"`
	// LastCommitAt is the source commit time of the most recent applied change.
	LastCommitAt time.Time `json:"last_commit_at,omitempty"`
	// LastOffset is the log offset of the most recent message, or -1.
	LastOffset int64 `json:"last_offset"`

	Propagation LatencyMetrics    `json:"propagation"`
	Processing  LatencyMetrics    `json:"processing"`
	Throughput  ThroughputMetrics `json:"throughput"`
	Errors      ErrorBreakdown    `json:"errors"`
	Goroutines  int               `json:"goroutines"`
}

// ConsumerStats aggregates Driver outcomes for the status endpoint.
type ConsumerStats struct {
	mu sync.Mutex

	snap        StatsSnapshot
	propagation *latencyWindow
	processing  *latencyWindow
	throughput  *throughputWindow
	now         func() time.Time
}

// NewConsumerStats returns empty stats.
func NewConsumerStats() *ConsumerStats {
	return &ConsumerStats{
		snap:        StatsSnapshot{LastOffset: -1},
		propagation: newLatencyWindow(latencySampleSize),
		processing:  newLatencyWindow(latencySampleSize),
		throughput:  newThroughputWindow(throughputWindowSize),
		now:         time.Now,
	}
}

// Hooks feeds the stats from the Driver.
func (c *ConsumerStats) Hooks() Hooks {
	return Hooks{
		OnReceived:  c.onReceived,
		OnProcessed: c.onProcessed,
	}
}

func (c *ConsumerStats) onReceived(MessageContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap.MessagesReceived++
	c.snap.InFlight++
}

func (c *ConsumerStats) onProcessed(mc MessageContext, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.snap.InFlight > 0 {
		c.snap.InFlight--
	}
	c.snap.LastProcessedAt = now.UTC()
	if mc.Offset != nil {
		c.snap.LastOffset = *mc.Offset
	}

	switch {
	case out.Interrupted:
		c.snap.Interrupted++
	case out.Acked():
		c.snap.Acknowledged++
	}
	if out.Stage == StageAbandoned {
		c.snap.Abandoned++
	}
	if out.Dropped {
		c.snap.Dropped++
	}
	if out.DeadLettered {
		c.snap.DeadLettered++
	}
	if out.Attempts > 1 {
		c.snap.Retries += uint64(out.Attempts - 1)
	}
	if out.Stage == StageAcknowledged && out.Err == nil && out.Event != nil {
		c.snap.Applied++
		if !out.Event.SourceCommitTime.IsZero() {
			c.snap.LastCommitAt = out.Event.SourceCommitTime.UTC()
		}
	}

	if out.LatencyErr == nil && out.Event != nil {
		c.propagation.Add(out.Latency)
		c.snap.Propagation = c.propagation.Snapshot()
	}
	c.processing.Add(mc.Duration)
	c.snap.Processing = c.processing.Snapshot()

	tp := c.throughput.AddAndSnapshot(now)
	c.snap.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
	}

	c.snap.Errors.Record(ClassifyOutcome(out), out.Err)
}

// Snapshot returns a copy of the current stats.
func (c *ConsumerStats) Snapshot() StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snap
	snap.Goroutines = runtime.NumGoroutine()
	return snap
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}

	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.SampleSize = lw.filled
	metrics.AverageNs = sum / int64(len(samples))
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

// percentile interpolates linearly between the two closest ranks of sorted samples.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Second
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
