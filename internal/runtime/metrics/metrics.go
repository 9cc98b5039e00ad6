// Package metrics defines the recorder injected into the decode, latency and
// apply stages, together with its Prometheus implementation.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector registered by this package.
const Namespace = "cdcsync"

// Counter names a monotonically increasing event count.
type Counter string

const (
	CounterUpserts           Counter = "upserts"
	CounterDeletes           Counter = "deletes"
	CounterDroppedWrites     Counter = "dropped_writes"
	CounterApplyRetries      Counter = "apply_retries"
	CounterDecodeFailures    Counter = "decode_failures"
	CounterUnsupportedOps    Counter = "unsupported_operations"
	CounterLatencySkipped    Counter = "latency_skipped"
	CounterDeadLettered      Counter = "dead_lettered"
	CounterDeadLetterFailed  Counter = "dead_letter_failures"
	CounterMessagesProcessed Counter = "messages_processed"
)

// Recorder receives the samples produced while processing change events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// ObservePropagation records the delay between the source commit and now.
	ObservePropagation(d time.Duration)
	// ObserveApply records how long a destination write took.
	ObserveApply(operation string, d time.Duration)
	// Inc increments a named counter.
	Inc(c Counter)
}

// Nop discards every sample.
type Nop struct{}

func (Nop) ObservePropagation(time.Duration)   {}
func (Nop) ObserveApply(string, time.Duration) {}
func (Nop) Inc(Counter)                        {}

var counterHelp = map[Counter]string{
	CounterUpserts:           "Total number of upserts applied to the destination",
	CounterDeletes:           "Total number of deletes applied to the destination",
	CounterDroppedWrites:     "Total number of writes dropped after apply failures",
	CounterApplyRetries:      "Total number of apply attempts that were retried",
	CounterDecodeFailures:    "Total number of envelopes that could not be decoded",
	CounterUnsupportedOps:    "Total number of envelopes with an unsupported operation code",
	CounterLatencySkipped:    "Total number of events without a usable source commit time",
	CounterDeadLettered:      "Total number of messages published to the dead letter topic",
	CounterDeadLetterFailed:  "Total number of dead letter publications that failed",
	CounterMessagesProcessed: "Total number of messages acknowledged by the driver",
}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	mu sync.Mutex

	counters        map[Counter]prometheus.Counter
	propagation     prometheus.Histogram
	lastPropagation prometheus.Gauge
	applyDuration   *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// NewPrometheus creates the collectors. Nothing is registered until Register
// is called; a nil registerer falls back to a fresh registry.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	counters := make(map[Counter]prometheus.Counter, len(counterHelp))
	for name, help := range counterHelp {
		counters[name] = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      string(name) + "_total",
			Help:      help,
		})
	}

	return &Prometheus{
		counters:   counters,
		registerer: registerer,
		propagation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "propagation_delay_seconds",
			Help:      "End-to-end delay between the source commit and processing of the change event",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		lastPropagation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_propagation_delay_seconds",
			Help:      "Most recent propagation delay; negative values indicate clock skew",
		}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying a change event to the destination",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (p *Prometheus) Register() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registered {
		return nil
	}

	collectors := []prometheus.Collector{p.propagation, p.lastPropagation, p.applyDuration}
	for _, c := range p.counters {
		collectors = append(collectors, c)
	}

	for _, c := range collectors {
		if err := p.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	p.registered = true
	return nil
}

func (p *Prometheus) ObservePropagation(d time.Duration) {
	p.propagation.Observe(d.Seconds())
	p.lastPropagation.Set(d.Seconds())
}

func (p *Prometheus) ObserveApply(operation string, d time.Duration) {
	p.applyDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (p *Prometheus) Inc(c Counter) {
	if counter, ok := p.counters[c]; ok {
		counter.Inc()
	}
}

// Counter exposes the collector behind a counter name, or nil when unknown.
func (p *Prometheus) Counter(c Counter) prometheus.Counter {
	return p.counters[c]
}

// Propagation exposes the propagation delay histogram.
func (p *Prometheus) Propagation() prometheus.Histogram {
	return p.propagation
}
