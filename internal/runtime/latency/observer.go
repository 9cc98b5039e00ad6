// Package latency measures how long a change took to travel from the source
// commit to this consumer.
package latency

import (
	"errors"
	"fmt"
	"time"

	metricspkg "github.com/drblury/cdcsync/internal/runtime/metrics"
)

// ErrNoCommitTime is returned when the event carries no source commit instant.
var ErrNoCommitTime = errors.New("latency: source commit time is missing")

// Observer records end-to-end propagation delay samples.
type Observer struct {
	recorder metricspkg.Recorder
	now      func() time.Time
}

// Option customises an Observer.
type Option func(*Observer)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		if now != nil {
			o.now = now
		}
	}
}

// NewObserver creates an Observer that records into recorder. A nil recorder
// discards samples.
func NewObserver(recorder metricspkg.Recorder, opts ...Option) *Observer {
	if recorder == nil {
		recorder = metricspkg.Nop{}
	}
	o := &Observer{recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Observe records now minus commit and returns the measured delay. Negative
// delays are recorded unchanged since they expose clock skew between hosts.
func (o *Observer) Observe(commit time.Time) (d time.Duration, err error) {
	if commit.IsZero() {
		return 0, ErrNoCommitTime
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("latency: recording sample: %v", r)
		}
	}()

	d = o.now().Sub(commit)
	o.recorder.ObservePropagation(d)
	return d, nil
}
