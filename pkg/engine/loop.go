package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/sgward/sgward/pkg/telemetry"
)

// Pass names used for logs, metrics and spans.
const (
	PassDetector = "detector"
	PassApplier  = "applier"
)

// Loop drives the detector and applier passes on a fixed interval, forever.
// The next cycle is scheduled only after the current one fully settles, so
// provider latency spikes never cause overlapping cycles. No error from a
// cycle is allowed to stop the loop.
type Loop struct {
	detector *Detector
	applier  *Applier
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	// stats, when set, refreshes the requests-by-status gauge after each
	// cycle.
	stats StatusCounter

	// interval is the delay between settled cycles, in nanoseconds.
	// Stored atomically so it can be retuned while the loop runs.
	interval atomic.Int64
}

// NewLoop creates the scheduler loop.
func NewLoop(detector *Detector, applier *Applier, interval time.Duration, logger *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Loop {
	l := &Loop{
		detector: detector,
		applier:  applier,
		logger:   logger.NewComponentLogger("loop"),
		metrics:  metrics,
		tracer:   tracer,
	}
	l.SetInterval(interval)
	return l
}

// TrackCounts enables the requests-by-status gauge, refreshed from the
// given counter after every cycle.
func (l *Loop) TrackCounts(c StatusCounter) {
	l.stats = c
}

// SetInterval retunes the delay between cycles. Takes effect from the next
// wait.
func (l *Loop) SetInterval(d time.Duration) {
	if d <= 0 {
		d = 10 * time.Second
	}
	l.interval.Store(int64(d))
}

// Interval returns the current delay between cycles.
func (l *Loop) Interval() time.Duration {
	return time.Duration(l.interval.Load())
}

// Run executes cycles until the context is cancelled. It always returns the
// context's error; cycle failures are logged and absorbed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunCycle(ctx)

		interval := l.Interval()
		l.logger.Debugf("Cycle settled, waiting %s", interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunCycle runs one detector pass followed by one applier pass. Both passes
// operate on disjoint status subsets, so their order within a cycle only
// affects how quickly a freshly applied request gets its first drift check.
func (l *Loop) RunCycle(ctx context.Context) {
	cycleID := uuid.NewString()[:8]
	logger := l.logger.WithCycleID(cycleID)

	if l.tracer != nil {
		var span trace.Span
		ctx, span = l.tracer.StartCycleSpan(ctx, cycleID)
		defer span.End()
	}

	l.runPass(ctx, logger, PassDetector, l.detector.RunPass)
	l.runPass(ctx, logger, PassApplier, l.applier.RunPass)

	l.refreshCounts(ctx, logger)
}

// refreshCounts updates the requests-by-status gauge. Missing statuses are
// reset to zero so an emptied status does not keep its last value.
func (l *Loop) refreshCounts(ctx context.Context, logger *telemetry.Logger) {
	if l.stats == nil {
		return
	}
	counts, err := l.stats.CountByStatus(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to refresh request counts")
		return
	}
	for _, s := range Statuses() {
		l.metrics.SetRequestCount(string(s), float64(counts[s]))
	}
}

// runPass wraps one pass so that neither an error nor a panic escapes to
// the loop.
func (l *Loop) runPass(ctx context.Context, logger *telemetry.Logger, pass string, fn func(context.Context) error) {
	var span trace.Span
	if l.tracer != nil {
		ctx, span = l.tracer.StartPassSpan(ctx, pass)
		defer span.End()
	}

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			l.metrics.RecordPass(pass, "panicked", time.Since(start))
			logger.WithField("pass", pass).WithField("panic", r).Error("Pass panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		l.metrics.RecordPass(pass, "failed", time.Since(start))
		if span != nil {
			telemetry.RecordError(span, err)
		}
		logger.WithField("pass", pass).WithError(err).Error("Pass aborted")
		return
	}

	l.metrics.RecordPass(pass, "succeeded", time.Since(start))
}
