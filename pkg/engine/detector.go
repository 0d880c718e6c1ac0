package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sgward/sgward/pkg/telemetry"
)

// Drift kinds recorded by the detector.
const (
	DriftKindModified = "modified"
	DriftKindDeleted  = "deleted"
	DriftKindResolved = "resolved"
)

// Detector re-verifies converged requests against live provider state. A
// COMPLETED request whose live rule diverges moves to DETECT_MODIFIED, one
// whose rule vanished moves to DETECT_DELETED, and a DETECT_MODIFIED request
// whose rule matches again self-heals back to COMPLETED.
type Detector struct {
	store     RequestStore
	inventory Inventory
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics

	// maxParallel bounds concurrent request handling within one pass.
	maxParallel int
}

// NewDetector creates a drift detector.
func NewDetector(store RequestStore, inventory Inventory, logger *telemetry.Logger, metrics *telemetry.Metrics, maxParallel int) *Detector {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Detector{
		store:       store,
		inventory:   inventory,
		logger:      logger.NewComponentLogger("detector"),
		metrics:     metrics,
		maxParallel: maxParallel,
	}
}

// RunPass scans every converged request and reconciles its status against
// live state. The initial scan failing aborts the pass; errors while
// handling one request are contained to that request. The pass returns only
// after all dispatched work has settled.
func (d *Detector) RunPass(ctx context.Context) error {
	requests, err := d.store.ListByStatus(ctx, StatusCompleted, StatusDetectModified)
	if err != nil {
		return fmt.Errorf("detector scan: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}

	workerCount := d.maxParallel
	if len(requests) < workerCount {
		workerCount = len(requests)
	}

	workQueue := make(chan *Request, len(requests))
	for _, r := range requests {
		workQueue <- r
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range workQueue {
				if err := d.processRequest(ctx, r); err != nil {
					d.metrics.RecordError(string(Classify(err)))
					d.logger.WithRequestID(r.ID).WithError(err).Warn("Drift check failed, will retry next cycle")
				}
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()

	d.logger.Debugf("Drift pass settled over %d requests", len(requests))
	return nil
}

// processRequest checks one request's live rule and applies at most one
// status transition.
func (d *Detector) processRequest(ctx context.Context, r *Request) error {
	rows, err := d.inventory.FindLiveRules(ctx, r.Key())
	if err != nil {
		return NewTransientError("inventory lookup failed", err).WithRequest(r.ID).WithOperation("detect")
	}

	switch len(rows) {
	case 0:
		// Someone deleted the rule outside this system. Terminal.
		return d.transition(ctx, r, StatusDetectDeleted, DriftKindDeleted)

	case 1:
		live := rows[0]
		switch {
		case r.Status == StatusCompleted && !live.Matches(r):
			return d.transition(ctx, r, StatusDetectModified, DriftKindModified)
		case r.Status == StatusDetectModified && live.Matches(r):
			return d.transition(ctx, r, StatusCompleted, DriftKindResolved)
		}
		return nil

	default:
		// More than one live row for a single rule key. Not modeled;
		// surface it without transitioning.
		d.metrics.RecordInventoryAnomaly()
		d.logger.WithRequestID(r.ID).
			WithField("rows", len(rows)).
			Warn("Inventory returned multiple rows for one rule key")
		return nil
	}
}

// transition applies one detector transition. A stale claim means another
// actor already moved the record; that is not an error for this pass.
func (d *Detector) transition(ctx context.Context, r *Request, to Status, kind string) error {
	err := d.store.Transition(ctx, TransitionUpdate{
		ID:   r.ID,
		From: r.Status,
		To:   to,
		At:   time.Now(),
	})
	if err != nil {
		if IsConflict(err) {
			d.logger.WithRequestID(r.ID).Debug("Request moved concurrently, skipping")
			return nil
		}
		return err
	}

	d.metrics.RecordTransition(string(r.Status), string(to))
	d.metrics.RecordDriftDetection(kind)
	d.logger.WithRequestID(r.ID).
		WithField("from", r.Status).
		WithField("to", to).
		Info("Drift transition recorded")
	return nil
}
