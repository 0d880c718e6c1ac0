package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sgward/sgward/pkg/telemetry"
)

// Provider operation names used for logs and metrics.
const (
	OpCreate = "create"
	OpModify = "modify"
	OpDelete = "delete"
)

// Applier issues the provider mutation for every approved request and
// records the outcome. A definitive provider failure moves the record to
// its FAILED_* state for human remediation; transient errors leave it
// untouched for the next cycle.
type Applier struct {
	store    RequestStore
	provider Provider
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics

	// maxParallel bounds concurrent request handling within one pass.
	maxParallel int

	// callTimeout bounds each provider call.
	callTimeout time.Duration
}

// NewApplier creates a change applier.
func NewApplier(store RequestStore, provider Provider, logger *telemetry.Logger, metrics *telemetry.Metrics, maxParallel int, callTimeout time.Duration) *Applier {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Applier{
		store:       store,
		provider:    provider,
		logger:      logger.NewComponentLogger("applier"),
		metrics:     metrics,
		maxParallel: maxParallel,
		callTimeout: callTimeout,
	}
}

// RunPass scans every approved request and issues its mutation. The initial
// scan failing aborts the pass; errors while handling one request are
// contained to that request. The pass returns only after all dispatched
// work has settled, so overlapping ticks never double-issue a mutation.
func (a *Applier) RunPass(ctx context.Context) error {
	requests, err := a.store.ListByStatus(ctx, StatusApproveCreate, StatusApproveModify, StatusApproveDelete)
	if err != nil {
		return fmt.Errorf("applier scan: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}

	workerCount := a.maxParallel
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
				if err := a.processRequest(ctx, r); err != nil {
					a.metrics.RecordError(string(Classify(err)))
					a.logger.WithRequestID(r.ID).WithError(err).Warn("Apply failed, will retry next cycle")
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

	a.logger.Debugf("Apply pass settled over %d requests", len(requests))
	return nil
}

// processRequest issues the mutation matching the request's approved state.
func (a *Applier) processRequest(ctx context.Context, r *Request) error {
	switch r.Status {
	case StatusApproveCreate:
		return a.apply(ctx, r, OpCreate, a.provider.CreateRule, StatusCompleted, StatusFailedCreate)
	case StatusApproveModify:
		return a.apply(ctx, r, OpModify, a.provider.ModifyRule, StatusCompleted, StatusFailedModify)
	case StatusApproveDelete:
		return a.apply(ctx, r, OpDelete, a.provider.DeleteRule, StatusDeleted, StatusFailedDelete)
	default:
		return NewPermanentError("request is not in an approved state", nil).
			WithRequest(r.ID).WithCode(ErrCodeInvalidTransition)
	}
}

// apply runs one provider mutation and writes exactly one outcome: the
// success status when the provider confirms the change, the failure status
// when it explicitly refuses it. A rule identifier returned alongside a
// refusal is still recorded so the partial result is not lost. Retryable
// errors (timeouts, throttling, connectivity) leave the record unchanged;
// an ambiguous outcome must never be booked as a failure.
func (a *Applier) apply(
	ctx context.Context,
	r *Request,
	op string,
	call func(context.Context, *Request) (MutationResult, error),
	onSuccess, onFailure Status,
) error {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	start := time.Now()
	res, err := call(callCtx, r)
	cancel()

	if err != nil {
		a.metrics.RecordProviderError(op)
		if IsRetryable(err) {
			return err
		}
		// A permanent provider error is as definitive as an explicit
		// refusal: the mutation was not applied.
		a.logger.WithRequestID(r.ID).WithError(err).Errorf("Provider rejected %s", op)
		return a.book(ctx, r, onFailure, nil, time.Now())
	}

	status := "applied"
	if !res.Applied {
		status = "refused"
	}
	a.metrics.RecordProviderCall(op, status, time.Since(start))

	var ruleID *string
	if res.RuleID != "" {
		ruleID = &res.RuleID
	}

	if !res.Applied {
		a.logger.WithRequestID(r.ID).Warnf("Provider refused %s", op)
		return a.book(ctx, r, onFailure, ruleID, time.Now())
	}

	return a.book(ctx, r, onSuccess, ruleID, time.Now())
}

// book records the outcome of a mutation as one conditional transition.
func (a *Applier) book(ctx context.Context, r *Request, to Status, ruleID *string, at time.Time) error {
	err := a.store.Transition(ctx, TransitionUpdate{
		ID:     r.ID,
		From:   r.Status,
		To:     to,
		RuleID: ruleID,
		At:     at,
	})
	if err != nil {
		if IsConflict(err) {
			a.logger.WithRequestID(r.ID).Debug("Request moved concurrently, skipping")
			return nil
		}
		return err
	}

	a.metrics.RecordTransition(string(r.Status), string(to))
	a.logger.WithRequestID(r.ID).
		WithField("from", r.Status).
		WithField("to", to).
		Info("Mutation outcome recorded")
	return nil
}
