package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sgward/sgward/pkg/rule"
	"github.com/sgward/sgward/pkg/telemetry"
)

func newTestLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func newTestMetrics(t *testing.T) *telemetry.Metrics {
	t.Helper()
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return metrics
}

// fakeStore implements RequestStore in memory, recording every transition.
type fakeStore struct {
	mu       sync.Mutex
	requests []*Request

	listErr       error
	transitionErr map[int64]error

	transitions []TransitionUpdate
}

func (f *fakeStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Request, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Request
	for _, r := range f.requests {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Transition(_ context.Context, up TransitionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.transitionErr[up.ID]; ok {
		return err
	}
	f.transitions = append(f.transitions, up)
	for _, r := range f.requests {
		if r.ID == up.ID {
			r.Status = up.To
			if up.RuleID != nil {
				r.RuleID = up.RuleID
			}
		}
	}
	return nil
}

func (f *fakeStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counts := make(map[Status]int)
	for _, r := range f.requests {
		counts[r.Status]++
	}
	return counts, nil
}

func (f *fakeStore) recorded() []TransitionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TransitionUpdate, len(f.transitions))
	copy(out, f.transitions)
	return out
}

// fakeInventory implements Inventory from a fixed answer per rule id.
type fakeInventory struct {
	rules map[string][]LiveRule
	err   error
}

func (f *fakeInventory) FindLiveRules(_ context.Context, key RuleKey) ([]LiveRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules[key.RuleID], nil
}

// fakeProvider implements Provider from per-operation functions.
type fakeProvider struct {
	createFn func(ctx context.Context, r *Request) (MutationResult, error)
	modifyFn func(ctx context.Context, r *Request) (MutationResult, error)
	deleteFn func(ctx context.Context, r *Request) (MutationResult, error)
}

func (f *fakeProvider) CreateRule(ctx context.Context, r *Request) (MutationResult, error) {
	return f.createFn(ctx, r)
}

func (f *fakeProvider) ModifyRule(ctx context.Context, r *Request) (MutationResult, error) {
	return f.modifyFn(ctx, r)
}

func (f *fakeProvider) DeleteRule(ctx context.Context, r *Request) (MutationResult, error) {
	return f.deleteFn(ctx, r)
}

// testRequest builds a request with a live-matching shape.
func testRequest(id int64, status Status) *Request {
	ruleID := "sgr-0abc"
	return &Request{
		ID:          id,
		UID:         rule.UID("123456789012", "sg-abc", rule.ProtocolTCP, 443, "10.0.0.0/16"),
		AccountID:   "123456789012",
		Region:      "eu-west-1",
		GroupID:     "sg-abc",
		Protocol:    rule.ProtocolTCP,
		Port:        443,
		Source:      "10.0.0.0/16",
		RuleID:      &ruleID,
		Status:      status,
		Reason:      "allow api traffic",
		RequesterID: "user-1",
		RequestedAt: time.Now(),
	}
}

// matchingLiveRule returns the provider-side row for testRequest.
func matchingLiveRule(r *Request) LiveRule {
	return LiveRule{
		AccountID: r.AccountID,
		Region:    r.Region,
		GroupID:   r.GroupID,
		RuleID:    *r.RuleID,
		FromPort:  r.Port,
		ToPort:    r.Port,
		Protocol:  r.Protocol.Wire(),
		CIDR:      r.Source,
	}
}
