package engine

import "context"

// RequestStore is the persisted collection of mutation requests. It is the
// single source of truth for request status; all transitions are
// single-record conditional writes.
type RequestStore interface {
	// ListByStatus returns every request currently in one of the given
	// statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Request, error)

	// Transition applies one conditional status transition. It returns a
	// conflict error (ErrCodeStaleClaim) when the record is no longer in
	// the expected From status, and a permanent error
	// (ErrCodeInvalidTransition) when the move is not in the transition
	// table.
	Transition(ctx context.Context, up TransitionUpdate) error
}

// StatusCounter reports how many requests sit in each status. The loop uses
// it to refresh the requests-by-status gauge after every cycle.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Provider is the contract over the cloud provider's rule-mutation API.
// Calls are not idempotent at the provider level; the engine guarantees
// at-most-one in-flight mutation per request.
type Provider interface {
	// CreateRule authorizes a new ingress rule on the request's group.
	CreateRule(ctx context.Context, r *Request) (MutationResult, error)

	// ModifyRule updates the rule identified by the request's RuleID.
	ModifyRule(ctx context.Context, r *Request) (MutationResult, error)

	// DeleteRule revokes the ingress rule described by the request.
	DeleteRule(ctx context.Context, r *Request) (MutationResult, error)
}

// Inventory is the read-only query over mirrored live provider state. It
// returns every row matching the key; absence means the rule no longer
// exists on the provider side.
type Inventory interface {
	FindLiveRules(ctx context.Context, key RuleKey) ([]LiveRule, error)
}
