package engine

import (
	"time"

	"github.com/sgward/sgward/pkg/rule"
)

// Request is one requested security-group ingress rule with its lifecycle
// state. The request store is the sole writer of Status and the timestamp
// fields after creation.
type Request struct {
	// ID is the store-assigned immutable identity.
	ID int64

	// UID is the deterministic dedup key, unique among requests that are
	// not terminally deleted.
	UID string

	// AccountID, Region and GroupID identify the firewall group being
	// modified, resolved by the intake layer.
	AccountID string
	Region    string
	GroupID   string

	// Protocol, Port and Source describe the rule. Source is a CIDR block
	// or a referenced group id (rule.GroupRefPrefix), never both.
	Protocol rule.Protocol
	Port     int32
	Source   string

	// RuleID is the provider-assigned rule identifier. Set after a
	// successful create, absent before creation or after deletion.
	RuleID *string

	// Status is the lifecycle state; see the transition table in status.go.
	Status Status

	// Reason is the free-text justification captured at request time.
	Reason string

	// RequesterID references the owning user.
	RequesterID string

	RequestedAt time.Time
	CreatedAt   *time.Time
	ModifiedAt  *time.Time
	DeletedAt   *time.Time
}

// Key returns the inventory lookup key for the request's live rule.
func (r *Request) Key() RuleKey {
	key := RuleKey{AccountID: r.AccountID, GroupID: r.GroupID}
	if r.RuleID != nil {
		key.RuleID = *r.RuleID
	}
	return key
}

// RuleKey identifies one live rule in the provider inventory.
type RuleKey struct {
	AccountID string
	GroupID   string
	RuleID    string
}

// LiveRule is one row of live provider state for a security-group rule, as
// mirrored by the inventory store. Field semantics follow the provider's
// rule schema: the protocol is lowercased, and exactly one of
// ReferencedGroupID and CIDR is populated.
type LiveRule struct {
	AccountID         string
	Region            string
	GroupID           string
	RuleID            string
	FromPort          int32
	ToPort            int32
	Protocol          string
	ReferencedGroupID string
	CIDR              string
}

// Matches reports whether the live rule still matches the approved request
// field-by-field. The protocol compares case-insensitively because the
// provider lowercases it; the source must equal either the referenced group
// id or the CIDR of the live row.
func (l *LiveRule) Matches(r *Request) bool {
	if r.RuleID == nil {
		return false
	}
	return l.AccountID == r.AccountID &&
		l.Region == r.Region &&
		l.GroupID == r.GroupID &&
		l.RuleID == *r.RuleID &&
		l.ToPort == r.Port &&
		l.FromPort == r.Port &&
		r.Protocol.EqualWire(l.Protocol) &&
		(r.Source == l.ReferencedGroupID || r.Source == l.CIDR)
}

// MutationResult is the provider's signal for one rule mutation. Applied is
// the provider's explicit success flag; RuleID carries the identifier a
// create returned, which is recorded even when Applied is false so partial
// provider responses are not lost.
type MutationResult struct {
	Applied bool
	RuleID  string
}

// TransitionUpdate describes one conditional status transition. The store
// applies it only if the record is still in From, so a record claimed by a
// concurrent pass is never double-processed.
type TransitionUpdate struct {
	ID   int64
	From Status
	To   Status

	// RuleID, when non-nil, records the provider-assigned identifier.
	RuleID *string

	// At stamps the timestamp column owned by To (created_at for COMPLETED
	// after a create, modified_at after a modify, deleted_at for DELETED).
	At time.Time
}
