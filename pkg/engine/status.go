package engine

import "fmt"

// Status represents the lifecycle state of a security-group request.
//
// Records enter in a REQUEST_* state via the intake workflow, an approver
// moves them to APPROVE_*, and from there only the engine advances them:
// the applier into COMPLETED/DELETED/FAILED_*, the detector between
// COMPLETED, DETECT_MODIFIED and DETECT_DELETED.
type Status string

const (
	// StatusRequestCreate indicates a new rule awaiting approval.
	StatusRequestCreate Status = "REQUEST_CREATE"

	// StatusRequestModify indicates a change to an existing rule awaiting approval.
	StatusRequestModify Status = "REQUEST_MODIFY"

	// StatusRequestDelete indicates a rule removal awaiting approval.
	StatusRequestDelete Status = "REQUEST_DELETE"

	// StatusApproveCreate indicates an approved create the applier must issue.
	StatusApproveCreate Status = "APPROVE_CREATE"

	// StatusApproveModify indicates an approved modification the applier must issue.
	StatusApproveModify Status = "APPROVE_MODIFY"

	// StatusApproveDelete indicates an approved deletion the applier must issue.
	StatusApproveDelete Status = "APPROVE_DELETE"

	// StatusCompleted indicates the rule exists on the provider as approved.
	StatusCompleted Status = "COMPLETED"

	// StatusDeleted indicates the rule was deleted through this system.
	// The record stays for audit; it is never hard-deleted.
	StatusDeleted Status = "DELETED"

	// StatusFailedCreate indicates the provider refused the create.
	// Requires human remediation; never retried automatically.
	StatusFailedCreate Status = "FAILED_CREATE"

	// StatusFailedModify indicates the provider refused the modification.
	StatusFailedModify Status = "FAILED_MODIFY"

	// StatusFailedDelete indicates the provider refused the deletion.
	StatusFailedDelete Status = "FAILED_DELETE"

	// StatusDetectModified indicates live state has drifted from the
	// approved rule. Self-heals back to COMPLETED if the drift disappears.
	StatusDetectModified Status = "DETECT_MODIFIED"

	// StatusDetectDeleted indicates the rule vanished from the provider
	// outside this system. Terminal.
	StatusDetectDeleted Status = "DETECT_DELETED"
)

// transitions is the closed transition table. The engine only performs moves
// listed here; anything else is a programming error, not a silent no-op.
// Approvers additionally move REQUEST_* to APPROVE_* and FAILED_* back to
// APPROVE_* (re-approval), which the table includes but the engine never
// initiates.
var transitions = map[Status][]Status{
	StatusRequestCreate: {StatusApproveCreate},
	StatusRequestModify: {StatusApproveModify},
	StatusRequestDelete: {StatusApproveDelete},

	StatusApproveCreate: {StatusCompleted, StatusFailedCreate},
	StatusApproveModify: {StatusCompleted, StatusFailedModify},
	StatusApproveDelete: {StatusDeleted, StatusFailedDelete},

	StatusCompleted:      {StatusDetectModified, StatusDetectDeleted},
	StatusDetectModified: {StatusCompleted, StatusDetectDeleted},

	StatusFailedCreate: {StatusApproveCreate},
	StatusFailedModify: {StatusApproveModify},
	StatusFailedDelete: {StatusApproveDelete},

	StatusDeleted:       {},
	StatusDetectDeleted: {},
}

// Statuses returns every member of the closed status set.
func Statuses() []Status {
	out := make([]Status, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	return out
}

// Validate checks that the status is a member of the closed set.
func (s Status) Validate() error {
	if _, ok := transitions[s]; !ok {
		return fmt.Errorf("invalid status: %s", s)
	}
	return nil
}

// CanTransition reports whether the move from s to next is in the table.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsActionable reports whether the applier must issue a provider mutation
// for a record in this state.
func (s Status) IsActionable() bool {
	return s == StatusApproveCreate || s == StatusApproveModify || s == StatusApproveDelete
}

// IsConverged reports whether the detector re-verifies a record in this
// state against live provider state.
func (s Status) IsConverged() bool {
	return s == StatusCompleted || s == StatusDetectModified
}

// IsTerminal reports whether no further automatic transition can occur.
// FAILED_* states are terminal for the engine but may be re-approved by a
// human.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDeleted, StatusDetectDeleted,
		StatusFailedCreate, StatusFailedModify, StatusFailedDelete:
		return true
	}
	return false
}

// IsDeleted reports whether the record represents a rule that no longer
// exists, which releases its UID for reuse by a new request.
func (s Status) IsDeleted() bool {
	return s == StatusDeleted || s == StatusDetectDeleted
}
