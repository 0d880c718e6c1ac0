package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sgward/sgward/pkg/engine"
	"github.com/sgward/sgward/pkg/rule"
)

// setupTestStore creates a migrated store on a temporary database file.
// A file path rather than :memory: because the pool opens more than one
// connection.
func setupTestStore(t *testing.T) *RequestStore {
	t.Helper()

	store, err := NewRequestStore(Config{
		Path: filepath.Join(t.TempDir(), "requests.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newStoredRequest(status engine.Status) *engine.Request {
	return &engine.Request{
		AccountID:   "123456789012",
		Region:      "eu-west-1",
		GroupID:     "sg-abc",
		Protocol:    rule.ProtocolTCP,
		Port:        443,
		Source:      "10.0.0.0/16",
		Status:      status,
		Reason:      "allow api traffic",
		RequesterID: "user-1",
	}
}

// TestStoreLifecycle tests initialization, health check and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewRequestStore(Config{
		Path: filepath.Join(t.TempDir(), "requests.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests that the schema lands
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	var count int
	err := store.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM security_group_requests").Scan(&count)
	if err != nil {
		t.Fatalf("security_group_requests is not accessible: %v", err)
	}
	if count != 0 {
		t.Errorf("expected an empty table, got %d rows", count)
	}
}

// TestCreateRequest tests creation with derived uid and assigned id
func TestCreateRequest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := newStoredRequest(engine.StatusRequestCreate)
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	if r.ID == 0 {
		t.Error("expected an assigned id")
	}
	wantUID := rule.UID(r.AccountID, r.GroupID, r.Protocol, r.Port, r.Source)
	if r.UID != wantUID {
		t.Errorf("expected derived uid %s, got %s", wantUID, r.UID)
	}
	if r.RequestedAt.IsZero() {
		t.Error("expected requested_at to be stamped")
	}

	got, err := store.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("failed to get request: %v", err)
	}
	if got.Status != engine.StatusRequestCreate {
		t.Errorf("expected status REQUEST_CREATE, got %s", got.Status)
	}
	if got.Protocol != rule.ProtocolTCP || got.Port != 443 || got.Source != "10.0.0.0/16" {
		t.Errorf("rule fields did not round-trip: %+v", got)
	}
	if got.RuleID != nil {
		t.Errorf("expected no rule id before creation, got %v", *got.RuleID)
	}
	if got.CreatedAt != nil || got.ModifiedAt != nil || got.DeletedAt != nil {
		t.Error("expected lifecycle timestamps to be unset")
	}
}

// TestCreateRequestRejectsInvalidStatus tests status validation on intake
func TestCreateRequestRejectsInvalidStatus(t *testing.T) {
	store := setupTestStore(t)

	r := newStoredRequest("PENDING")
	err := store.CreateRequest(context.Background(), r)
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
	if engine.IsRetryable(err) {
		t.Errorf("expected a permanent error, got %v", err)
	}
}

// TestDuplicateUIDConflict tests uid uniqueness among live requests
func TestDuplicateUIDConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := newStoredRequest(engine.StatusRequestCreate)
	if err := store.CreateRequest(ctx, first); err != nil {
		t.Fatalf("failed to create first request: %v", err)
	}

	dup := newStoredRequest(engine.StatusRequestCreate)
	err := store.CreateRequest(ctx, dup)
	if err == nil {
		t.Fatal("expected a conflict for the duplicate rule")
	}
	if !engine.IsConflict(err) {
		t.Errorf("expected a conflict error, got %v", err)
	}

	var e *engine.Error
	if !errors.As(err, &e) || e.Code != engine.ErrCodeDuplicateUID {
		t.Errorf("expected code %s, got %v", engine.ErrCodeDuplicateUID, err)
	}
}

// TestDeletedUIDIsReleased tests that terminally deleted requests release
// their uid for a new request
func TestDeletedUIDIsReleased(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := newStoredRequest(engine.StatusApproveDelete)
	if err := store.CreateRequest(ctx, first); err != nil {
		t.Fatalf("failed to create first request: %v", err)
	}
	err := store.Transition(ctx, engine.TransitionUpdate{
		ID: first.ID, From: engine.StatusApproveDelete, To: engine.StatusDeleted,
	})
	if err != nil {
		t.Fatalf("failed to delete first request: %v", err)
	}

	second := newStoredRequest(engine.StatusRequestCreate)
	if err := store.CreateRequest(ctx, second); err != nil {
		t.Fatalf("expected the uid to be reusable after deletion: %v", err)
	}
}

// TestGetRequestNotFound tests the missing-record error
func TestGetRequestNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRequest(context.Background(), 9999)
	if err == nil {
		t.Fatal("expected error for a missing request")
	}
	var e *engine.Error
	if !errors.As(err, &e) || e.Code != engine.ErrCodeNotFound {
		t.Errorf("expected code %s, got %v", engine.ErrCodeNotFound, err)
	}
}

// TestListByStatus tests scanning status subsets
func TestListByStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	statuses := []engine.Status{
		engine.StatusApproveCreate,
		engine.StatusApproveModify,
		engine.StatusCompleted,
		engine.StatusDetectModified,
	}
	for i, status := range statuses {
		r := newStoredRequest(status)
		r.Port = int32(8000 + i) // distinct uid per row
		if err := store.CreateRequest(ctx, r); err != nil {
			t.Fatalf("failed to create request %d: %v", i, err)
		}
	}

	actionable, err := store.ListByStatus(ctx, engine.StatusApproveCreate, engine.StatusApproveModify, engine.StatusApproveDelete)
	if err != nil {
		t.Fatalf("failed to list actionable requests: %v", err)
	}
	if len(actionable) != 2 {
		t.Errorf("expected 2 actionable requests, got %d", len(actionable))
	}

	converged, err := store.ListByStatus(ctx, engine.StatusCompleted, engine.StatusDetectModified)
	if err != nil {
		t.Fatalf("failed to list converged requests: %v", err)
	}
	if len(converged) != 2 {
		t.Errorf("expected 2 converged requests, got %d", len(converged))
	}

	none, err := store.ListByStatus(ctx)
	if err != nil {
		t.Fatalf("unexpected error for an empty status list: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no requests for an empty status list, got %d", len(none))
	}
}

// TestCountByStatus tests the per-status summary
func TestCountByStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := newStoredRequest(engine.StatusApproveCreate)
		r.Port = int32(8000 + i)
		if err := store.CreateRequest(ctx, r); err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
	}
	r := newStoredRequest(engine.StatusCompleted)
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("failed to count requests: %v", err)
	}
	if counts[engine.StatusApproveCreate] != 3 {
		t.Errorf("expected 3 APPROVE_CREATE, got %d", counts[engine.StatusApproveCreate])
	}
	if counts[engine.StatusCompleted] != 1 {
		t.Errorf("expected 1 COMPLETED, got %d", counts[engine.StatusCompleted])
	}
}

// TestTransitionCreateStampsCreatedAt tests the applied-create bookkeeping
func TestTransitionCreateStampsCreatedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := newStoredRequest(engine.StatusApproveCreate)
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	ruleID := "sgr-0abc"
	err := store.Transition(ctx, engine.TransitionUpdate{
		ID:     r.ID,
		From:   engine.StatusApproveCreate,
		To:     engine.StatusCompleted,
		RuleID: &ruleID,
		At:     time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to transition request: %v", err)
	}

	got, err := store.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("failed to get request: %v", err)
	}
	if got.Status != engine.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if got.RuleID == nil || *got.RuleID != ruleID {
		t.Errorf("expected rule id %s, got %v", ruleID, got.RuleID)
	}
	if got.CreatedAt == nil {
		t.Error("expected created_at to be stamped")
	}
	if got.ModifiedAt != nil || got.DeletedAt != nil {
		t.Error("expected modified_at and deleted_at to stay unset")
	}
}

// TestTransitionModifyStampsModifiedAt tests the applied-modify bookkeeping
func TestTransitionModifyStampsModifiedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := newStoredRequest(engine.StatusApproveModify)
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	err := store.Transition(ctx, engine.TransitionUpdate{
		ID:   r.ID,
		From: engine.StatusApproveModify,
		To:   engine.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("failed to transition request: %v", err)
	}

	got, err := store.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("failed to get request: %v", err)
	}
	if got.ModifiedAt == nil {
		t.Error("expected modified_at to be stamped")
	}
	if got.CreatedAt != nil {
		t.Error("expected created_at to stay unset")
	}
}

// TestTransitionDeleteClearsRuleID tests that deletion severs the provider
// rule linkage and stamps deleted_at
func TestTransitionDeleteClearsRuleID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ruleID := "sgr-0abc"
	r := newStoredRequest(engine.StatusApproveDelete)
	r.RuleID = &ruleID
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	err := store.Transition(ctx, engine.TransitionUpdate{
		ID:   r.ID,
		From: engine.StatusApproveDelete,
		To:   engine.StatusDeleted,
	})
	if err != nil {
		t.Fatalf("failed to transition request: %v", err)
	}

	got, err := store.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("failed to get request: %v", err)
	}
	if got.Status != engine.StatusDeleted {
		t.Errorf("expected DELETED, got %s", got.Status)
	}
	if got.RuleID != nil {
		t.Errorf("expected rule id to be cleared, got %v", *got.RuleID)
	}
	if got.DeletedAt == nil {
		t.Error("expected deleted_at to be stamped")
	}
}

// TestTransitionDetectDeletedKeepsRuleID tests that an externally deleted
// rule keeps its identifier for the audit trail
func TestTransitionDetectDeletedKeepsRuleID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ruleID := "sgr-0abc"
	r := newStoredRequest(engine.StatusCompleted)
	r.RuleID = &ruleID
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	err := store.Transition(ctx, engine.TransitionUpdate{
		ID:   r.ID,
		From: engine.StatusCompleted,
		To:   engine.StatusDetectDeleted,
	})
	if err != nil {
		t.Fatalf("failed to transition request: %v", err)
	}

	got, err := store.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("failed to get request: %v", err)
	}
	if got.RuleID == nil || *got.RuleID != ruleID {
		t.Errorf("expected rule id to be kept, got %v", got.RuleID)
	}
}

// TestTransitionRejectsInvalidMove tests the transition table enforcement
func TestTransitionRejectsInvalidMove(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := newStoredRequest(engine.StatusRequestCreate)
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	err := store.Transition(ctx, engine.TransitionUpdate{
		ID:   r.ID,
		From: engine.StatusRequestCreate,
		To:   engine.StatusCompleted,
	})
	if err == nil {
		t.Fatal("expected error for a move outside the transition table")
	}
	var e *engine.Error
	if !errors.As(err, &e) || e.Code != engine.ErrCodeInvalidTransition {
		t.Errorf("expected code %s, got %v", engine.ErrCodeInvalidTransition, err)
	}

	got, _ := store.GetRequest(ctx, r.ID)
	if got.Status != engine.StatusRequestCreate {
		t.Errorf("expected the record untouched, got %s", got.Status)
	}
}

// TestTransitionStaleClaim tests the conditional write claim
func TestTransitionStaleClaim(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := newStoredRequest(engine.StatusApproveCreate)
	if err := store.CreateRequest(ctx, r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	// First claim wins.
	err := store.Transition(ctx, engine.TransitionUpdate{
		ID: r.ID, From: engine.StatusApproveCreate, To: engine.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("first transition failed: %v", err)
	}

	// Second claim against the stale status loses.
	err = store.Transition(ctx, engine.TransitionUpdate{
		ID: r.ID, From: engine.StatusApproveCreate, To: engine.StatusFailedCreate,
	})
	if err == nil {
		t.Fatal("expected a stale claim conflict")
	}
	if !engine.IsConflict(err) {
		t.Errorf("expected a conflict error, got %v", err)
	}
	var e *engine.Error
	if !errors.As(err, &e) || e.Code != engine.ErrCodeStaleClaim {
		t.Errorf("expected code %s, got %v", engine.ErrCodeStaleClaim, err)
	}

	got, _ := store.GetRequest(ctx, r.ID)
	if got.Status != engine.StatusCompleted {
		t.Errorf("expected the first outcome to stand, got %s", got.Status)
	}
}

// TestTransitionMissingRequest tests transitioning an id that does not exist
func TestTransitionMissingRequest(t *testing.T) {
	store := setupTestStore(t)

	err := store.Transition(context.Background(), engine.TransitionUpdate{
		ID: 9999, From: engine.StatusApproveCreate, To: engine.StatusCompleted,
	})
	if err == nil {
		t.Fatal("expected error for a missing request")
	}
	var e *engine.Error
	if !errors.As(err, &e) || e.Code != engine.ErrCodeNotFound {
		t.Errorf("expected code %s, got %v", engine.ErrCodeNotFound, err)
	}
}
