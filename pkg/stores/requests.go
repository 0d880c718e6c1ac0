package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/sgward/sgward/pkg/engine"
	"github.com/sgward/sgward/pkg/rule"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RequestStore implements engine.RequestStore using SQLite.
type RequestStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ engine.RequestStore = (*RequestStore)(nil)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewRequestStore creates a new request store instance.
func NewRequestStore(cfg Config) (*RequestStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &RequestStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *RequestStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *RequestStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *RequestStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *RequestStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

const requestColumns = `id, uid, account_id, region, group_id, protocol, port, source,
		rule_id, status, reason, requester_id, requested_at, created_at, modified_at, deleted_at`

// CreateRequest persists a new request. The caller (the intake workflow)
// has already validated the rule shape; the store fills in the dedup key
// and requested_at when absent and enforces uid uniqueness among live
// requests.
func (s *RequestStore) CreateRequest(ctx context.Context, r *engine.Request) error {
	if err := r.Status.Validate(); err != nil {
		return engine.NewPermanentError("invalid request status", err)
	}
	if r.UID == "" {
		r.UID = rule.UID(r.AccountID, r.GroupID, r.Protocol, r.Port, r.Source)
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now()
	}

	query := `
		INSERT INTO security_group_requests
			(uid, account_id, region, group_id, protocol, port, source,
			 rule_id, status, reason, requester_id, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		r.UID,
		r.AccountID,
		r.Region,
		r.GroupID,
		string(r.Protocol),
		r.Port,
		r.Source,
		r.RuleID,
		string(r.Status),
		r.Reason,
		r.RequesterID,
		r.RequestedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return engine.NewConflictError("a live request already exists for this rule", err).
				WithCode(engine.ErrCodeDuplicateUID)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted id: %w", err)
	}
	r.ID = id
	return nil
}

// GetRequest retrieves a request by id.
func (s *RequestStore) GetRequest(ctx context.Context, id int64) (*engine.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM security_group_requests WHERE id = ?`, requestColumns)

	r, err := scanRequest(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewPermanentError(fmt.Sprintf("request not found: %d", id), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

// ListByStatus returns every request currently in one of the given statuses.
func (s *RequestStore) ListByStatus(ctx context.Context, statuses ...engine.Status) ([]*engine.Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	query := fmt.Sprintf(`SELECT %s FROM security_group_requests WHERE status IN (%s) ORDER BY id`,
		requestColumns, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*engine.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return requests, nil
}

// CountByStatus returns the number of requests per status.
func (s *RequestStore) CountByStatus(ctx context.Context) (map[engine.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM security_group_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[engine.Status(status)] = count
	}
	return counts, rows.Err()
}

// Transition applies one conditional status transition. The write only
// lands if the record is still in the expected From status; a stale claim
// is reported as a conflict so concurrent passes never double-process a
// record. The timestamp column owned by the move is stamped exactly once,
// and a transition into DELETED clears the provider rule linkage.
func (s *RequestStore) Transition(ctx context.Context, up engine.TransitionUpdate) error {
	if err := up.From.Validate(); err != nil {
		return engine.NewPermanentError("invalid transition source", err).
			WithCode(engine.ErrCodeInvalidTransition).WithRequest(up.ID)
	}
	if !up.From.CanTransition(up.To) {
		return engine.NewPermanentError(
			fmt.Sprintf("transition %s -> %s is not in the transition table", up.From, up.To), nil).
			WithCode(engine.ErrCodeInvalidTransition).WithRequest(up.ID)
	}

	at := up.At
	if at.IsZero() {
		at = time.Now()
	}

	sets := []string{"status = ?"}
	args := []interface{}{string(up.To)}

	if up.RuleID != nil && up.To != engine.StatusDeleted {
		sets = append(sets, "rule_id = ?")
		args = append(args, *up.RuleID)
	}

	switch {
	case up.From == engine.StatusApproveCreate && up.To == engine.StatusCompleted:
		sets = append(sets, "created_at = ?")
		args = append(args, at)
	case up.From == engine.StatusApproveModify && up.To == engine.StatusCompleted:
		sets = append(sets, "modified_at = ?")
		args = append(args, at)
	case up.To == engine.StatusDeleted:
		sets = append(sets, "deleted_at = ?", "rule_id = NULL")
		args = append(args, at)
	}

	args = append(args, up.ID, string(up.From))
	query := fmt.Sprintf(`UPDATE security_group_requests SET %s WHERE id = ? AND status = ?`,
		strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition request %d: %w", up.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetRequest(ctx, up.ID); getErr != nil {
			return getErr
		}
		return engine.NewConflictError(
			fmt.Sprintf("request %d is no longer in %s", up.ID, up.From), nil).
			WithCode(engine.ErrCodeStaleClaim).WithRequest(up.ID)
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(sc scanner) (*engine.Request, error) {
	var (
		r          engine.Request
		protocol   string
		status     string
		ruleID     sql.NullString
		createdAt  sql.NullTime
		modifiedAt sql.NullTime
		deletedAt  sql.NullTime
	)

	err := sc.Scan(
		&r.ID,
		&r.UID,
		&r.AccountID,
		&r.Region,
		&r.GroupID,
		&protocol,
		&r.Port,
		&r.Source,
		&ruleID,
		&status,
		&r.Reason,
		&r.RequesterID,
		&r.RequestedAt,
		&createdAt,
		&modifiedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	// Stored values are tolerated as-is; the engine never crashes on a
	// row that predates current validation.
	r.Protocol = rule.Protocol(protocol)
	r.Status = engine.Status(status)
	if ruleID.Valid {
		r.RuleID = &ruleID.String
	}
	if createdAt.Valid {
		r.CreatedAt = &createdAt.Time
	}
	if modifiedAt.Valid {
		r.ModifiedAt = &modifiedAt.Time
	}
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return &r, nil
}
