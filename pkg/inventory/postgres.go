// Package inventory reads mirrored live provider state. The mirror is a
// Postgres database populated by an external inventory collector; this
// package only runs read-only, parameterized lookups against it.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Postgres driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sgward/sgward/pkg/engine"
)

// PostgresInventory implements engine.Inventory against the mirrored
// aws_vpc_security_group_rule table.
type PostgresInventory struct {
	db *sql.DB
}

var _ engine.Inventory = (*PostgresInventory)(nil)

// Open connects to the inventory mirror.
func Open(dsn string) (*PostgresInventory, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	return &PostgresInventory{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *PostgresInventory {
	return &PostgresInventory{db: db}
}

// Close closes the database connection.
func (p *PostgresInventory) Close() error {
	return p.db.Close()
}

// HealthCheck verifies the mirror is reachable.
func (p *PostgresInventory) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const findLiveRulesQuery = `
	SELECT
		account_id,
		region,
		group_id,
		security_group_rule_id,
		from_port,
		to_port,
		ip_protocol,
		COALESCE(referenced_group_id, ''),
		COALESCE(cidr_ipv4, '')
	FROM
		aws_vpc_security_group_rule
	WHERE
		group_id = $1
		AND security_group_rule_id = $2
		AND account_id = $3
`

// FindLiveRules returns every mirrored row matching the rule key. Zero rows
// means the rule no longer exists on the provider side; more than one row
// is an anomaly the caller decides how to treat.
func (p *PostgresInventory) FindLiveRules(ctx context.Context, key engine.RuleKey) ([]engine.LiveRule, error) {
	rows, err := p.db.QueryContext(ctx, findLiveRulesQuery, key.GroupID, key.RuleID, key.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query live rules: %w", err)
	}
	defer rows.Close()

	var live []engine.LiveRule
	for rows.Next() {
		var l engine.LiveRule
		if err := rows.Scan(
			&l.AccountID,
			&l.Region,
			&l.GroupID,
			&l.RuleID,
			&l.FromPort,
			&l.ToPort,
			&l.Protocol,
			&l.ReferencedGroupID,
			&l.CIDR,
		); err != nil {
			return nil, fmt.Errorf("failed to scan live rule: %w", err)
		}
		live = append(live, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate live rules: %w", err)
	}
	return live, nil
}
