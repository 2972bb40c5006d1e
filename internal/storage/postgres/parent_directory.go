package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/safescope/monitor/internal/monitor"
)

// ParentDirectory resolves children to parents via an indexed children table.
// It assumes a schema like:
//
//	CREATE TABLE children (
//		child_email TEXT PRIMARY KEY,
//		parent_email TEXT NOT NULL
//	);
//
// The primary key keeps the one-child-one-parent invariant explicit and makes
// the lookup O(1) instead of a scan over all parents.
type ParentDirectory struct {
	pool  pool
	table string
}

// NewParentDirectory constructs a directory over an existing pool.
func NewParentDirectory(p pool, table string) (*ParentDirectory, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "children"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ParentDirectory{pool: p, table: table}, nil
}

// ParentOf returns the parent email for a child, or monitor.ErrNoParent.
func (d *ParentDirectory) ParentOf(ctx context.Context, childEmail string) (string, error) {
	query := fmt.Sprintf(`SELECT parent_email FROM %s WHERE child_email = $1`, d.table)

	var parentEmail string
	err := d.pool.QueryRow(ctx, query, childEmail).Scan(&parentEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", monitor.ErrNoParent
	}
	if err != nil {
		return "", fmt.Errorf("lookup parent: %w", err)
	}
	return parentEmail, nil
}
