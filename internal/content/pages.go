// Package content reads archive content counters from the newspaper
// archive's own database.
package content

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// PageCounter counts pages currently attached to a batch's issues.
type PageCounter interface {
	PageCount(ctx context.Context, batchName string) (int64, error)
}

const pageCountQuery = `SELECT COUNT(*) FROM core_page p
JOIN core_issue i ON p.issue_id = i.id
WHERE i.batch_id = ?`

// SQLPageCounter is a PageCounter over the archive's core_issue/core_page tables.
type SQLPageCounter struct {
	db *sql.DB
}

// NewSQLPageCounter wraps an open archive database.
func NewSQLPageCounter(db *sql.DB) *SQLPageCounter {
	return &SQLPageCounter{db: db}
}

// PageCount returns the number of pages loaded so far for batchName.
func (c *SQLPageCounter) PageCount(ctx context.Context, batchName string) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, pageCountQuery, batchName).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pages for %s: %w", batchName, err)
	}
	return n, nil
}

// Close closes the underlying database.
func (c *SQLPageCounter) Close() error {
	return c.db.Close()
}

// OpenMySQL opens the archive's MySQL database and checks it is reachable.
func OpenMySQL(ctx context.Context, dsn string) (*SQLPageCounter, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid archive DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach archive database: %w", err)
	}
	return NewSQLPageCounter(db), nil
}
