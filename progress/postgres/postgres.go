// Package postgres stores the progress record in a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/root-talis/ayumi/progress"
)

// DefaultTableName is used when no table name is given.
const DefaultTableName = "ayumi_migrations"

const uniqueViolation = "23505"

type db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type row struct {
	ID        string    `db:"unit_id"`
	AppliedAt time.Time `db:"applied_at"`
}

type Store struct {
	db    db
	table string
}

// New returns a store over conn. An empty table name selects DefaultTableName;
// the name may be schema qualified only through the connection's search_path.
func New(conn *sqlx.DB, table string) *Store {
	if table == "" {
		table = DefaultTableName
	}

	return &Store{
		db:    conn,
		table: pq.QuoteIdentifier(table),
	}
}

func (s *Store) Load(ctx context.Context) ([]progress.Entry, error) {
	if err := s.migrateSelf(ctx); err != nil {
		return nil, err
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows, "SELECT unit_id, applied_at FROM "+s.table+" ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to select applied units: %w", err)
	}

	entries := make([]progress.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, progress.Entry{ID: r.ID, AppliedAt: r.AppliedAt})
	}

	return entries, nil
}

func (s *Store) RecordApplied(ctx context.Context, id string) error {
	if err := s.migrateSelf(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+s.table+" (unit_id, applied_at) VALUES ($1, $2)",
		id, time.Now().UTC())

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", progress.ErrDuplicate, id)
	}
	if err != nil {
		return fmt.Errorf("failed to record %s as applied: %w", id, err)
	}

	return nil
}

func (s *Store) RecordReverted(ctx context.Context, id string) error {
	if err := s.migrateSelf(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+s.table+" WHERE unit_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to record %s as reverted: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record %s as reverted: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", progress.ErrNotApplied, id)
	}

	return nil
}

func (s *Store) migrateSelf(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		seq        BIGSERIAL PRIMARY KEY,
		unit_id    TEXT NOT NULL UNIQUE,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	return nil
}
