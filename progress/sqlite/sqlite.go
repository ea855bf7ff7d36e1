// Package sqlite stores the progress record in an SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/root-talis/ayumi/progress"
)

// DefaultTableName is used when no table name is given.
const DefaultTableName = "_ayumi_migrations"

type Store struct {
	db    *sql.DB
	table string
}

// New returns a store over db, creating the table if needed. Open db with
// the "sqlite" driver from modernc.org/sqlite.
func New(db *sql.DB, table string) (*Store, error) {
	if table == "" {
		table = DefaultTableName
	}

	s := &Store{
		db:    db,
		table: `"` + strings.ReplaceAll(table, `"`, `""`) + `"`,
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id    TEXT NOT NULL UNIQUE,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, fmt.Errorf("create %s table: %w", s.table, err)
	}

	return s, nil
}

func (s *Store) Load(ctx context.Context) ([]progress.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT unit_id, applied_at FROM `+s.table+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	entries := make([]progress.Entry, 0)
	for rows.Next() {
		var e progress.Entry
		if err := rows.Scan(&e.ID, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %s", progress.ErrCorrupt, s.table, err.Error())
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}

	return entries, nil
}

func (s *Store) RecordApplied(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table+` WHERE unit_id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("query %s: %w", s.table, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", progress.ErrDuplicate, id)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO `+s.table+` (unit_id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("insert %s: %w", s.table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", id, err)
	}

	return nil
}

func (s *Store) RecordReverted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE unit_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", s.table, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", s.table, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", progress.ErrNotApplied, id)
	}

	return nil
}
