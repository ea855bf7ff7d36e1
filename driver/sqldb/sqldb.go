// Package sqldb runs unit sections as SQL over database/sql. Any registered
// driver works; scripts with several statements need a driver that accepts
// them in one Exec (for go-sql-driver/mysql add multiStatements=true to the DSN).
package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/root-talis/ayumi/migration"
)

type Driver struct {
	db            *sql.DB
	inTransaction bool
}

type Option func(*Driver)

// WithoutTransaction executes scripts directly on the connection pool. Use
// it for statements that cannot run inside a transaction.
func WithoutTransaction() Option {
	return func(d *Driver) {
		d.inTransaction = false
	}
}

func New(db *sql.DB, opts ...Option) *Driver {
	d := &Driver{
		db:            db,
		inTransaction: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Migrate(ctx context.Context, env migration.Env, ref migration.Ref, script string) error {
	if env.Logger != nil && env.Verbose {
		_ = level.Debug(env.Logger).Log("msg", "executing sql", "unit", ref.ID, "direction", env.Direction, "sql", script)
	}

	if !d.inTransaction {
		if _, err := d.db.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("execute %s (%s): %w", ref.ID, env.Direction, err)
		}
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", ref.ID, err)
	}

	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s (%s): %w", ref.ID, env.Direction, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", ref.ID, err)
	}

	return nil
}
