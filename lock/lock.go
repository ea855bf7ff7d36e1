// Package lock serializes engine invocations that share a progress store.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Locker provides mutual exclusion across processes. The returned release
// function must be called once the protected work is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

var ErrNotAcquired = errors.New("lock is held by another process")

// ---

// Nop does no locking.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// ---

// DefaultRetryDelay is how often File retries a held lock.
const DefaultRetryDelay = 250 * time.Millisecond

// File holds an advisory flock(2) on a file next to the progress record.
// The key is ignored; one file is one lock.
type File struct {
	path       string
	retryDelay time.Duration
}

func NewFile(path string) *File {
	return &File{
		path:       path,
		retryDelay: DefaultRetryDelay,
	}
}

// Path returns the lock file location.
func (l *File) Path() string {
	return l.path
}

// Acquire waits until the lock is free or ctx is done.
func (l *File) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o775); err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}

	fl := flock.New(l.path)

	locked, err := fl.TryLockContext(ctx, l.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, l.path)
	}

	return func() {
		_ = fl.Unlock()
	}, nil
}

// ---

// Postgres uses a session-level pg_advisory_lock. It pins one connection
// from the pool for as long as the lock is held.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (l *Postgres) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		_ = conn.Close()
	}, nil
}

func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec
}
