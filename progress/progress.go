// Package progress defines the durable record of applied units.
package progress

import (
	"context"
	"errors"
	"time"
)

// Store persists the ordered list of applied unit identifiers. Every
// mutation is durable before it returns. Stores do no locking of their own;
// callers serialize access (see package lock).
type Store interface {
	// Load returns the applied entries in the order they were applied, or
	// an empty slice if the store has not been initialized yet.
	Load(ctx context.Context) ([]Entry, error)
	// RecordApplied appends id.
	RecordApplied(ctx context.Context, id string) error
	// RecordReverted removes the most recent entry matching id.
	RecordReverted(ctx context.Context, id string) error
}

type Entry struct {
	ID        string
	AppliedAt time.Time
}

var (
	ErrCorrupt    = errors.New("progress record is corrupt")
	ErrNotApplied = errors.New("unit is not recorded as applied")
	ErrDuplicate  = errors.New("unit is already recorded as applied")
)

// IDs returns the identifiers of entries, preserving order.
func IDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Contains reports whether id is among entries.
func Contains(entries []Entry, id string) bool {
	return indexOf(entries, id) >= 0
}

// Remove returns entries without the last occurrence of id.
func Remove(entries []Entry, id string) ([]Entry, error) {
	i := indexOf(entries, id)
	if i < 0 {
		return nil, ErrNotApplied
	}

	result := make([]Entry, 0, len(entries)-1)
	result = append(result, entries[:i]...)
	return append(result, entries[i+1:]...), nil
}

func indexOf(entries []Entry, id string) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}
