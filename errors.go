package ayumi

import (
	"fmt"

	"github.com/root-talis/ayumi/migration"
)

// LoadError means a unit (or the catalog as a whole) could not be turned
// into something executable. It is always returned before any unit runs.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load unit %s: %s", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// StoreError means the progress store could not be read or written.
type StoreError struct {
	Op  string // "load", "record applied" or "record reverted"
	ID  string // unit being recorded, empty for loads
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("progress store %s failed: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("progress store %s %s failed: %s", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// UnknownTargetError means the requested target matches no unit in the catalog.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q: no such unit", e.Target)
}

// MigrationFailedError means a unit's action failed. Units before it in the
// same run stay recorded; the failing unit and the rest are untouched.
type MigrationFailedError struct {
	Unit      migration.Ref
	Direction migration.Direction
	Err       error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("unit %s failed to migrate %s: %s", e.Unit.ID, e.Direction, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }
