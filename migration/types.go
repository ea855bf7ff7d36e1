package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
)

type Direction rune

const (
	Down Direction = 'd'
	Up   Direction = 'u'
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%q)", rune(d))
	}
}

// ParseDirection accepts "up"/"down" as well as the single-letter forms
// stored in migration logs.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "u":
		return Up, nil
	case "down", "d":
		return Down, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, s)
	}
}

// ---

const KeyBits = 64

// Key is the sequence number taken from the zero-padded prefix of a unit file name.
type Key uint64

// Ref identifies a discovered unit without loading it.
type Ref struct {
	Key   Key
	Width int    // number of digits in the prefix
	Title string // optional slug
	ID    string // file name without extension, recorded in the progress store
	Path  string
}

func (r Ref) String() string {
	return r.ID
}

// ---

// Env is handed to every action invocation. Anything a unit needs from the
// running engine travels here rather than through package state.
type Env struct {
	RunID     string
	Direction Direction
	Logger    log.Logger
	Verbose   bool
}

// Action performs one direction of a unit. It returns exactly once: nil on
// success, the cause on failure.
type Action func(ctx context.Context, env Env) error

// Noop is bound to empty unit sections.
func Noop(context.Context, Env) error { return nil }

type Unit struct {
	Ref
	Up   Action
	Down Action
}

func (u Unit) Action(dir Direction) Action {
	var action Action
	if dir == Down {
		action = u.Down
	} else {
		action = u.Up
	}

	if action == nil {
		return Noop
	}

	return action
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Missing
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case Missing:
		return "missing"
	default:
		return fmt.Sprintf("status(%d)", uint(s))
	}
}

type State struct {
	Ref
	Status    Status
	AppliedAt time.Time
}
