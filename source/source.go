package source

import (
	"context"
	"errors"

	"github.com/root-talis/ayumi/migration"
)

// Source discovers units and binds them into executable form.
type Source interface {
	// Discover returns the catalog ordered by key. It does not read unit bodies.
	Discover(ctx context.Context) ([]migration.Ref, error)
	// Load binds the actions of a discovered unit without running them.
	Load(ctx context.Context, ref migration.Ref) (migration.Unit, error)
}

// Generator is implemented by sources that can create new units.
type Generator interface {
	Create(ctx context.Context, titleWords []string) (migration.Ref, error)
}

var (
	ErrDuplicateKey   = errors.New("unit sequence key already exists")
	ErrAmbiguousWidth = errors.New("unit prefixes have different widths")
	ErrUnknownUnit    = errors.New("unit does not exist in source")
)
