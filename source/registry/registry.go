// Package registry is a Source of units written as Go functions.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/source"
)

type Registry struct {
	mu    sync.Mutex
	width int
	units map[migration.Key]migration.Unit
}

func New() *Registry {
	return &Registry{
		width: migration.DefaultWidth,
		units: make(map[migration.Key]migration.Unit),
	}
}

// Register adds a unit. A nil action is a no-op.
func (r *Registry) Register(key migration.Key, title string, up, down migration.Action) error {
	id, err := migration.FormatID(key, r.width, title)
	if err != nil {
		return err
	}

	ref, err := migration.ParseID(id)
	if err != nil {
		return err
	}
	ref.Path = "registry:" + id

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.units[key]; ok {
		return fmt.Errorf("%w: %s and %s", source.ErrDuplicateKey, existing.ID, id)
	}

	r.units[key] = migration.Unit{Ref: ref, Up: up, Down: down}

	return nil
}

// MustRegister is Register for package initialization.
func (r *Registry) MustRegister(key migration.Key, title string, up, down migration.Action) {
	if err := r.Register(key, title, up, down); err != nil {
		panic(err)
	}
}

func (r *Registry) Discover(_ context.Context) ([]migration.Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs := make([]migration.Ref, 0, len(r.units))
	for _, unit := range r.units {
		refs = append(refs, unit.Ref)
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Key < refs[j].Key
	})

	return refs, nil
}

func (r *Registry) Load(_ context.Context, ref migration.Ref) (migration.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[ref.Key]
	if !ok || unit.ID != ref.ID {
		return migration.Unit{}, fmt.Errorf("%w: %s", source.ErrUnknownUnit, ref.ID)
	}

	return unit, nil
}
