// Package driver defines how the body of a unit section is executed.
package driver

import (
	"context"

	"github.com/root-talis/ayumi/migration"
)

// Driver executes one section of a unit file. env.Direction tells which
// section script came from.
type Driver interface {
	Migrate(ctx context.Context, env migration.Env, ref migration.Ref, script string) error
}

// Func adapts a function to Driver.
type Func func(ctx context.Context, env migration.Env, ref migration.Ref, script string) error

func (f Func) Migrate(ctx context.Context, env migration.Env, ref migration.Ref, script string) error {
	return f(ctx, env, ref, script)
}
