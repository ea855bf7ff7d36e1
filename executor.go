package ayumi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/progress"
)

// MigrationEvent is emitted after a unit ran and its progress was recorded.
type MigrationEvent struct {
	RunID     string
	Unit      migration.Ref
	Direction migration.Direction
	Duration  time.Duration
}

// CompleteEvent is emitted once every unit of a plan succeeded, including
// when the plan was empty.
type CompleteEvent struct {
	RunID     string
	Direction migration.Direction
	Count     int
	Duration  time.Duration
}

type Reporter interface {
	Migration(ctx context.Context, ev MigrationEvent)
	Complete(ctx context.Context, ev CompleteEvent)
}

type NopReporter struct{}

func (NopReporter) Migration(context.Context, MigrationEvent) {}
func (NopReporter) Complete(context.Context, CompleteEvent)   {}

// Reporters fans events out in order.
type Reporters []Reporter

func (rs Reporters) Migration(ctx context.Context, ev MigrationEvent) {
	for _, r := range rs {
		r.Migration(ctx, ev)
	}
}

func (rs Reporters) Complete(ctx context.Context, ev CompleteEvent) {
	for _, r := range rs {
		r.Complete(ctx, ev)
	}
}

// ---

// Executor runs a plan one unit at a time:
//
//	Idle -> Running(unit i) -> Running(unit i+1) | Failed(unit i) | Complete
//
// Progress is recorded after each unit, before the next one starts.
type Executor struct {
	store    progress.Store
	reporter Reporter
	logger   log.Logger
	verbose  bool
	now      func() time.Time
}

func NewExecutor(store progress.Store, reporter Reporter, logger log.Logger, verbose bool) *Executor {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Executor{
		store:    store,
		reporter: reporter,
		logger:   logger,
		verbose:  verbose,
		now:      time.Now,
	}
}

// Execute runs units, which must be the loaded counterparts of plan.Steps in
// the same order. It stops at the first failing unit without rolling back
// the ones before it.
func (x *Executor) Execute(ctx context.Context, runID string, plan Plan, units []migration.Unit) error {
	if len(units) != len(plan.Steps) {
		return fmt.Errorf("plan has %d steps but %d units were loaded", len(plan.Steps), len(units))
	}

	logger := log.With(x.logger, "run", runID)
	started := x.now()

	for i, step := range plan.Steps {
		unit := units[i]
		if unit.ID != step.Unit.ID {
			return fmt.Errorf("step %d is %s but unit %s was loaded", i, step.Unit.ID, unit.ID)
		}

		env := migration.Env{
			RunID:     runID,
			Direction: step.Direction,
			Logger:    log.With(logger, "unit", unit.ID),
			Verbose:   x.verbose,
		}

		_ = level.Debug(logger).Log("msg", "running unit", "unit", unit.ID, "direction", step.Direction)
		unitStarted := x.now()

		if err := unit.Action(step.Direction)(ctx, env); err != nil {
			_ = level.Error(logger).Log("msg", "unit failed", "unit", unit.ID, "direction", step.Direction, "err", err)
			return &MigrationFailedError{Unit: step.Unit, Direction: step.Direction, Err: err}
		}

		if err := x.record(ctx, step); err != nil {
			return err
		}

		x.reporter.Migration(ctx, MigrationEvent{
			RunID:     runID,
			Unit:      step.Unit,
			Direction: step.Direction,
			Duration:  x.now().Sub(unitStarted),
		})
	}

	x.reporter.Complete(ctx, CompleteEvent{
		RunID:     runID,
		Direction: plan.Direction,
		Count:     len(plan.Steps),
		Duration:  x.now().Sub(started),
	})

	return nil
}

func (x *Executor) record(ctx context.Context, step Step) error {
	if step.Direction == migration.Down {
		if err := x.store.RecordReverted(ctx, step.Unit.ID); err != nil {
			return &StoreError{Op: "record reverted", ID: step.Unit.ID, Err: err}
		}
		return nil
	}

	if err := x.store.RecordApplied(ctx, step.Unit.ID); err != nil {
		return &StoreError{Op: "record applied", ID: step.Unit.ID, Err: err}
	}
	return nil
}
