package ayumi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/root-talis/ayumi/lock"
	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/progress"
	"github.com/root-talis/ayumi/source"
)

// ---

type Engine interface {
	// Status lists every known unit with its state.
	Status(ctx context.Context) (*StatusReport, error)
	// Plan computes what Migrate would run, without running it.
	Plan(ctx context.Context, dir migration.Direction, target string) (Plan, error)
	// Migrate runs units in dir up to and including target (or all of them
	// when target is empty).
	Migrate(ctx context.Context, dir migration.Direction, target string) error
	// Create generates a new unit. The source must be a source.Generator.
	Create(ctx context.Context, titleWords []string) (migration.Ref, error)
}

type StatusReport struct {
	Migrations   []migration.State
	AppliedCount uint
	PendingCount uint
	MissingCount uint
}

var ErrCreateUnsupported = errors.New("unit source cannot create units")

// DefaultLockKey is passed to the Locker when none is configured.
const DefaultLockKey = "ayumi"

// ---

type engineImpl struct {
	source   source.Source
	store    progress.Store
	locker   lock.Locker
	lockKey  string
	reporter Reporter
	logger   log.Logger
	verbose  bool
	newRunID func() string
}

type Option func(*engineImpl)

// WithLocker makes Migrate and Create hold l for their whole duration.
func WithLocker(l lock.Locker, key string) Option {
	return func(e *engineImpl) {
		e.locker = l
		if key != "" {
			e.lockKey = key
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(e *engineImpl) {
		e.reporter = r
	}
}

func WithLogger(l log.Logger) Option {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithVerbose is forwarded to every unit action through migration.Env.
func WithVerbose(verbose bool) Option {
	return func(e *engineImpl) {
		e.verbose = verbose
	}
}

// ---

func New(src source.Source, store progress.Store, opts ...Option) Engine {
	e := &engineImpl{
		source:   src,
		store:    store,
		locker:   lock.Nop{},
		lockKey:  DefaultLockKey,
		reporter: NopReporter{},
		logger:   log.NewNopLogger(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ---

func (e *engineImpl) Status(ctx context.Context) (*StatusReport, error) {
	availableMigrations, err := e.discover(ctx)
	if err != nil {
		return nil, err
	}

	appliedMigrations, err := e.loadProgress(ctx)
	if err != nil {
		return nil, err
	}

	appliedByID := make(map[string]progress.Entry, len(appliedMigrations))
	for _, entry := range appliedMigrations {
		appliedByID[entry.ID] = entry
	}

	result := StatusReport{
		Migrations: make([]migration.State, 0, len(availableMigrations)),
	}
	available := make(map[string]bool, len(availableMigrations))

	for _, availableMigration := range availableMigrations {
		available[availableMigration.ID] = true
		entry, ok := appliedByID[availableMigration.ID]

		status := migration.Pending
		if ok {
			status = migration.Applied
			result.AppliedCount++
		} else {
			result.PendingCount++
		}

		result.Migrations = append(result.Migrations, migration.State{
			Ref:       availableMigration,
			Status:    status,
			AppliedAt: entry.AppliedAt,
		})
	}

	for _, applied := range appliedMigrations {
		if available[applied.ID] {
			continue
		}

		ref, err := migration.ParseID(applied.ID)
		if err != nil {
			ref = migration.Ref{ID: applied.ID}
		}

		result.Migrations = append(result.Migrations, migration.State{
			Ref:       ref,
			Status:    migration.Missing,
			AppliedAt: applied.AppliedAt,
		})
		result.MissingCount++
	}

	sort.SliceStable(result.Migrations, func(i, j int) bool {
		return result.Migrations[i].Key < result.Migrations[j].Key
	})

	return &result, nil
}

func (e *engineImpl) Plan(ctx context.Context, dir migration.Direction, target string) (Plan, error) {
	catalog, err := e.discover(ctx)
	if err != nil {
		return Plan{}, err
	}

	applied, err := e.loadProgress(ctx)
	if err != nil {
		return Plan{}, err
	}

	return NewPlan(catalog, applied, dir, target)
}

func (e *engineImpl) Migrate(ctx context.Context, dir migration.Direction, target string) error {
	runID := e.newRunID()
	logger := log.With(e.logger, "run", runID)

	release, err := e.locker.Acquire(ctx, e.lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	plan, err := e.Plan(ctx, dir, target)
	if err != nil {
		return err
	}

	_ = level.Debug(logger).Log("msg", "planned", "direction", plan.Direction, "target", target, "steps", len(plan.Steps))

	units, err := e.loadUnits(ctx, plan)
	if err != nil {
		return err
	}

	executor := NewExecutor(e.store, e.reporter, e.logger, e.verbose)

	return executor.Execute(ctx, runID, plan, units)
}

func (e *engineImpl) Create(ctx context.Context, titleWords []string) (migration.Ref, error) {
	generator, ok := e.source.(source.Generator)
	if !ok {
		return migration.Ref{}, ErrCreateUnsupported
	}

	release, err := e.locker.Acquire(ctx, e.lockKey)
	if err != nil {
		return migration.Ref{}, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	ref, err := generator.Create(ctx, titleWords)
	if err != nil {
		return migration.Ref{}, fmt.Errorf("failed to create unit: %w", err)
	}

	_ = level.Info(e.logger).Log("msg", "created unit", "unit", ref.ID, "path", ref.Path)

	return ref, nil
}

// ---

func (e *engineImpl) discover(ctx context.Context) ([]migration.Ref, error) {
	catalog, err := e.source.Discover(ctx)
	if err != nil {
		return nil, &LoadError{Path: sourcePath(e.source), Err: err}
	}
	return catalog, nil
}

func (e *engineImpl) loadProgress(ctx context.Context) ([]progress.Entry, error) {
	applied, err := e.store.Load(ctx)
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	return applied, nil
}

// loadUnits binds every planned unit before any of them runs, so a broken
// file late in the plan cannot leave a batch half applied.
func (e *engineImpl) loadUnits(ctx context.Context, plan Plan) ([]migration.Unit, error) {
	var errs *multierror.Error
	units := make([]migration.Unit, 0, len(plan.Steps))

	loadStarted := time.Now()
	for _, step := range plan.Steps {
		unit, err := e.source.Load(ctx, step.Unit)
		if err != nil {
			errs = multierror.Append(errs, &LoadError{Path: step.Unit.Path, Err: err})
			continue
		}
		units = append(units, unit)
	}
	_ = level.Debug(e.logger).Log("msg", "loaded units", "count", len(units), "took", time.Since(loadStarted))

	if errs == nil {
		return units, nil
	}
	if len(errs.Errors) == 1 {
		return nil, errs.Errors[0]
	}
	return nil, errs
}

func sourcePath(src source.Source) string {
	if d, ok := src.(interface{ Dir() string }); ok {
		return d.Dir()
	}
	return fmt.Sprintf("%T", src)
}
