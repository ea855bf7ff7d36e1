package ayumi_test

import (
	"context"
	"errors"
	"sync"

	"github.com/root-talis/ayumi"
	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/progress"
	"github.com/root-talis/ayumi/source/registry"
)

var ErrAny = errors.New("test error")

// -- testing double for source ----------

type sourceDiscoverResult struct {
	refs []migration.Ref
	err  error
}

type sourceMock struct {
	availableMigrations sourceDiscoverResult
	loadErrors          map[string]error
	loaded              []string
}

func (m *sourceMock) Discover(context.Context) ([]migration.Ref, error) {
	return m.availableMigrations.refs, m.availableMigrations.err
}

func (m *sourceMock) Load(_ context.Context, ref migration.Ref) (migration.Unit, error) {
	if err := m.loadErrors[ref.ID]; err != nil {
		return migration.Unit{}, err
	}
	m.loaded = append(m.loaded, ref.ID)
	return migration.Unit{Ref: ref}, nil
}

// -- testing double for progress store ----------

type storeMock struct {
	mu        sync.Mutex
	entries   []progress.Entry
	loadErr   error
	recordErr error
	mutations int
}

func newStore(ids ...string) *storeMock {
	s := &storeMock{}
	for _, id := range ids {
		s.entries = append(s.entries, progress.Entry{ID: id})
	}
	return s
}

func (s *storeMock) Load(context.Context) ([]progress.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]progress.Entry{}, s.entries...), nil
}

func (s *storeMock) RecordApplied(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recordErr != nil {
		return s.recordErr
	}
	if progress.Contains(s.entries, id) {
		return progress.ErrDuplicate
	}
	s.entries = append(s.entries, progress.Entry{ID: id})
	s.mutations++
	return nil
}

func (s *storeMock) RecordReverted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recordErr != nil {
		return s.recordErr
	}
	entries, err := progress.Remove(s.entries, id)
	if err != nil {
		return err
	}
	s.entries = entries
	s.mutations++
	return nil
}

func (s *storeMock) ids() []string {
	entries, _ := s.Load(context.Background())
	return progress.IDs(entries)
}

// -- units with recorded side effects ----------

type journal struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]error
}

func (j *journal) action(id string, dir migration.Direction) migration.Action {
	return func(_ context.Context, env migration.Env) error {
		j.mu.Lock()
		defer j.mu.Unlock()

		key := id + " " + dir.String()
		if err := j.failing[key]; err != nil {
			return err
		}
		if env.Direction != dir {
			return errors.New("env carries the wrong direction")
		}
		j.calls = append(j.calls, key)
		return nil
	}
}

// newCatalog registers units 1..n in a registry, recording every call.
func newCatalog(n int) (*registry.Registry, *journal) {
	reg := registry.New()
	j := &journal{failing: map[string]error{}}

	for key := 1; key <= n; key++ {
		id, _ := migration.FormatID(migration.Key(key), migration.DefaultWidth, "")
		reg.MustRegister(migration.Key(key), "", j.action(id, migration.Up), j.action(id, migration.Down))
	}

	return reg, j
}

// -- reporter ----------

type recordingReporter struct {
	events []string
}

func (r *recordingReporter) Migration(_ context.Context, ev ayumi.MigrationEvent) {
	r.events = append(r.events, "migration "+ev.Unit.ID+" "+ev.Direction.String())
}

func (r *recordingReporter) Complete(_ context.Context, ev ayumi.CompleteEvent) {
	r.events = append(r.events, "complete "+ev.Direction.String())
}

func refs(ids ...string) []migration.Ref {
	result := make([]migration.Ref, 0, len(ids))
	for _, id := range ids {
		ref, err := migration.ParseID(id)
		if err != nil {
			panic(err)
		}
		ref.Path = "migrations/" + id + ".sql"
		result = append(result, ref)
	}
	return result
}
