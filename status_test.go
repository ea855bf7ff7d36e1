package ayumi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/root-talis/ayumi"
	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/progress"
)

//
// -- Tests for Engine.Status() ------------
//

var units = refs( // nolint:gochecknoglobals
	"0001-initial-structure",
	"0002-indexes",
	"0003-sessions-table",
	"0004-sessions-table-indexes",
)

func missing(id string) migration.Ref {
	ref, _ := migration.ParseID(id)
	return ref
}

var statusTestsTable = []struct { // nolint:gochecknoglobals
	name                string
	availableMigrations sourceDiscoverResult
	appliedMigrations   []progress.Entry
	storeErr            error

	expectedResult ayumi.StatusReport
	expectLoadErr  bool
	expectStoreErr bool
}{
	// -- success cases: ---
	/* s0 */ {
		name: "test s0: should spot all pending migrations (0)",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{
				// empty
			},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				// empty
			},
		},
	},
	/* s1 */ {
		name: "test s1: should spot all pending migrations (1)",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[1]},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: units[1], Status: migration.Pending},
			},
			PendingCount: 1,
		},
	},
	/* s2 */ {
		name: "test s2: should spot all pending migrations (2)",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0], units[1]},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: units[0], Status: migration.Pending},
				{Ref: units[1], Status: migration.Pending},
			},
			PendingCount: 2,
		},
	},
	/* s3 */ {
		name: "test s3: should spot all applied migrations (1)",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0]},
		},
		appliedMigrations: []progress.Entry{
			{ID: units[0].ID, AppliedAt: time.Unix(12345, 0)},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: units[0], Status: migration.Applied, AppliedAt: time.Unix(12345, 0)},
			},
			AppliedCount: 1,
		},
	},
	/* s4 */ {
		name: "test s4: should mix applied and pending migrations",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0], units[1], units[2]},
		},
		appliedMigrations: []progress.Entry{
			{ID: units[0].ID, AppliedAt: time.Unix(12345, 0)},
			{ID: units[1].ID, AppliedAt: time.Unix(12346, 0)},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: units[0], Status: migration.Applied, AppliedAt: time.Unix(12345, 0)},
				{Ref: units[1], Status: migration.Applied, AppliedAt: time.Unix(12346, 0)},
				{Ref: units[2], Status: migration.Pending},
			},
			AppliedCount: 2,
			PendingCount: 1,
		},
	},
	/* s5 */ {
		name: "test s5: should spot a pending gap between applied migrations",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0], units[1], units[2]},
		},
		appliedMigrations: []progress.Entry{
			{ID: units[0].ID},
			{ID: units[2].ID},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: units[0], Status: migration.Applied},
				{Ref: units[1], Status: migration.Pending},
				{Ref: units[2], Status: migration.Applied},
			},
			AppliedCount: 2,
			PendingCount: 1,
		},
	},
	/* s6 */ {
		name: "test s6: should spot migrations that were applied but are missing from the source",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0]},
		},
		appliedMigrations: []progress.Entry{
			{ID: units[0].ID},
			{ID: units[1].ID},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: units[0], Status: migration.Applied},
				{Ref: missing(units[1].ID), Status: migration.Missing},
			},
			AppliedCount: 1,
			MissingCount: 1,
		},
	},
	/* s7 */ {
		name: "test s7: should sort missing migrations between available ones",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0], units[3]},
		},
		appliedMigrations: []progress.Entry{
			{ID: units[2].ID},
			{ID: units[0].ID},
			{ID: units[1].ID},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: units[0], Status: migration.Applied},
				{Ref: missing(units[1].ID), Status: migration.Missing},
				{Ref: missing(units[2].ID), Status: migration.Missing},
				{Ref: units[3], Status: migration.Pending},
			},
			AppliedCount: 1,
			PendingCount: 1,
			MissingCount: 2,
		},
	},
	/* s8 */ {
		name: "test s8: should keep unparseable recorded ids as missing",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0]},
		},
		appliedMigrations: []progress.Entry{
			{ID: "legacy"},
		},
		expectedResult: ayumi.StatusReport{
			Migrations: []migration.State{
				{Ref: migration.Ref{ID: "legacy"}, Status: migration.Missing},
				{Ref: units[0], Status: migration.Pending},
			},
			PendingCount: 1,
			MissingCount: 1,
		},
	},

	// -- error cases: ---
	/* e0 */ {
		name: "test e0: should return LoadError when source fails",
		availableMigrations: sourceDiscoverResult{
			err: ErrAny,
		},
		expectLoadErr: true,
	},
	/* e1 */ {
		name: "test e1: should return StoreError when progress store fails",
		availableMigrations: sourceDiscoverResult{
			refs: []migration.Ref{units[0]},
		},
		storeErr:       ErrAny,
		expectStoreErr: true,
	},
}

func TestStatus(t *testing.T) {
	t.Parallel()

	for _, testCase := range statusTestsTable {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			src := sourceMock{availableMigrations: testCase.availableMigrations}
			store := &storeMock{entries: testCase.appliedMigrations, loadErr: testCase.storeErr}

			engine := ayumi.New(&src, store)
			result, err := engine.Status(context.Background())

			switch {
			case testCase.expectLoadErr:
				var loadErr *ayumi.LoadError
				assert.True(t, errors.As(err, &loadErr), "expected LoadError, got %v", err)
				assert.ErrorIs(t, err, ErrAny)
				assert.Nil(t, result)
			case testCase.expectStoreErr:
				var storeErr *ayumi.StoreError
				assert.True(t, errors.As(err, &storeErr), "expected StoreError, got %v", err)
				assert.ErrorIs(t, err, ErrAny)
				assert.Nil(t, result)
			default:
				assert.NoError(t, err)
				if assert.NotNil(t, result) {
					assert.Equal(t, testCase.expectedResult, *result)
				}
			}
		})
	}
}
