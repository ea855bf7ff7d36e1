package file_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/ayumi/progress"
	"github.com/root-talis/ayumi/progress/file"
)

const storePath = "migrations/.migrate"

var loadTestTable = []struct { // nolint:gochecknoglobals
	name        string
	contents    *string
	expectedIDs []string
	expectError bool
}{
	// -- success tests ------
	/* s0 */ {
		name:        "test s0: should treat a missing file as empty",
		contents:    nil,
		expectedIDs: []string{},
	},
	/* s1 */ {
		name:        "test s1: should read ids with and without timestamps",
		contents:    strPtr("0001\t2026-10-19T08:00:00Z\n0002-add-users\n"),
		expectedIDs: []string{"0001", "0002-add-users"},
	},
	/* s2 */ {
		name:        "test s2: should skip comments and blank lines",
		contents:    strPtr("# header\n\n0001\n\n"),
		expectedIDs: []string{"0001"},
	},
	/* s3 */ {
		name:        "test s3: should keep application order",
		contents:    strPtr("0003\n0001\n"),
		expectedIDs: []string{"0003", "0001"},
	},

	// -- error tests ------
	/* e0 */ {
		name:        "test e0: should fail on an invalid id",
		contents:    strPtr("not-a-unit\n"),
		expectError: true,
	},
	/* e1 */ {
		name:        "test e1: should fail on a duplicated id",
		contents:    strPtr("0001\n0001\n"),
		expectError: true,
	},
	/* e2 */ {
		name:        "test e2: should fail on a bad timestamp",
		contents:    strPtr("0001\tyesterday\n"),
		expectError: true,
	},
	/* e3 */ {
		name:        "test e3: should fail on extra fields",
		contents:    strPtr("0001\t2026-10-19T08:00:00Z\textra\n"),
		expectError: true,
	},
}

func TestLoad(t *testing.T) {
	t.Parallel()

	for _, test := range loadTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			if test.contents != nil {
				require.NoError(t, afero.WriteFile(fs, storePath, []byte(*test.contents), 0o644))
			}

			entries, err := file.New(fs, storePath).Load(context.Background())
			if test.expectError {
				assert.ErrorIs(t, err, progress.ErrCorrupt)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, test.expectedIDs, progress.IDs(entries))
		})
	}
}

func TestRecordAppliedAndReverted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := file.New(fs, storePath)

	require.NoError(t, store.RecordApplied(ctx, "0001"))
	require.NoError(t, store.RecordApplied(ctx, "0002-add-users"))
	require.NoError(t, store.RecordApplied(ctx, "0003"))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002-add-users", "0003"}, progress.IDs(entries))
	for _, e := range entries {
		assert.False(t, e.AppliedAt.IsZero())
	}

	require.NoError(t, store.RecordReverted(ctx, "0003"))
	require.NoError(t, store.RecordReverted(ctx, "0002-add-users"))

	entries, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001"}, progress.IDs(entries))

	// a fresh store over the same file sees the same record
	entries, err = file.New(fs, storePath).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001"}, progress.IDs(entries))

	exists, err := afero.Exists(fs, storePath+".tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecordErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.New(afero.NewMemMapFs(), storePath)

	require.NoError(t, store.RecordApplied(ctx, "0001"))
	assert.ErrorIs(t, store.RecordApplied(ctx, "0001"), progress.ErrDuplicate)
	assert.ErrorIs(t, store.RecordReverted(ctx, "0002"), progress.ErrNotApplied)
}

func TestRecordOnCorruptFileDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, storePath, []byte("garbage here\n"), 0o644))

	store := file.New(fs, storePath)
	assert.ErrorIs(t, store.RecordApplied(ctx, "0001"), progress.ErrCorrupt)

	data, err := afero.ReadFile(fs, storePath)
	require.NoError(t, err)
	assert.Equal(t, "garbage here\n", string(data))
}

func strPtr(s string) *string {
	return &s
}
