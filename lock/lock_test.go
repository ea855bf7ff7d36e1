package lock_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/ayumi/lock"
)

func TestNop(t *testing.T) {
	t.Parallel()

	release, err := lock.Nop{}.Acquire(context.Background(), "any")
	require.NoError(t, err)
	release()
}

func TestFileExcludesSecondHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".migrate.lock")

	release, err := lock.NewFile(path).Acquire(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	_, err = lock.NewFile(path).Acquire(ctx, "")
	assert.Error(t, err)

	release()

	release, err = lock.NewFile(path).Acquire(context.Background(), "")
	require.NoError(t, err)
	release()
}

func TestFileLockIsReleasedForWaiter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".migrate.lock")
	release, err := lock.NewFile(path).Acquire(context.Background(), "")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		r, err := lock.NewFile(path).Acquire(context.Background(), "")
		if err == nil {
			r()
		}
		acquired <- err
	}()

	time.Sleep(100 * time.Millisecond)
	release()

	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestFileCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not", "yet", ".migrate.lock")

	release, err := lock.NewFile(path).Acquire(context.Background(), "")
	require.NoError(t, err)
	release()

	assert.FileExists(t, path)
}
