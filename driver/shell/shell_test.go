package shell_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/ayumi/driver/shell"
	"github.com/root-talis/ayumi/migration"
)

func TestMigrateExportsUnitIdentity(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	drv := shell.New(t.TempDir())
	drv.Stdout = &out
	drv.Stderr = nil

	env := migration.Env{RunID: "run-1", Direction: migration.Down}
	ref := migration.Ref{Key: 2, ID: "0002-add-users"}

	err := drv.Migrate(context.Background(), env, ref, `echo "$AYUMI_UNIT $AYUMI_KEY $AYUMI_DIRECTION $AYUMI_RUN_ID"`)
	require.NoError(t, err)
	assert.Equal(t, "0002-add-users 2 down run-1\n", out.String())
}

func TestMigrateReportsFailure(t *testing.T) {
	t.Parallel()

	drv := shell.New(t.TempDir())
	drv.Stdout = nil
	drv.Stderr = nil

	err := drv.Migrate(context.Background(), migration.Env{Direction: migration.Up},
		migration.Ref{Key: 2, ID: "0002"}, "echo timeout >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "0002 up")
}
