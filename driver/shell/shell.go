// Package shell runs unit sections as shell scripts.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/root-talis/ayumi/migration"
)

// DefaultShell is used when Driver.Shell is empty.
const DefaultShell = "/bin/sh"

// Driver runs every section with "<Shell> -c <script>". The unit identity
// is exported to the script as AYUMI_UNIT, AYUMI_KEY, AYUMI_DIRECTION and
// AYUMI_RUN_ID.
type Driver struct {
	Shell  string
	Dir    string // working directory, defaults to the current one
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func New(dir string) *Driver {
	return &Driver{
		Shell:  DefaultShell,
		Dir:    dir,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (d *Driver) Migrate(ctx context.Context, env migration.Env, ref migration.Ref, script string) error {
	shell := d.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script) //nolint:gosec
	cmd.Dir = d.Dir
	cmd.Env = append(append(os.Environ(), d.Env...),
		"AYUMI_UNIT="+ref.ID,
		"AYUMI_KEY="+strconv.FormatUint(uint64(ref.Key), 10),
		"AYUMI_DIRECTION="+env.Direction.String(),
		"AYUMI_RUN_ID="+env.RunID,
		"AYUMI_VERBOSE="+strconv.FormatBool(env.Verbose),
	)
	cmd.Stdout = d.Stdout

	var stderr strings.Builder
	if d.Stderr != nil {
		cmd.Stderr = io.MultiWriter(d.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", ref.ID, env.Direction, err, msg)
		}
		return fmt.Errorf("%s %s: %w", ref.ID, env.Direction, err)
	}

	return nil
}
