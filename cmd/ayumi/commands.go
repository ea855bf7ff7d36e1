package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/report"
)

func migrate(ctx context.Context, p *project, dir migration.Direction, target string, dryRun bool) error {
	if !dryRun {
		return p.engine.Migrate(ctx, dir, target)
	}

	plan, err := p.engine.Plan(ctx, dir, target)
	if err != nil {
		return err
	}

	if plan.Empty() {
		p.console.Print("plan", "nothing to do")
		return nil
	}
	for _, step := range plan.Steps {
		p.console.Print("would "+step.Direction.String(), step.Unit.ID)
	}
	return nil
}

func create(ctx context.Context, p *project, title []string) error {
	ref, err := p.engine.Create(ctx, title)
	if err != nil {
		return err
	}

	p.console.Created(ref)
	return nil
}

func status(ctx context.Context, p *project) error {
	result, err := p.engine.Status(ctx)
	if err != nil {
		return err
	}

	report.StatusTable(p.out, result, time.Now())
	return nil
}

// editTemplate opens the unit template in editor, falling back to $EDITOR
// and then vi. The unit directory is created first so the editor can save.
func editTemplate(ctx context.Context, p *project, editor string) error {
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	if err := os.MkdirAll(p.config.Dir, 0o775); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, editor, p.source.TemplatePath())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor %s failed: %w", editor, err)
	}
	return nil
}
