// Package report turns engine events into output for people and logs.
package report

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"

	"github.com/root-talis/ayumi"
	"github.com/root-talis/ayumi/migration"
)

// Console prints one "  <key> : <message>" line per event, key in grey and
// message in cyan.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	key *color.Color
	msg *color.Color
}

func NewConsole(out io.Writer, noColor bool) *Console {
	c := &Console{
		out: out,
		key: color.New(color.FgHiBlack),
		msg: color.New(color.FgCyan),
	}
	if noColor {
		c.key.DisableColor()
		c.msg.DisableColor()
	}
	return c
}

func (c *Console) Print(key, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "  %s %s\n", c.key.Sprint(key+" :"), c.msg.Sprint(msg))
}

func (c *Console) Migration(_ context.Context, ev ayumi.MigrationEvent) {
	c.Print(ev.Direction.String(), ev.Unit.ID)
}

func (c *Console) Complete(_ context.Context, _ ayumi.CompleteEvent) {
	c.Print("migration", "complete")
}

// Created announces a unit written by the generator.
func (c *Console) Created(ref migration.Ref) {
	c.Print("create", ref.Path)
}

// ---

// Log writes events to a structured logger.
type Log struct {
	logger log.Logger
}

func NewLog(logger log.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Migration(_ context.Context, ev ayumi.MigrationEvent) {
	_ = level.Info(l.logger).Log(
		"msg", "migrated",
		"run", ev.RunID,
		"unit", ev.Unit.ID,
		"direction", ev.Direction,
		"took", ev.Duration,
	)
}

func (l *Log) Complete(_ context.Context, ev ayumi.CompleteEvent) {
	_ = level.Info(l.logger).Log(
		"msg", "migration complete",
		"run", ev.RunID,
		"direction", ev.Direction,
		"units", ev.Count,
		"took", ev.Duration,
	)
}

// ---

// StatusTable renders a status report. Applied times are shown relative to now.
func StatusTable(out io.Writer, status *ayumi.StatusReport, now time.Time) {
	table := tablewriter.NewWriter(out)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Unit", "Status", "Applied"})
	table.SetAutoWrapText(false)

	for _, state := range status.Migrations {
		applied := ""
		if !state.AppliedAt.IsZero() {
			applied = humanize.RelTime(state.AppliedAt, now, "ago", "from now")
		}
		table.Append([]string{state.ID, state.Status.String(), applied})
	}

	table.SetFooter([]string{
		"",
		fmt.Sprintf("%d applied, %d pending, %d missing", status.AppliedCount, status.PendingCount, status.MissingCount),
		"",
	})
	table.Render()
}
