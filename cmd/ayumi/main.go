package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/root-talis/ayumi"
	"github.com/root-talis/ayumi/migration"
)

var cfg struct {
	chdir      string
	configFile string
	verbose    bool
	noColor    bool

	overrides overrides

	migrate struct {
		target string
		dryRun bool
	}
	create struct {
		title []string
	}
	editTemplate struct {
		editor string
	}
}

var (
	consoleOutput io.Writer = os.Stdout
	errorOutput   io.Writer = os.Stderr
	logger                  = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Runs numbered migration units forward and backward.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("chdir", "Change the working directory before looking for the project.").Short('c').StringVar(&cfg.chdir)
	app.Flag("config", "Path to ayumi.yml. Found by walking up from the working directory when omitted.").Envar("AYUMI_CONFIG").StringVar(&cfg.configFile)
	app.Flag("verbose", "Enable verbose logging, also passed to every unit.").Short('v').Envar("AYUMI_VERBOSE").BoolVar(&cfg.verbose)
	app.Flag("no-color", "Disable colored output.").Envar("NO_COLOR").BoolVar(&cfg.noColor)
	addOverrideFlags(app, &cfg.overrides)

	upCmd := app.Command("up", "Migrate up till the given unit (the default command).").Default()
	upCmd.Arg("to", "Last unit to apply: id, file name or number.").StringVar(&cfg.migrate.target)
	upCmd.Flag("dry-run", "Print the plan without running it.").BoolVar(&cfg.migrate.dryRun)

	downCmd := app.Command("down", "Migrate down till the given unit.")
	downCmd.Arg("to", "Last unit to revert: id, file name or number.").StringVar(&cfg.migrate.target)
	downCmd.Flag("dry-run", "Print the plan without running it.").BoolVar(&cfg.migrate.dryRun)

	createCmd := app.Command("create", "Create a new unit file with an optional title.")
	createCmd.Arg("title", "Words of the title, joined with dashes.").StringsVar(&cfg.create.title)

	statusCmd := app.Command("status", "List units and whether they are applied.")

	editTemplateCmd := app.Command("edit-template", "Open the unit template in an editor.")
	editTemplateCmd.Arg("editor", "Editor to run, defaults to $EDITOR or vi.").StringVar(&cfg.editTemplate.editor)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if cfg.verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowWarn())
	}
	if cfg.noColor {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.chdir != "" {
		if err := os.Chdir(cfg.chdir); err != nil {
			os.Exit(checkError(errorOutput, err))
		}
	}

	var err error
	switch parsedCmd {
	case upCmd.FullCommand():
		err = withProject(ctx, func(p *project) error {
			return migrate(ctx, p, migration.Up, cfg.migrate.target, cfg.migrate.dryRun)
		})
	case downCmd.FullCommand():
		err = withProject(ctx, func(p *project) error {
			return migrate(ctx, p, migration.Down, cfg.migrate.target, cfg.migrate.dryRun)
		})
	case createCmd.FullCommand():
		err = withProject(ctx, func(p *project) error {
			return create(ctx, p, cfg.create.title)
		})
	case statusCmd.FullCommand():
		err = withProject(ctx, func(p *project) error {
			return status(ctx, p)
		})
	case editTemplateCmd.FullCommand():
		err = withProject(ctx, func(p *project) error {
			return editTemplate(ctx, p, cfg.editTemplate.editor)
		})
	default:
		_ = level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
		os.Exit(1)
	}

	stop()
	os.Exit(checkError(errorOutput, err))
}

func withProject(ctx context.Context, fn func(*project) error) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	p, err := openProject(ctx, wd, cfg.configFile, cfg.overrides, options{
		verbose: cfg.verbose,
		noColor: cfg.noColor,
		logger:  logger,
		out:     consoleOutput,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	return fn(p)
}

// checkError prints err with a hint for the kinds of failure a user can act
// on and returns the process exit code.
func checkError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}

	var (
		unknownTarget *ayumi.UnknownTargetError
		failed        *ayumi.MigrationFailedError
		loadErr       *ayumi.LoadError
		storeErr      *ayumi.StoreError
		multi         *multierror.Error
	)

	prefix := color.RedString("error:")

	switch {
	case errors.As(err, &unknownTarget):
		fmt.Fprintf(w, "%s %v\nrun \"ayumi status\" to list the known units\n", prefix, err)
	case errors.As(err, &failed):
		fmt.Fprintf(w, "%s %v\nunits before %s stay applied; fix it and run %s again\n",
			prefix, err, failed.Unit.ID, failed.Direction)
	case errors.As(err, &multi):
		fmt.Fprintf(w, "%s %d units could not be loaded, nothing was run:\n", prefix, len(multi.Errors))
		for _, e := range multi.Errors {
			fmt.Fprintf(w, "  %v\n", e)
		}
	case errors.As(err, &loadErr):
		fmt.Fprintf(w, "%s %v\nnothing was run\n", prefix, err)
	case errors.As(err, &storeErr):
		fmt.Fprintf(w, "%s %v\ncheck the progress store before running again\n", prefix, err)
	default:
		fmt.Fprintf(w, "%s %v\n", prefix, err)
	}

	return 1
}
