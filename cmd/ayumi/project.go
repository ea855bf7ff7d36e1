package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"
	_ "modernc.org/sqlite"

	"github.com/root-talis/ayumi"
	"github.com/root-talis/ayumi/config"
	"github.com/root-talis/ayumi/driver"
	"github.com/root-talis/ayumi/driver/shell"
	"github.com/root-talis/ayumi/driver/sqldb"
	"github.com/root-talis/ayumi/lock"
	"github.com/root-talis/ayumi/progress"
	progressfile "github.com/root-talis/ayumi/progress/file"
	progressmysql "github.com/root-talis/ayumi/progress/mysql"
	progresspostgres "github.com/root-talis/ayumi/progress/postgres"
	progresssqlite "github.com/root-talis/ayumi/progress/sqlite"
	"github.com/root-talis/ayumi/report"
	"github.com/root-talis/ayumi/source/files"
)

// overrides are command line settings that win over ayumi.yml.
type overrides struct {
	dir       string
	extension string
	store     string
	storeDSN  string
	table     string
	driver    string
	driverDSN string
	shell     string
	lock      string
}

func addOverrideFlags(app *kingpin.Application, o *overrides) {
	app.Flag("dir", "Unit directory.").Envar("AYUMI_DIR").StringVar(&o.dir)
	app.Flag("extension", "Unit file extension.").Envar("AYUMI_EXTENSION").StringVar(&o.extension)
	app.Flag("store", "Progress store: file, mysql, postgres or sqlite.").Envar("AYUMI_STORE").
		EnumVar(&o.store, config.StoreFile, config.StoreMySQL, config.StorePostgres, config.StoreSQLite)
	app.Flag("store-dsn", "Progress store connection string.").Envar("AYUMI_STORE_DSN").StringVar(&o.storeDSN)
	app.Flag("table", "Progress table name.").Envar("AYUMI_TABLE").StringVar(&o.table)
	app.Flag("driver", "Unit driver: none, mysql, postgres, sqlite or shell.").Envar("AYUMI_DRIVER").
		EnumVar(&o.driver, config.DriverNone, config.DriverMySQL, config.DriverPostgres, config.DriverSQLite, config.DriverShell)
	app.Flag("driver-dsn", "Unit driver connection string.").Envar("AYUMI_DRIVER_DSN").StringVar(&o.driverDSN)
	app.Flag("shell", "Shell for the shell driver.").Envar("AYUMI_SHELL").StringVar(&o.shell)
	app.Flag("lock", "Locking: none, file or postgres.").Envar("AYUMI_LOCK").
		EnumVar(&o.lock, config.LockNone, config.LockFile, config.LockPostgres)
}

func (o overrides) apply(c *config.Config, wd string) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	if o.dir != "" {
		c.Dir = o.dir
		if !filepath.IsAbs(c.Dir) {
			c.Dir = filepath.Join(wd, c.Dir)
		}
	}
	set(&c.Extension, o.extension)
	set(&c.Store.Kind, o.store)
	set(&c.Store.DSN, o.storeDSN)
	set(&c.Store.Table, o.table)
	set(&c.Driver.Name, o.driver)
	set(&c.Driver.DSN, o.driverDSN)
	set(&c.Driver.Shell, o.shell)
	set(&c.Lock, o.lock)
}

type options struct {
	verbose bool
	noColor bool
	logger  log.Logger
	out     io.Writer
}

// project is everything a command needs, wired from the configuration.
type project struct {
	config  config.Config
	source  *files.Source
	store   progress.Store
	engine  ayumi.Engine
	console *report.Console
	out     io.Writer

	closers []io.Closer
}

func openProject(ctx context.Context, wd, configFile string, o overrides, opts options) (p *project, err error) {
	fsys := afero.NewOsFs()

	var c config.Config
	if configFile != "" {
		c, err = config.Load(fsys, configFile)
	} else {
		c, err = config.Resolve(fsys, wd)
		if errors.Is(err, config.ErrNotFound) && o.dir != "" {
			c, err = config.Default(), nil
		}
	}
	if err != nil {
		return nil, err
	}

	o.apply(&c, wd)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	p = &project{
		config:  c,
		console: report.NewConsole(opts.out, opts.noColor),
		out:     opts.out,
	}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	dbs := map[string]*sql.DB{}
	open := func(kind, dsn string) (*sql.DB, error) {
		key := kind + "\x00" + dsn
		if db, ok := dbs[key]; ok {
			return db, nil
		}
		db, err := openDB(kind, dsn)
		if err != nil {
			return nil, err
		}
		dbs[key] = db
		p.closers = append(p.closers, db)
		return db, nil
	}

	storeDB, err := p.openStore(fsys, open)
	if err != nil {
		return nil, err
	}

	drv, err := p.openDriver(open)
	if err != nil {
		return nil, err
	}

	locker, err := p.openLock(storeDB)
	if err != nil {
		return nil, err
	}

	p.source = files.New(fsys, c.Dir,
		files.WithExtension(c.Extension),
		files.WithWidth(c.Width),
		files.WithDriver(drv),
	)

	p.engine = ayumi.New(p.source, p.store,
		ayumi.WithLocker(locker, "ayumi:"+c.Dir),
		ayumi.WithReporter(ayumi.Reporters{p.console, report.NewLog(opts.logger)}),
		ayumi.WithLogger(opts.logger),
		ayumi.WithVerbose(opts.verbose),
	)

	_ = level.Debug(opts.logger).Log(
		"msg", "project opened",
		"dir", c.Dir,
		"store", c.Store.Kind,
		"driver", c.Driver.Name,
		"lock", c.Lock,
	)

	return p, ctx.Err()
}

func (p *project) openStore(fsys afero.Fs, open func(kind, dsn string) (*sql.DB, error)) (*sql.DB, error) {
	c := p.config.Store

	switch c.Kind {
	case config.StoreFile:
		p.store = progressfile.New(fsys, p.config.ProgressFile())
		return nil, nil

	case config.StoreMySQL:
		db, err := open(config.StoreMySQL, c.DSN)
		if err != nil {
			return nil, err
		}
		dsn, err := mysql.ParseDSN(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		p.store = progressmysql.New(db, progressmysql.StoreConfig{
			DatabaseName:        dsn.DBName,
			MigrationsTableName: c.Table,
		})
		return db, nil

	case config.StorePostgres:
		db, err := open(config.StorePostgres, c.DSN)
		if err != nil {
			return nil, err
		}
		p.store = progresspostgres.New(sqlx.NewDb(db, "postgres"), c.Table)
		return db, nil

	case config.StoreSQLite:
		db, err := open(config.StoreSQLite, c.DSN)
		if err != nil {
			return nil, err
		}
		table := c.Table
		if table == "" {
			table = progresssqlite.DefaultTableName
		}
		store, err := progresssqlite.New(db, table)
		if err != nil {
			return nil, err
		}
		p.store = store
		return db, nil
	}

	return nil, fmt.Errorf("%w: unknown store kind %q", config.ErrInvalid, c.Kind)
}

func (p *project) openDriver(open func(kind, dsn string) (*sql.DB, error)) (driver.Driver, error) {
	c := p.config.Driver

	switch c.Name {
	case config.DriverNone:
		return nil, nil

	case config.DriverShell:
		drv := shell.New(filepath.Dir(p.config.Dir))
		if c.Shell != "" {
			drv.Shell = c.Shell
		}
		drv.Stdout = p.out
		return drv, nil

	case config.DriverMySQL, config.DriverPostgres, config.DriverSQLite:
		db, err := open(c.Name, p.config.DriverDSN())
		if err != nil {
			return nil, err
		}
		var opts []sqldb.Option
		if !c.Transaction {
			opts = append(opts, sqldb.WithoutTransaction())
		}
		return sqldb.New(db, opts...), nil
	}

	return nil, fmt.Errorf("%w: unknown driver %q", config.ErrInvalid, c.Name)
}

func (p *project) openLock(storeDB *sql.DB) (lock.Locker, error) {
	switch p.config.Lock {
	case config.LockNone:
		return lock.Nop{}, nil
	case config.LockFile:
		return lock.NewFile(filepath.Join(p.config.Dir, progressfile.DefaultName+".lock")), nil
	case config.LockPostgres:
		if storeDB == nil {
			return nil, fmt.Errorf("%w: the postgres lock needs the postgres store", config.ErrInvalid)
		}
		return lock.NewPostgres(storeDB), nil
	}

	return nil, fmt.Errorf("%w: unknown lock %q", config.ErrInvalid, p.config.Lock)
}

func (p *project) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		_ = p.closers[i].Close()
	}
	p.closers = nil
}

// openDB opens a connection pool for a store or driver kind. MySQL
// connections allow multiple statements per section.
func openDB(kind, dsn string) (*sql.DB, error) {
	switch kind {
	case config.DriverMySQL:
		mcfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		mcfg.MultiStatements = true

		connector, err := mysql.NewConnector(mcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mysql: %w", err)
		}
		return sql.OpenDB(connector), nil

	case config.DriverPostgres:
		return sql.Open("postgres", dsn)

	case config.DriverSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	}

	return nil, fmt.Errorf("%w: no database for %q", config.ErrInvalid, kind)
}
