// Package config loads ayumi.yml and locates the project a command runs in.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/root-talis/ayumi/migration"
)

const (
	FileName   = "ayumi.yml"
	DefaultDir = "migrations"
)

// Store kinds.
const (
	StoreFile     = "file"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Driver names. DriverNone only runs units whose sections are empty.
const (
	DriverNone     = "none"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverShell    = "shell"
)

// Lock kinds.
const (
	LockNone     = "none"
	LockFile     = "file"
	LockPostgres = "postgres"
)

var (
	ErrNotFound = errors.New("no ayumi.yml or migrations directory found")
	ErrInvalid  = errors.New("invalid configuration")
)

type Store struct {
	Kind  string `yaml:"kind"`
	DSN   string `yaml:"dsn,omitempty"`
	Table string `yaml:"table,omitempty"`
	// File is the progress file for the file store, relative to Dir.
	File string `yaml:"file,omitempty"`
}

type Driver struct {
	Name  string `yaml:"name"`
	DSN   string `yaml:"dsn,omitempty"`
	Shell string `yaml:"shell,omitempty"`
	// Transaction wraps each sql section in a transaction.
	Transaction bool `yaml:"transaction"`
}

type Config struct {
	// Dir holds the unit files. Relative paths are resolved against the
	// directory the config file was found in.
	Dir       string `yaml:"dir"`
	Extension string `yaml:"extension"`
	Width     int    `yaml:"width"`
	Store     Store  `yaml:"store"`
	Driver    Driver `yaml:"driver"`
	Lock      string `yaml:"lock"`
}

func Default() Config {
	return Config{
		Dir:       DefaultDir,
		Extension: "sql",
		Width:     migration.DefaultWidth,
		Store: Store{
			Kind: StoreFile,
			File: ".migrate",
		},
		Driver: Driver{
			Name:        DriverNone,
			Transaction: true,
		},
		Lock: LockFile,
	}
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Load reads path and resolves Dir against its directory.
func Load(fsys afero.Fs, path string) (Config, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	if !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(filepath.Dir(path), cfg.Dir)
	}

	return cfg, nil
}

// Validate checks that every kind is known and that the settings each one
// needs are present.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: dir is empty", ErrInvalid)
	}
	if c.Extension == "" {
		return fmt.Errorf("%w: extension is empty", ErrInvalid)
	}
	if c.Width < 1 || c.Width > 20 {
		return fmt.Errorf("%w: width %d is out of range 1..20", ErrInvalid, c.Width)
	}

	switch c.Store.Kind {
	case StoreFile:
		if c.Store.File == "" {
			return fmt.Errorf("%w: store.file is empty", ErrInvalid)
		}
	case StoreMySQL, StorePostgres, StoreSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for the %s store", ErrInvalid, c.Store.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalid, c.Store.Kind)
	}

	switch c.Driver.Name {
	case DriverNone, DriverShell:
	case DriverMySQL, DriverPostgres, DriverSQLite:
		if c.DriverDSN() == "" {
			return fmt.Errorf("%w: driver.dsn is required for the %s driver", ErrInvalid, c.Driver.Name)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalid, c.Driver.Name)
	}

	switch c.Lock {
	case LockNone, LockFile:
	case LockPostgres:
		if c.Store.Kind != StorePostgres {
			return fmt.Errorf("%w: the postgres lock needs the postgres store", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown lock %q", ErrInvalid, c.Lock)
	}

	return nil
}

// DriverDSN falls back to the store DSN when both talk to the same kind of
// database.
func (c *Config) DriverDSN() string {
	if c.Driver.DSN != "" {
		return c.Driver.DSN
	}
	if c.Driver.Name == c.Store.Kind {
		return c.Store.DSN
	}
	return ""
}

// ProgressFile returns the file store location.
func (c *Config) ProgressFile() string {
	if filepath.IsAbs(c.Store.File) {
		return c.Store.File
	}
	return filepath.Join(c.Dir, c.Store.File)
}

// ---

// Find walks up from start until a directory holds ayumi.yml or a migrations
// directory. It returns the config file path, or "" with the directory whose
// migrations subdirectory matched.
func Find(fsys afero.Fs, start string) (configFile, root string, err error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", "", err
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if ok, err := isFile(fsys, candidate); err != nil {
			return "", "", err
		} else if ok {
			return candidate, dir, nil
		}

		if ok, err := afero.DirExists(fsys, filepath.Join(dir, DefaultDir)); err != nil {
			return "", "", err
		} else if ok {
			return "", dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("%w above %s", ErrNotFound, start)
		}
		dir = parent
	}
}

func isFile(fsys afero.Fs, path string) (bool, error) {
	stat, err := fsys.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stat.Mode().IsRegular(), nil
}

// Resolve finds the project above start and returns its configuration. A
// project without ayumi.yml gets Default with Dir pointing at its
// migrations directory.
func Resolve(fsys afero.Fs, start string) (Config, error) {
	configFile, root, err := Find(fsys, start)
	if err != nil {
		return Config{}, err
	}

	if configFile != "" {
		return Load(fsys, configFile)
	}

	cfg := Default()
	cfg.Dir = filepath.Join(root, DefaultDir)
	return cfg, nil
}
