// Package files discovers units in a directory of "<digits>[-<slug>].<ext>"
// files, binds their sections to a driver and generates new units.
package files

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/root-talis/ayumi/driver"
	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/source"
)

// DefaultExtension is the unit file extension, without the dot.
const DefaultExtension = "sql"

var (
	ErrNotADirectory    = errors.New("unit source is not a directory")
	ErrMissingUpSection = errors.New("missing +migrate Up marker")
	ErrRepeatedSection  = errors.New("section marker repeated")
	ErrNoDriver         = errors.New("unit has a body but no driver is configured")
)

// "-- +migrate Up", "# +migrate down", "// +migrate Down"
var markerPattern = regexp.MustCompile(`(?i)^(?:--|#|//)\s*\+migrate\s+(up|down)\s*$`)

type Source struct {
	fs     afero.Fs
	dir    string
	ext    string
	width  int
	driver driver.Driver
}

type Option func(*Source)

func WithExtension(ext string) Option {
	return func(s *Source) {
		s.ext = strings.TrimPrefix(ext, ".")
	}
}

// WithWidth sets the prefix width used for the first unit of an empty
// directory. Afterwards the width of existing units wins.
func WithWidth(width int) Option {
	return func(s *Source) {
		s.width = width
	}
}

func WithDriver(drv driver.Driver) Option {
	return func(s *Source) {
		s.driver = drv
	}
}

func New(fsys afero.Fs, dir string, opts ...Option) *Source {
	s := &Source{
		fs:    fsys,
		dir:   dir,
		ext:   DefaultExtension,
		width: migration.DefaultWidth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the unit directory.
func (s *Source) Dir() string {
	return s.dir
}

func (s *Source) Discover(_ context.Context) ([]migration.Ref, error) {
	stat, err := s.fs.Stat(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []migration.Ref{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat unit directory: %w", err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, s.dir)
	}

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of unit directory: %w", err)
	}

	suffix := "." + s.ext
	refs := make([]migration.Ref, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !entry.Mode().IsRegular() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}

		ref, err := migration.ParseID(strings.TrimSuffix(name, suffix))
		if err != nil {
			continue
		}

		ref.Path = filepath.Join(s.dir, name)
		refs = append(refs, ref)
	}

	sort.Slice(refs, func(i, j int) bool {
		return filepath.Base(refs[i].Path) < filepath.Base(refs[j].Path)
	})

	if err := validateCatalog(refs); err != nil {
		return nil, err
	}

	return refs, nil
}

// validateCatalog rejects catalogs where lexicographic and numeric order
// could disagree, and catalogs with colliding keys.
func validateCatalog(refs []migration.Ref) error {
	byKey := make(map[migration.Key]migration.Ref, len(refs))

	for _, ref := range refs {
		if ref.Width != refs[0].Width {
			return fmt.Errorf(
				"%w: %s has %d digits, %s has %d",
				source.ErrAmbiguousWidth,
				filepath.Base(refs[0].Path), refs[0].Width,
				filepath.Base(ref.Path), ref.Width,
			)
		}

		if other, exists := byKey[ref.Key]; exists {
			return fmt.Errorf(
				"%w: %s and %s",
				source.ErrDuplicateKey,
				filepath.Base(other.Path),
				filepath.Base(ref.Path),
			)
		}
		byKey[ref.Key] = ref
	}

	return nil
}

func (s *Source) Load(_ context.Context, ref migration.Ref) (migration.Unit, error) {
	data, err := afero.ReadFile(s.fs, ref.Path)
	if err != nil {
		return migration.Unit{}, fmt.Errorf("failed to read unit file: %w", err)
	}

	up, down, err := parseSections(data)
	if err != nil {
		return migration.Unit{}, err
	}

	unit := migration.Unit{Ref: ref}
	if unit.Up, err = s.bind(ref, up); err != nil {
		return migration.Unit{}, err
	}
	if unit.Down, err = s.bind(ref, down); err != nil {
		return migration.Unit{}, err
	}

	return unit, nil
}

func (s *Source) bind(ref migration.Ref, script string) (migration.Action, error) {
	if onlyComments(script) {
		return migration.Noop, nil
	}

	if s.driver == nil {
		return nil, ErrNoDriver
	}

	drv := s.driver
	return func(ctx context.Context, env migration.Env) error {
		return drv.Migrate(ctx, env, ref, script)
	}, nil
}

// parseSections splits a unit file into its up and down bodies. Text before
// the first marker is ignored.
func parseSections(data []byte) (string, string, error) {
	var upBuilder, downBuilder strings.Builder
	var currentSection *strings.Builder
	seenUp, seenDown := false, false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if match := markerPattern.FindStringSubmatch(strings.TrimSpace(line)); match != nil {
			switch strings.ToLower(match[1]) {
			case "up":
				if seenUp {
					return "", "", fmt.Errorf("%w: up", ErrRepeatedSection)
				}
				seenUp = true
				currentSection = &upBuilder
			case "down":
				if seenDown {
					return "", "", fmt.Errorf("%w: down", ErrRepeatedSection)
				}
				seenDown = true
				currentSection = &downBuilder
			}
			continue
		}

		if currentSection != nil {
			currentSection.WriteString(line)
			currentSection.WriteString("\n")
		}
	}

	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("failed to read file: %w", err)
	}

	if !seenUp {
		return "", "", ErrMissingUpSection
	}

	return strings.TrimSpace(upBuilder.String()), strings.TrimSpace(downBuilder.String()), nil
}

// onlyComments reports whether script has no line other than blanks and
// comments, as in a freshly generated unit.
func onlyComments(script string) bool {
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		return false
	}
	return true
}
