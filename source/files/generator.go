package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/root-talis/ayumi/migration"
)

// TemplateName is the optional file in the unit directory whose contents are
// placed into both sections of every generated unit.
const TemplateName = ".template"

var ErrUnitExists = errors.New("unit file already exists")

// TemplatePath returns the location of the body snippet file.
func (s *Source) TemplatePath() string {
	return filepath.Join(s.dir, TemplateName)
}

// Create writes a new unit keyed one past the highest existing key. The
// directory is created if needed.
func (s *Source) Create(ctx context.Context, titleWords []string) (migration.Ref, error) {
	refs, err := s.Discover(ctx)
	if err != nil {
		return migration.Ref{}, err
	}

	var maxKey migration.Key
	width := s.width
	for _, ref := range refs {
		if ref.Key > maxKey {
			maxKey = ref.Key
		}
		width = ref.Width
	}

	id, err := migration.FormatID(maxKey+1, width, migration.Slugify(titleWords))
	if err != nil {
		return migration.Ref{}, err
	}

	snippet, err := s.readTemplate()
	if err != nil {
		return migration.Ref{}, err
	}

	if err := s.fs.MkdirAll(s.dir, 0o775); err != nil {
		return migration.Ref{}, fmt.Errorf("failed to create unit directory: %w", err)
	}

	path := filepath.Join(s.dir, id+"."+s.ext)
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o664)
	if errors.Is(err, fs.ErrExist) {
		return migration.Ref{}, fmt.Errorf("%w: %s", ErrUnitExists, path)
	}
	if err != nil {
		return migration.Ref{}, fmt.Errorf("failed to create unit file: %w", err)
	}

	_, err = f.Write(render(commentLeader(s.ext), snippet))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return migration.Ref{}, fmt.Errorf("failed to write unit file %s: %w", path, err)
	}

	ref, err := migration.ParseID(id)
	if err != nil {
		return migration.Ref{}, err
	}
	ref.Path = path

	return ref, nil
}

func (s *Source) readTemplate() (string, error) {
	data, err := afero.ReadFile(s.fs, s.TemplatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read unit template: %w", err)
	}

	return strings.TrimRight(string(data), "\n"), nil
}

func render(leader, snippet string) []byte {
	var buf bytes.Buffer

	for _, section := range []string{"Up", "Down"} {
		if section == "Down" {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "%s +migrate %s\n", leader, section)
		if snippet != "" {
			buf.WriteString(snippet)
			buf.WriteByte('\n')
		}
	}

	return buf.Bytes()
}

func commentLeader(ext string) string {
	switch ext {
	case "sh", "bash", "py", "rb", "yml", "yaml":
		return "#"
	case "go", "js", "ts":
		return "//"
	default:
		return "--"
	}
}
