// Package file keeps the progress record in a line-delimited text file:
// one "<id>\t<applied at>" line per applied unit, oldest first.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/progress"
)

// DefaultName is the progress file name inside the unit directory.
const DefaultName = ".migrate"

const header = "# applied units, oldest first. managed by ayumi, do not reorder."

type Store struct {
	fs   afero.Fs
	path string
	now  func() time.Time
}

func New(fsys afero.Fs, path string) *Store {
	return &Store{
		fs:   fsys,
		path: path,
		now:  time.Now,
	}
}

// Path returns the location of the progress file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(_ context.Context) ([]progress.Entry, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []progress.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file %s: %w", s.path, err)
	}

	return parse(data)
}

func (s *Store) RecordApplied(ctx context.Context, id string) error {
	entries, err := s.Load(ctx)
	if err != nil {
		return err
	}

	if progress.Contains(entries, id) {
		return fmt.Errorf("%w: %s", progress.ErrDuplicate, id)
	}

	entries = append(entries, progress.Entry{ID: id, AppliedAt: s.now().UTC()})

	return s.write(entries)
}

func (s *Store) RecordReverted(ctx context.Context, id string) error {
	entries, err := s.Load(ctx)
	if err != nil {
		return err
	}

	entries, err = progress.Remove(entries, id)
	if err != nil {
		return fmt.Errorf("%w: %s", err, id)
	}

	return s.write(entries)
}

func (s *Store) write(entries []progress.Entry) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o775); err != nil {
		return fmt.Errorf("failed to create directory for progress file: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteByte('\n')
	for _, e := range entries {
		buf.WriteString(e.ID)
		if !e.AppliedAt.IsZero() {
			buf.WriteByte('\t')
			buf.WriteString(e.AppliedAt.Format(time.RFC3339))
		}
		buf.WriteByte('\n')
	}

	// write aside, sync, then rename over the record
	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o664)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tmp, err)
	}

	if _, err = f.Write(buf.Bytes()); err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace progress file %s: %w", s.path, err)
	}

	return nil
}

func parse(data []byte) ([]progress.Entry, error) {
	entries := make([]progress.Entry, 0)
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) > 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields", progress.ErrCorrupt, lineNo, len(fields))
		}

		id := strings.TrimSpace(fields[0])
		if _, err := migration.ParseID(id); err != nil {
			return nil, fmt.Errorf("%w: line %d: %s", progress.ErrCorrupt, lineNo, err.Error())
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: line %d: %s is listed twice", progress.ErrCorrupt, lineNo, id)
		}
		seen[id] = true

		entry := progress.Entry{ID: id}
		if len(fields) == 2 {
			appliedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[1]))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad timestamp %q", progress.ErrCorrupt, lineNo, fields[1])
			}
			entry.AppliedAt = appliedAt
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", progress.ErrCorrupt, err.Error())
	}

	return entries, nil
}
