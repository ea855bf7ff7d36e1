package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/root-talis/ayumi/migration"
	"github.com/root-talis/ayumi/progress"
)

type StoreConfig struct {
	DatabaseName        string
	MigrationsTableName string
}

// DefaultTableName is used when StoreConfig.MigrationsTableName is empty.
const DefaultTableName = "migrations_log"

// Store keeps an append-only log of every up and down step. The applied
// list is the replay of that log.
type Store struct {
	conn   *sql.DB
	config StoreConfig
}

func New(conn *sql.DB, config StoreConfig) *Store {
	if config.MigrationsTableName == "" {
		config.MigrationsTableName = DefaultTableName
	}

	return &Store{
		conn:   conn,
		config: config,
	}
}

func (s *Store) Load(ctx context.Context) ([]progress.Entry, error) {
	log, err := s.ListMigrationsLog(ctx)
	if err != nil {
		return nil, err
	}

	return replay(log)
}

// ListMigrationsLog returns the raw log, oldest first.
func (s *Store) ListMigrationsLog(ctx context.Context) ([]LogEntry, error) {
	tableName := s.makeEscapedMigrationsTableName()

	if err := s.ensureMigrationsTableExists(ctx, tableName); err != nil {
		return nil, fmt.Errorf("failed to list applied units: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT version, migration_name, direction, start_time FROM %s ORDER BY id",
		tableName,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied units: %w", err)
	}
	defer rows.Close()

	return fetchMigrationsLog(rows)
}

func (s *Store) RecordApplied(ctx context.Context, id string) error {
	entries, err := s.Load(ctx)
	if err != nil {
		return err
	}

	if progress.Contains(entries, id) {
		return fmt.Errorf("%w: %s", progress.ErrDuplicate, id)
	}

	return s.insert(ctx, id, migration.Up)
}

func (s *Store) RecordReverted(ctx context.Context, id string) error {
	entries, err := s.Load(ctx)
	if err != nil {
		return err
	}

	if !progress.Contains(entries, id) {
		return fmt.Errorf("%w: %s", progress.ErrNotApplied, id)
	}

	return s.insert(ctx, id, migration.Down)
}

func (s *Store) insert(ctx context.Context, id string, dir migration.Direction) error {
	ref, err := migration.ParseID(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.conn.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (version, migration_name, direction, start_time, end_time) VALUES (?, ?, ?, ?, ?)",
		s.makeEscapedMigrationsTableName(),
	), uint64(ref.Key), id, string(dir), now, now)
	if err != nil {
		return fmt.Errorf("failed to record %s of %s: %w", dir, id, err)
	}

	return nil
}

// ---

type LogEntry struct {
	Version   migration.Key
	Name      string
	Direction migration.Direction
	AppliedAt time.Time
}

func replay(log []LogEntry) ([]progress.Entry, error) {
	entries := make([]progress.Entry, 0, len(log))

	for _, e := range log {
		switch e.Direction {
		case migration.Up:
			if progress.Contains(entries, e.Name) {
				return nil, fmt.Errorf("%w: %s applied twice without a revert", progress.ErrCorrupt, e.Name)
			}
			entries = append(entries, progress.Entry{ID: e.Name, AppliedAt: e.AppliedAt})

		case migration.Down:
			var err error
			entries, err = progress.Remove(entries, e.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: %s reverted but never applied", progress.ErrCorrupt, e.Name)
			}
		}
	}

	return entries, nil
}

func fetchMigrationsLog(rows *sql.Rows) ([]LogEntry, error) {
	result := make([]LogEntry, 0)
	for rows.Next() {
		var entry LogEntry
		var appliedAt string
		var direction string

		err := rows.Scan(
			&entry.Version,
			&entry.Name,
			&direction,
			&appliedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query migrations log table: %w", err)
		}

		switch strings.ToLower(direction) {
		case "u":
			entry.Direction = migration.Up
		case "d":
			entry.Direction = migration.Down
		default:
			return nil, fmt.Errorf("%w: direction \"%s\" is unknown", progress.ErrCorrupt, direction)
		}

		entry.AppliedAt, err = time.Parse("2006-01-02 15:04:05", appliedAt)
		if err != nil {
			entry.AppliedAt = time.Time{}
		}

		result = append(result, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query migrations log table: %w", err)
	}

	return result, nil
}

func (s *Store) makeEscapedMigrationsTableName() string {
	if s.config.DatabaseName == "" {
		return fmt.Sprintf("`%s`", escapeMysqlString(s.config.MigrationsTableName))
	}

	return fmt.Sprintf(
		"`%s`.`%s`",
		escapeMysqlString(s.config.DatabaseName),
		escapeMysqlString(s.config.MigrationsTableName),
	)
}

func (s *Store) ensureMigrationsTableExists(ctx context.Context, escapedTableName string) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id             int not null auto_increment, "+
			"version        bigint unsigned, "+
			"migration_name varchar(255) null, "+
			"direction      char(1) null, "+ // "u" or "d"
			"start_time     datetime default CURRENT_TIMESTAMP not null, "+
			"end_time       datetime null, "+
			"primary key (id)"+
			") default charset utf8",
		escapedTableName,
	))

	if err != nil {
		return fmt.Errorf("failed to create migrations table %s: %w", escapedTableName, err)
	}

	return nil
}

// originally from https://gist.github.com/siddontang/8875771
func escapeMysqlString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '`':
			escape = '`'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}
