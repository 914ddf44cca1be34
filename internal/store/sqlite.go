package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenSQLite opens (and creates) a SQLite database file.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// SQLite stores one record kind as JSON documents in its own table.
type SQLite[E any, T interface {
	*E
	Record
}] struct {
	db    *sql.DB
	table string
}

// NewSQLite prepares the table for a record kind.
func NewSQLite[E any, T interface {
	*E
	Record
}](db *sql.DB, table string) (*SQLite[E, T], error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &SQLite[E, T]{db: db, table: table}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite[E, T]) init() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`, s.table)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLite[E, T]) Save(ctx context.Context, rec T) (string, error) {
	id := ensureID(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, s.table), id, string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to save %s record: %w", s.table, err)
	}
	return id, nil
}

func (s *SQLite[E, T]) Get(ctx context.Context, id string) (T, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", s.table), id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load %s record: %w", s.table, err)
	}
	return decode[E, T]([]byte(doc))
}

func (s *SQLite[E, T]) Find(ctx context.Context, f Filter) ([]T, error) {
	query, args, err := s.selectQuery(f)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.table, err)
		}
		rec, err := decode[E, T]([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite[E, T]) FindOne(ctx context.Context, f Filter) (T, error) {
	found, err := s.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}

func (s *SQLite[E, T]) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s record: %w", s.table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLite[E, T]) All(ctx context.Context) ([]T, error) {
	return s.Find(ctx, nil)
}

// selectQuery builds the lookup. Scalars compare against json_extract;
// structured values compare by their JSON text.
func (s *SQLite[E, T]) selectQuery(f Filter) (string, []interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT doc FROM %s", s.table)

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []interface{}
	for i, key := range keys {
		if !identPattern.MatchString(key) {
			return "", nil, fmt.Errorf("invalid filter field %q", key)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}

		v, err := normalize(f[key])
		if err != nil {
			return "", nil, fmt.Errorf("invalid filter value for %q: %w", key, err)
		}
		switch v.(type) {
		case string, bool, float64:
			fmt.Fprintf(&b, "json_extract(doc, '$.%s') = ?", key)
			args = append(args, v)
		default:
			data, _ := json.Marshal(v)
			fmt.Fprintf(&b, "json(json_extract(doc, '$.%s')) = json(?)", key)
			args = append(args, string(data))
		}
	}
	b.WriteString(" ORDER BY rowid")
	return b.String(), args, nil
}

// normalize round-trips a filter value through JSON so named types
// (such as status strings) bind as plain scalars.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
