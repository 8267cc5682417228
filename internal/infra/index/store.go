// Package index keeps a SQLite table of every file under the global roots so
// recent-file queries do not walk the disks.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hddbrowser/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	root TEXT NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	is_dir BOOLEAN NOT NULL,
	size INTEGER NOT NULL,
	modified INTEGER NOT NULL,
	extension TEXT
);
CREATE INDEX IF NOT EXISTS idx_root ON files(root);
CREATE INDEX IF NOT EXISTS idx_root_mod ON files(root, is_dir, modified);
CREATE INDEX IF NOT EXISTS idx_root_ext_mod ON files(root, extension, modified);
CREATE UNIQUE INDEX IF NOT EXISTS idx_root_path ON files(root, path);
`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the index database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps every row of root for files in one transaction.
func (s *Store) Replace(ctx context.Context, root string, files []domain.IndexedFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE root = ?", root); err != nil {
		return fmt.Errorf("clear %s: %w", root, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO files(root, name, path, is_dir, size, modified, extension) VALUES(?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, root, f.Name, f.Path, f.IsDir, f.Size, f.Modified, f.Extension); err != nil {
			return fmt.Errorf("insert %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of rows held for root.
func (s *Store) Count(ctx context.Context, root string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE root = ?", root).Scan(&n)
	return n, err
}

// RecentQuery selects files by modification time. Prefix limits results to a
// subtree (slash separated, relative to the root).
type RecentQuery struct {
	Root       string
	Prefix     string
	Extensions []string
	Days       int
	Limit      int
	Offset     int
}

// Recent lists non-hidden files, newest first, plus the total match count.
func (s *Store) Recent(ctx context.Context, q RecentQuery) ([]domain.IndexedFile, int, error) {
	where := `WHERE root = ? AND is_dir = 0
		AND name NOT LIKE '.%'
		AND name NOT LIKE '$%'
		AND name NOT LIKE '~%'`
	args := []any{q.Root}

	if prefix := strings.Trim(q.Prefix, "/"); prefix != "" {
		where += " AND substr(path, 1, ?) = ?"
		args = append(args, len(prefix)+1, prefix+"/")
	}
	if len(q.Extensions) > 0 {
		placeholders := make([]string, len(q.Extensions))
		for i, ext := range q.Extensions {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(strings.TrimPrefix(ext, ".")))
		}
		where += " AND extension IN (" + strings.Join(placeholders, ",") + ")"
	}
	if q.Days > 0 {
		where += " AND modified > ?"
		args = append(args, time.Now().AddDate(0, 0, -q.Days).Unix())
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recent: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, path, is_dir, size, modified, extension FROM files "+where+" ORDER BY modified DESC, path LIMIT ? OFFSET ?",
		append(args, limit, max(q.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	results := []domain.IndexedFile{}
	for rows.Next() {
		var f domain.IndexedFile
		var ext sql.NullString
		if err := rows.Scan(&f.Name, &f.Path, &f.IsDir, &f.Size, &f.Modified, &ext); err != nil {
			return nil, 0, fmt.Errorf("scan recent: %w", err)
		}
		f.Extension = ext.String
		results = append(results, f)
	}
	return results, total, rows.Err()
}
