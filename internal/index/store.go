package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/haozheli/docchat/internal/index/migrations"
)

// Store persists indexed files in a SQLite database. A single writer at a
// time is assumed; SQLite serializes the rest.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenStore opens (or creates) the index database at path and brings the
// schema up to date.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	// modernc sqlite handles are not safe for concurrent writes on
	// separate connections against the same file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure index db: %w", err)
	}

	if err := runMigrations(path); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		log: slog.With("component", "index.store"),
	}, nil
}

func runMigrations(path string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or replaces the row keyed by (doc type, relative path).
func (s *Store) Upsert(f IndexedFile) error {
	meta := f.Metadata
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO indexed_files
		 (document_type, relative_path, file_name, ext, size, modified_time,
		  content_hash, last_scanned, year, project_name, status, category,
		  sub_category, doc_name, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(f.DocType), f.RelativePath, f.FileName, f.Ext, f.Size,
		f.ModifiedTime, f.ContentHash, f.LastScanned,
		meta.Year, meta.ProjectName, meta.Status, meta.Category,
		meta.SubCategory, meta.DocName, meta.JSON(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", f.DocType, f.RelativePath, err)
	}
	return nil
}

// Delete removes the row for exactly relPath. Missing rows are not an error.
func (s *Store) Delete(docType DocType, relPath string) error {
	_, err := s.db.Exec(
		"DELETE FROM indexed_files WHERE document_type = ? AND relative_path = ?",
		string(docType), relPath,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", docType, relPath, err)
	}
	return nil
}

// DeleteTree removes relPath and everything indexed under it. Used when a
// directory disappears and the watcher only sees the top-level event.
func (s *Store) DeleteTree(docType DocType, relPath string) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM indexed_files
		 WHERE document_type = ? AND (relative_path = ? OR relative_path LIKE ?)`,
		string(docType), relPath, relPath+"/%",
	)
	if err != nil {
		return 0, fmt.Errorf("delete tree %s/%s: %w", docType, relPath, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Get returns the single row for (docType, relPath), or sql.ErrNoRows.
func (s *Store) Get(docType DocType, relPath string) (IndexedFile, error) {
	rows, err := s.queryRows(
		"WHERE document_type = ? AND relative_path = ?",
		[]interface{}{string(docType), relPath}, 1,
	)
	if err != nil {
		return IndexedFile{}, err
	}
	if len(rows) == 0 {
		return IndexedFile{}, sql.ErrNoRows
	}
	return rows[0], nil
}

// Find returns all rows matching q, ordered by relative path.
func (s *Store) Find(q Query) ([]IndexedFile, error) {
	where, args := q.build()
	return s.queryRows(where, args, q.Limit)
}

// Count returns the number of rows matching q.
func (s *Store) Count(q Query) (int, error) {
	where, args := q.build()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM indexed_files "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count indexed files: %w", err)
	}
	return n, nil
}

// StalePaths returns relative paths of docType rows whose last_scanned is
// older than cutoff. The scanner uses this to drop rows for files deleted
// while the service was down.
func (s *Store) StalePaths(docType DocType, cutoff float64) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT relative_path FROM indexed_files WHERE document_type = ? AND last_scanned < ?",
		string(docType), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale rows: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ProjectRef identifies one project by its year and name.
type ProjectRef struct {
	Year string `json:"year"`
	Name string `json:"project_name"`
}

// DistinctProjects returns the distinct (year, project name) pairs among
// rows matching q.
func (s *Store) DistinctProjects(q Query) ([]ProjectRef, error) {
	where, args := q.build()
	rows, err := s.db.Query(
		`SELECT DISTINCT year, project_name FROM indexed_files `+where+
			` ORDER BY year, project_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("query distinct projects: %w", err)
	}
	defer rows.Close()

	var refs []ProjectRef
	for rows.Next() {
		var r ProjectRef
		if err := rows.Scan(&r.Year, &r.Name); err != nil {
			return nil, err
		}
		if r.Year == "" || r.Name == "" {
			continue
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *Store) queryRows(where string, args []interface{}, limit int) ([]IndexedFile, error) {
	q := `SELECT document_type, relative_path, file_name, ext, size,
	             modified_time, content_hash, last_scanned, year, project_name,
	             status, category, sub_category, doc_name, metadata
	      FROM indexed_files ` + where + " ORDER BY relative_path"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query indexed files: %w", err)
	}
	defer rows.Close()

	var result []IndexedFile
	for rows.Next() {
		var f IndexedFile
		var docType string
		if err := rows.Scan(
			&docType, &f.RelativePath, &f.FileName, &f.Ext, &f.Size,
			&f.ModifiedTime, &f.ContentHash, &f.LastScanned,
			&f.Metadata.Year, &f.Metadata.ProjectName, &f.Metadata.Status,
			&f.Metadata.Category, &f.Metadata.SubCategory, &f.Metadata.DocName,
			&f.MetadataJSON,
		); err != nil {
			return nil, fmt.Errorf("scan indexed file: %w", err)
		}
		f.DocType = DocType(docType)
		result = append(result, f)
	}
	return result, rows.Err()
}
