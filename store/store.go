package store

import (
	"database/sql"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store wraps the shared sqlite database. It is the only mutable resource
// shared between workers; all coordination happens via short transactions.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if required) the store at path. Use ":memory:" in tests.
func Open(logger *logrus.Logger, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_fk=1&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open store %s", path)
	}
	// sqlite serializes writers; a single conn avoids busy errors between workers
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only consumers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// IsConflict reports whether err is a unique/primary key violation, which
// callers treat as "already present".
func IsConflict(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// WithTx runs fn inside a transaction. Conflicts surface to the caller
// unchanged; any other failure is retried once before giving up.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		tx, err := s.db.Begin()
		if err != nil {
			lastErr = err
			continue
		}
		if err = fn(tx); err != nil {
			tx.Rollback()
			if IsConflict(err) {
				return err
			}
			s.logger.Warnf("Transaction failed (attempt %d): %v", attempt+1, err)
			lastErr = err
			continue
		}
		if err = tx.Commit(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Wrap(lastErr, "transaction failed after retry")
}

func (s *Store) createSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "failed to create schema")
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_name TEXT NOT NULL,
		environment TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 22,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		jar_path TEXT NOT NULL,
		classes_path TEXT NOT NULL,
		jar_decompile_output_dir TEXT NOT NULL,
		class_decompile_output_dir TEXT NOT NULL,
		UNIQUE(service_name, environment)
	)`,
	`CREATE TABLE IF NOT EXISTS jar_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id INTEGER NOT NULL REFERENCES services(id),
		jar_name TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		last_modified TIMESTAMP NOT NULL,
		is_third_party INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		decompile_path TEXT NOT NULL DEFAULT '',
		version_no INTEGER NOT NULL DEFAULT 0,
		last_version_no INTEGER NOT NULL DEFAULT 0,
		UNIQUE(service_id, jar_name)
	)`,
	`CREATE TABLE IF NOT EXISTS class_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id INTEGER NOT NULL REFERENCES services(id),
		class_full_name TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		last_modified TIMESTAMP NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		decompile_path TEXT NOT NULL DEFAULT '',
		version_no INTEGER NOT NULL DEFAULT 0,
		last_version_no INTEGER NOT NULL DEFAULT 0,
		java_source_file_version_id INTEGER REFERENCES java_source_file_versions(id),
		UNIQUE(service_id, class_full_name)
	)`,
	`CREATE TABLE IF NOT EXISTS java_source_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_full_name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS java_source_file_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		java_source_file_id INTEGER NOT NULL REFERENCES java_source_files(id),
		file_content TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		file_hash TEXT NOT NULL,
		line_count INTEGER NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(java_source_file_id, file_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS jar_source_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		jar_file_id INTEGER NOT NULL REFERENCES jar_files(id),
		java_source_file_version_id INTEGER NOT NULL REFERENCES java_source_file_versions(id),
		UNIQUE(jar_file_id, java_source_file_version_id)
	)`,
	`CREATE TABLE IF NOT EXISTS diff_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_kind TEXT NOT NULL,
		artifact_name TEXT NOT NULL,
		from_version INTEGER NOT NULL,
		to_version INTEGER NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		change_type TEXT NOT NULL DEFAULT '',
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		change_percentage INTEGER NOT NULL DEFAULT 0,
		files_changed INTEGER NOT NULL DEFAULT 0,
		diff_text TEXT NOT NULL DEFAULT '',
		computed_at TIMESTAMP NOT NULL,
		UNIQUE(artifact_kind, artifact_name, from_version, to_version, file_path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jar_files_name ON jar_files(jar_name)`,
	`CREATE INDEX IF NOT EXISTS idx_class_files_name ON class_files(class_full_name)`,
	`CREATE INDEX IF NOT EXISTS idx_links_version ON jar_source_links(java_source_file_version_id)`,
}
