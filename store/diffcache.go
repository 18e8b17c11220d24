package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const diffCols = `id, artifact_kind, artifact_name, from_version, to_version, file_path,
	change_type, additions, deletions, change_percentage, files_changed, diff_text, computed_at`

func scanDiff(r rowScanner) (*DiffEntry, error) {
	de := &DiffEntry{}
	err := r.Scan(&de.ID, &de.ArtifactKind, &de.ArtifactName, &de.FromVersion, &de.ToVersion,
		&de.FilePath, &de.ChangeType, &de.Additions, &de.Deletions, &de.ChangePercentage,
		&de.FilesChanged, &de.DiffText, &de.ComputedAt)
	if err != nil {
		return nil, err
	}
	return de, nil
}

// GetDiffEntries returns all cached rows for one endpoint pair, aggregate row
// (empty file_path) first. Empty result means not cached.
func (s *Store) GetDiffEntries(kind, name string, from, to int) ([]*DiffEntry, error) {
	rows, err := s.db.Query(`SELECT `+diffCols+` FROM diff_cache
		WHERE artifact_kind = ? AND artifact_name = ? AND from_version = ? AND to_version = ?
		ORDER BY file_path`, kind, name, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query diff cache")
	}
	defer rows.Close()
	var out []*DiffEntry
	for rows.Next() {
		de, err := scanDiff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, de)
	}
	return out, rows.Err()
}

// ReplaceDiffEntries memoizes a freshly computed diff, replacing any stale
// rows for the same endpoints in one transaction.
func (s *Store) ReplaceDiffEntries(kind, name string, from, to int, entries []*DiffEntry) error {
	now := time.Now().UTC()
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM diff_cache
			WHERE artifact_kind = ? AND artifact_name = ? AND from_version = ? AND to_version = ?`,
			kind, name, from, to)
		if err != nil {
			return err
		}
		for _, de := range entries {
			_, err = tx.Exec(`INSERT INTO diff_cache
				(artifact_kind, artifact_name, from_version, to_version, file_path,
				 change_type, additions, deletions, change_percentage, files_changed, diff_text, computed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				kind, name, from, to, de.FilePath,
				de.ChangeType, de.Additions, de.Deletions, de.ChangePercentage,
				de.FilesChanged, de.DiffText, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DiffComputedAt returns when the cached rows were written, or zero time if
// nothing is cached.
func (s *Store) DiffComputedAt(kind, name string, from, to int) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(`SELECT computed_at FROM diff_cache
		WHERE artifact_kind = ? AND artifact_name = ? AND from_version = ? AND to_version = ?
		LIMIT 1`, kind, name, from, to).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return t, errors.Wrap(err, "failed to read diff cache stamp")
}
