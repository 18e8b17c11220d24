package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const sourceVersionCols = `id, java_source_file_id, file_content, file_size, file_hash,
	line_count, version, updated_at`

func scanSourceVersion(r rowScanner) (*SourceVersion, error) {
	sv := &SourceVersion{}
	err := r.Scan(&sv.ID, &sv.SourceIdentityID, &sv.FileContent, &sv.FileSize, &sv.FileHash,
		&sv.LineCount, &sv.Version, &sv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sv, nil
}

// GetOrCreateIdentity returns the stable identity row for a class name
func (s *Store) GetOrCreateIdentity(classFullName string) (*SourceIdentity, error) {
	ident := &SourceIdentity{ClassFullName: classFullName}
	err := s.db.QueryRow(`SELECT id FROM java_source_files WHERE class_full_name = ?`, classFullName).Scan(&ident.ID)
	if err == nil {
		return ident, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.Wrapf(err, "failed to look up identity %s", classFullName)
	}
	res, err := s.db.Exec(`INSERT INTO java_source_files (class_full_name) VALUES (?)`, classFullName)
	if err != nil {
		if IsConflict(err) { // raced another worker - reuse
			return s.GetOrCreateIdentity(classFullName)
		}
		return nil, errors.Wrapf(err, "failed to create identity %s", classFullName)
	}
	ident.ID, err = res.LastInsertId()
	return ident, err
}

// GetOrCreateSourceVersion dedups by (identity, hash): identical content
// across any services produces exactly one row. Returns created=false when
// the content was already present.
func (s *Store) GetOrCreateSourceVersion(identityID int64, content string, hash string, lineCount int) (*SourceVersion, bool, error) {
	sv, err := s.findSourceVersion(identityID, hash)
	if err == nil {
		return sv, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, errors.Wrap(err, "failed to look up source version")
	}
	_, err = s.db.Exec(`INSERT INTO java_source_file_versions
		(java_source_file_id, file_content, file_size, file_hash, line_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		identityID, content, len(content), hash, lineCount, time.Now().UTC())
	if err != nil {
		if IsConflict(err) { // retry once and reuse the existing row
			sv, err = s.findSourceVersion(identityID, hash)
			return sv, false, err
		}
		return nil, false, errors.Wrap(err, "failed to insert source version")
	}
	sv, err = s.findSourceVersion(identityID, hash)
	return sv, true, err
}

func (s *Store) findSourceVersion(identityID int64, hash string) (*SourceVersion, error) {
	return scanSourceVersion(s.db.QueryRow(
		`SELECT `+sourceVersionCols+` FROM java_source_file_versions
		 WHERE java_source_file_id = ? AND file_hash = ?`, identityID, hash))
}

// SourceVersionByID - lookup by row id
func (s *Store) SourceVersionByID(id int64) (*SourceVersion, error) {
	sv, err := scanSourceVersion(s.db.QueryRow(
		`SELECT `+sourceVersionCols+` FROM java_source_file_versions WHERE id = ?`, id))
	return sv, errors.Wrapf(err, "failed to get source version %d", id)
}

// SetVersionLabel stores the comma-joined token set. The label is metadata,
// not content, so updated_at is left alone and cached diffs stay valid.
func (s *Store) SetVersionLabel(id int64, label string) error {
	_, err := s.db.Exec(`UPDATE java_source_file_versions SET version = ? WHERE id = ?`, label, id)
	return errors.Wrap(err, "failed to set version label")
}

// LinkJarSource records that a jar row contains a source version.
// An existing link is not an error.
func (s *Store) LinkJarSource(jarFileID, sourceVersionID int64) error {
	_, err := s.db.Exec(`INSERT INTO jar_source_links (jar_file_id, java_source_file_version_id)
		VALUES (?, ?)`, jarFileID, sourceVersionID)
	if err != nil && !IsConflict(err) {
		return errors.Wrap(err, "failed to link jar source")
	}
	return nil
}

// NamedSourceVersion pairs a source version with its identity name
type NamedSourceVersion struct {
	ClassFullName string
	*SourceVersion
}

// SourcesForJarVersion - the distinct source versions reachable through
// jar_source_links from every row of (jarName, versionNo)
func (s *Store) SourcesForJarVersion(jarName string, versionNo int) ([]*NamedSourceVersion, error) {
	rows, err := s.db.Query(`SELECT DISTINCT f.class_full_name, v.id, v.java_source_file_id,
			v.file_content, v.file_size, v.file_hash, v.line_count, v.version, v.updated_at
		FROM jar_files jf
		JOIN jar_source_links l ON l.jar_file_id = jf.id
		JOIN java_source_file_versions v ON v.id = l.java_source_file_version_id
		JOIN java_source_files f ON f.id = v.java_source_file_id
		WHERE jf.jar_name = ? AND jf.version_no = ?
		ORDER BY f.class_full_name`, jarName, versionNo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query jar sources")
	}
	return scanNamedVersions(rows)
}

// SourcesForClassVersion - the source versions pointed to by class rows of
// (classFullName, versionNo); at most one distinct version in practice
func (s *Store) SourcesForClassVersion(classFullName string, versionNo int) ([]*NamedSourceVersion, error) {
	rows, err := s.db.Query(`SELECT DISTINCT f.class_full_name, v.id, v.java_source_file_id,
			v.file_content, v.file_size, v.file_hash, v.line_count, v.version, v.updated_at
		FROM class_files cf
		JOIN java_source_file_versions v ON v.id = cf.java_source_file_version_id
		JOIN java_source_files f ON f.id = v.java_source_file_id
		WHERE cf.class_full_name = ? AND cf.version_no = ?`, classFullName, versionNo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query class sources")
	}
	return scanNamedVersions(rows)
}

func scanNamedVersions(rows *sql.Rows) ([]*NamedSourceVersion, error) {
	defer rows.Close()
	var out []*NamedSourceVersion
	for rows.Next() {
		sv := &SourceVersion{}
		nv := &NamedSourceVersion{SourceVersion: sv}
		err := rows.Scan(&nv.ClassFullName, &sv.ID, &sv.SourceIdentityID, &sv.FileContent,
			&sv.FileSize, &sv.FileHash, &sv.LineCount, &sv.Version, &sv.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, nv)
	}
	return out, rows.Err()
}

// LinksForJarRow - source version ids linked from one jar row
func (s *Store) LinksForJarRow(jarFileID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT java_source_file_version_id FROM jar_source_links
		WHERE jar_file_id = ?`, jarFileID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query jar links")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OrphanCount - orphaned versions of one identity
type OrphanCount struct {
	IdentityID    int64
	ClassFullName string
	VersionIDs    []int64
	LastOfKind    bool // deleting these removes the identity too
}

// FindOrphans lists source versions referenced by no class row and no jar
// link, grouped by identity. Driven by references, not names, so renaming a
// service never creates phantom orphans.
func (s *Store) FindOrphans() ([]*OrphanCount, error) {
	rows, err := s.db.Query(`SELECT v.id, v.java_source_file_id, f.class_full_name
		FROM java_source_file_versions v
		JOIN java_source_files f ON f.id = v.java_source_file_id
		WHERE NOT EXISTS (SELECT 1 FROM jar_source_links l WHERE l.java_source_file_version_id = v.id)
		  AND NOT EXISTS (SELECT 1 FROM class_files c WHERE c.java_source_file_version_id = v.id)
		ORDER BY f.class_full_name, v.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find orphans")
	}
	defer rows.Close()
	byIdentity := make(map[int64]*OrphanCount)
	var order []*OrphanCount
	for rows.Next() {
		var vid, fid int64
		var name string
		if err := rows.Scan(&vid, &fid, &name); err != nil {
			return nil, err
		}
		oc, ok := byIdentity[fid]
		if !ok {
			oc = &OrphanCount{IdentityID: fid, ClassFullName: name}
			byIdentity[fid] = oc
			order = append(order, oc)
		}
		oc.VersionIDs = append(oc.VersionIDs, vid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, oc := range order {
		var total int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM java_source_file_versions WHERE java_source_file_id = ?`,
			oc.IdentityID).Scan(&total)
		if err != nil {
			return nil, err
		}
		oc.LastOfKind = total == len(oc.VersionIDs)
	}
	return order, nil
}

// DeleteOrphans removes one identity's orphaned versions (and the identity
// itself when none remain) in a single transaction.
func (s *Store) DeleteOrphans(oc *OrphanCount) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for _, vid := range oc.VersionIDs {
			if _, err := tx.Exec(`DELETE FROM jar_source_links WHERE java_source_file_version_id = ?`, vid); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM java_source_file_versions WHERE id = ?`, vid); err != nil {
				return err
			}
		}
		if oc.LastOfKind {
			if _, err := tx.Exec(`DELETE FROM java_source_files WHERE id = ?`, oc.IdentityID); err != nil {
				return err
			}
		}
		return nil
	})
}
