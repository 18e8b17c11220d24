package store

import (
	"database/sql"

	"github.com/pkg/errors"
)

const classCols = `id, service_id, class_full_name, file_size, last_modified,
	file_path, decompile_path, version_no, last_version_no, java_source_file_version_id`

func scanClass(r rowScanner) (*ClassFile, error) {
	cf := &ClassFile{}
	var svID sql.NullInt64
	err := r.Scan(&cf.ID, &cf.ServiceID, &cf.ClassFullName, &cf.FileSize, &cf.LastModified,
		&cf.FilePath, &cf.DecompilePath, &cf.VersionNo, &cf.LastVersionNo, &svID)
	if err != nil {
		return nil, err
	}
	if svID.Valid {
		cf.SourceVersionID = svID.Int64
	}
	return cf, nil
}

// UpsertClassListing - as UpsertJarListing, for loose class files
func (s *Store) UpsertClassListing(serviceID int64, classes []*ClassFile) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for _, cf := range classes {
			_, err := tx.Exec(`INSERT INTO class_files
				(service_id, class_full_name, file_size, last_modified)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(service_id, class_full_name) DO UPDATE SET
					file_size = excluded.file_size,
					last_modified = excluded.last_modified`,
				serviceID, cf.ClassFullName, cf.FileSize, cf.LastModified)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ClassesForService - all class rows of one service
func (s *Store) ClassesForService(serviceID int64) ([]*ClassFile, error) {
	return s.queryClasses(`SELECT `+classCols+` FROM class_files WHERE service_id = ? ORDER BY class_full_name`, serviceID)
}

// ClassesByName - all rows of one class name across the fleet
func (s *Store) ClassesByName(classFullName string) ([]*ClassFile, error) {
	return s.queryClasses(`SELECT `+classCols+` FROM class_files WHERE class_full_name = ? ORDER BY id`, classFullName)
}

// ClassNames - distinct class names across the fleet
func (s *Store) ClassNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT class_full_name FROM class_files ORDER BY class_full_name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list class names")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) queryClasses(q string, args ...interface{}) ([]*ClassFile, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query class files")
	}
	defer rows.Close()
	var classes []*ClassFile
	for rows.Next() {
		cf, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, cf)
	}
	return classes, rows.Err()
}

// UpdateClassFetch records where the fetched binary was cached
func (s *Store) UpdateClassFetch(id int64, filePath string) error {
	_, err := s.db.Exec(`UPDATE class_files SET file_path = ? WHERE id = ?`, filePath, id)
	return errors.Wrap(err, "failed to update class fetch path")
}

// UpdateClassDecompile records the decompile output dir; empty records a failure
func (s *Store) UpdateClassDecompile(id int64, decompilePath string) error {
	_, err := s.db.Exec(`UPDATE class_files SET decompile_path = ? WHERE id = ?`, decompilePath, id)
	return errors.Wrap(err, "failed to update class decompile path")
}

// SetClassSource points a class row at its single source version
func (s *Store) SetClassSource(id int64, sourceVersionID int64) error {
	_, err := s.db.Exec(`UPDATE class_files SET java_source_file_version_id = ? WHERE id = ?`, sourceVersionID, id)
	return errors.Wrap(err, "failed to set class source version")
}

// SetClassVersions - as SetJarVersions, for one class full name
func (s *Store) SetClassVersions(classFullName string, versionBySize map[int64]int, lastVersion int) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for size, v := range versionBySize {
			if _, err := tx.Exec(`UPDATE class_files SET version_no = ? WHERE class_full_name = ? AND file_size = ?`,
				v, classFullName, size); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`UPDATE class_files SET last_version_no = ? WHERE class_full_name = ?`, lastVersion, classFullName)
		return err
	})
}
