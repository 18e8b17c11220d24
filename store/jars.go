package store

import (
	"database/sql"

	"github.com/pkg/errors"
)

const jarCols = `id, service_id, jar_name, file_size, last_modified, is_third_party,
	file_path, decompile_path, version_no, last_version_no`

func scanJar(r rowScanner) (*JarFile, error) {
	jf := &JarFile{}
	err := r.Scan(&jf.ID, &jf.ServiceID, &jf.JarName, &jf.FileSize, &jf.LastModified,
		&jf.IsThirdParty, &jf.FilePath, &jf.DecompilePath, &jf.VersionNo, &jf.LastVersionNo)
	if err != nil {
		return nil, err
	}
	return jf, nil
}

// UpsertJarListing writes a complete listing pass for one service in a single
// transaction, so a failed pass never partially overwrites the previous one.
// Fetched/decompiled paths survive the upsert; size and mtime are refreshed.
func (s *Store) UpsertJarListing(serviceID int64, jars []*JarFile) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for _, jf := range jars {
			_, err := tx.Exec(`INSERT INTO jar_files
				(service_id, jar_name, file_size, last_modified, is_third_party)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(service_id, jar_name) DO UPDATE SET
					file_size = excluded.file_size,
					last_modified = excluded.last_modified,
					is_third_party = excluded.is_third_party`,
				serviceID, jf.JarName, jf.FileSize, jf.LastModified, jf.IsThirdParty)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// JarsForService - all jar rows of one service
func (s *Store) JarsForService(serviceID int64) ([]*JarFile, error) {
	return s.queryJars(`SELECT `+jarCols+` FROM jar_files WHERE service_id = ? ORDER BY jar_name`, serviceID)
}

// JarsByName - all rows of one jar name across the fleet
func (s *Store) JarsByName(jarName string) ([]*JarFile, error) {
	return s.queryJars(`SELECT `+jarCols+` FROM jar_files WHERE jar_name = ? ORDER BY id`, jarName)
}

// JarNames - distinct jar names across the fleet
func (s *Store) JarNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT jar_name FROM jar_files ORDER BY jar_name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jar names")
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

func (s *Store) queryJars(q string, args ...interface{}) ([]*JarFile, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query jar files")
	}
	defer rows.Close()
	var jars []*JarFile
	for rows.Next() {
		jf, err := scanJar(rows)
		if err != nil {
			return nil, err
		}
		jars = append(jars, jf)
	}
	return jars, rows.Err()
}

// UpdateJarFetch records where the fetched binary was cached
func (s *Store) UpdateJarFetch(id int64, filePath string) error {
	_, err := s.db.Exec(`UPDATE jar_files SET file_path = ? WHERE id = ?`, filePath, id)
	return errors.Wrap(err, "failed to update jar fetch path")
}

// UpdateJarDecompile records the decompile output dir; empty records a failure
func (s *Store) UpdateJarDecompile(id int64, decompilePath string) error {
	_, err := s.db.Exec(`UPDATE jar_files SET decompile_path = ? WHERE id = ?`, decompilePath, id)
	return errors.Wrap(err, "failed to update jar decompile path")
}

// SetJarVersions writes the numbering for one jar name in one transaction:
// version_no per file size, and last_version_no on every row of the name.
// Readers see either the old or the new numbering, never a mix.
func (s *Store) SetJarVersions(jarName string, versionBySize map[int64]int, lastVersion int) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for size, v := range versionBySize {
			if _, err := tx.Exec(`UPDATE jar_files SET version_no = ? WHERE jar_name = ? AND file_size = ?`,
				v, jarName, size); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`UPDATE jar_files SET last_version_no = ? WHERE jar_name = ?`, lastVersion, jarName)
		return err
	})
}
