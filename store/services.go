package store

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jarview/jarview/config"
)

// SyncResult - counts reported by SyncServices
type SyncResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

// SyncServices upserts the registry document into the services table in one
// transaction - no deletes, and no partial writes on failure.
func (s *Store) SyncServices(doc *config.RegistryDoc) (SyncResult, error) {
	var res SyncResult
	err := s.WithTx(func(tx *sql.Tx) error {
		for _, def := range doc.Services {
			existing, err := scanService(tx.QueryRow(
				`SELECT `+serviceCols+` FROM services WHERE service_name = ? AND environment = ?`,
				def.ServiceName, def.Environment))
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if err == sql.ErrNoRows {
				_, err = tx.Exec(`INSERT INTO services
					(service_name, environment, host, port, username, password,
					 jar_path, classes_path, jar_decompile_output_dir, class_decompile_output_dir)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					def.ServiceName, def.Environment, def.Host, def.Port, def.Username, def.Password,
					def.JarPath, def.ClassesPath, def.JarDecompileOutputDir, def.ClassDecompileOutputDir)
				if err != nil {
					return err
				}
				res.Inserted++
				continue
			}
			if existing.Host == def.Host && existing.Port == def.Port &&
				existing.Username == def.Username && existing.Password == def.Password &&
				existing.JarPath == def.JarPath && existing.ClassesPath == def.ClassesPath &&
				existing.JarDecompileOutputDir == def.JarDecompileOutputDir &&
				existing.ClassDecompileOutputDir == def.ClassDecompileOutputDir {
				res.Skipped++
				continue
			}
			_, err = tx.Exec(`UPDATE services SET host = ?, port = ?, username = ?, password = ?,
				jar_path = ?, classes_path = ?, jar_decompile_output_dir = ?, class_decompile_output_dir = ?
				WHERE id = ?`,
				def.Host, def.Port, def.Username, def.Password,
				def.JarPath, def.ClassesPath, def.JarDecompileOutputDir, def.ClassDecompileOutputDir,
				existing.ID)
			if err != nil {
				return err
			}
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, errors.Wrap(err, "failed to sync services")
	}
	return res, nil
}

const serviceCols = `id, service_name, environment, host, port, username, password,
	jar_path, classes_path, jar_decompile_output_dir, class_decompile_output_dir`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(r rowScanner) (*Service, error) {
	svc := &Service{}
	err := r.Scan(&svc.ID, &svc.ServiceName, &svc.Environment, &svc.Host, &svc.Port,
		&svc.Username, &svc.Password, &svc.JarPath, &svc.ClassesPath,
		&svc.JarDecompileOutputDir, &svc.ClassDecompileOutputDir)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// ListServices returns all registered services ordered by name
func (s *Store) ListServices() ([]*Service, error) {
	rows, err := s.db.Query(`SELECT ` + serviceCols + ` FROM services ORDER BY service_name, environment`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list services")
	}
	defer rows.Close()
	var svcs []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		svcs = append(svcs, svc)
	}
	return svcs, rows.Err()
}

// GetService returns a service by id
func (s *Store) GetService(id int64) (*Service, error) {
	svc, err := scanService(s.db.QueryRow(`SELECT `+serviceCols+` FROM services WHERE id = ?`, id))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get service %d", id)
	}
	return svc, nil
}

// SelectServices resolves the shared CLI selectors. An empty name with
// all=false is an error; environment narrows when non-empty.
func (s *Store) SelectServices(name string, environment string, all bool) ([]*Service, error) {
	if !all && name == "" {
		return nil, errors.New("no service selected: use --service or --all-services")
	}
	svcs, err := s.ListServices()
	if err != nil {
		return nil, err
	}
	var out []*Service
	for _, svc := range svcs {
		if !all && svc.ServiceName != name {
			continue
		}
		if environment != "" && svc.Environment != environment {
			continue
		}
		out = append(out, svc)
	}
	if !all && len(out) == 0 {
		return nil, errors.Errorf("service not found: %s", name)
	}
	return out, nil
}
