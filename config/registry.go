package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServiceDef is one entry of the service registry document. The document is
// JSON because it is shared verbatim with the HTTP layer's loader.
type ServiceDef struct {
	ServiceName             string `json:"service_name"`
	Environment             string `json:"environment"`
	Host                    string `json:"host"`
	Port                    int    `json:"port"`
	Username                string `json:"username"`
	Password                string `json:"password"`
	JarPath                 string `json:"jar_path"`
	ClassesPath             string `json:"classes_path"`
	JarDecompileOutputDir   string `json:"jar_decompile_output_dir"`
	ClassDecompileOutputDir string `json:"class_decompile_output_dir"`
}

// RegistryDoc - the declarative service registry document
type RegistryDoc struct {
	Services []ServiceDef `json:"services"`
}

// LoadRegistryFile parses and validates a registry document.
// Unknown keys are ignored; missing required keys or duplicate
// (service_name, environment) pairs abort without any writes.
func LoadRegistryFile(filename string) (*RegistryDoc, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return LoadRegistryString(content)
}

// LoadRegistryString - loads a registry document from a byte slice
func LoadRegistryString(content []byte) (*RegistryDoc, error) {
	doc := &RegistryDoc{}
	if err := json.Unmarshal(content, doc); err != nil {
		return nil, fmt.Errorf("invalid registry document: %v", err.Error())
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *RegistryDoc) validate() error {
	seen := make(map[string]bool)
	for i, s := range d.Services {
		for _, f := range []struct{ name, val string }{
			{"service_name", s.ServiceName},
			{"environment", s.Environment},
			{"host", s.Host},
			{"jar_path", s.JarPath},
			{"classes_path", s.ClassesPath},
			{"jar_decompile_output_dir", s.JarDecompileOutputDir},
			{"class_decompile_output_dir", s.ClassDecompileOutputDir},
		} {
			if f.val == "" {
				return fmt.Errorf("services[%d]: missing required key '%s'", i, f.name)
			}
		}
		k := s.ServiceName + "\x00" + s.Environment
		if seen[k] {
			return fmt.Errorf("duplicate service (%s, %s) in registry document", s.ServiceName, s.Environment)
		}
		seen[k] = true
		if d.Services[i].Port == 0 {
			d.Services[i].Port = 22
		}
	}
	return nil
}

// SampleRegistry is written by 'register-services --create-sample'.
const SampleRegistry = `{
  "services": [
    {
      "service_name": "order-service",
      "environment": "prod",
      "host": "10.0.0.12",
      "port": 22,
      "username": "deploy",
      "password": "secret",
      "jar_path": "{server_base_path}/{service_name}/lib",
      "classes_path": "{server_base_path}/{service_name}/classes",
      "jar_decompile_output_dir": "out/jars/{service_name}",
      "class_decompile_output_dir": "out/classes/{service_name}"
    },
    {
      "service_name": "local-mirror",
      "environment": "dev",
      "host": "localhost",
      "username": "",
      "password": "",
      "jar_path": "/srv/mirror/{service_name}/lib",
      "classes_path": "/srv/mirror/{service_name}/classes",
      "jar_decompile_output_dir": "out/jars/{service_name}",
      "class_decompile_output_dir": "out/classes/{service_name}"
    }
  ]
}
`
