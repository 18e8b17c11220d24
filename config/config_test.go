package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg, err := Unmarshal([]byte(""))
	assert.Equal(t, nil, err)
	assert.Equal(t, DefaultStorePath, cfg.StorePath)
	assert.Equal(t, DefaultDecompileWorkers, cfg.DecompileWorkers)
	assert.Equal(t, DefaultInternalPrefixes, cfg.InternalPrefixes)
	assert.Equal(t, 10*time.Second, cfg.SSHConnectTimeout)
	assert.Equal(t, 120*time.Second, cfg.SSHCommandTimeout)
	assert.Equal(t, 300*time.Second, cfg.DecompileTimeout)
}

func TestLoadValues(t *testing.T) {
	cfg, err := LoadConfigString([]byte(`
store_path: /var/lib/jarview/store.db
server_base_path: /opt/services
internal_prefixes:
  - acme-
  - billing-
decompile_cmd: 'java -jar fernflower.jar {input} {output}'
decompile_workers: 8
ssh_connect_timeout: 5s
decompile_timeout: 10m
`))
	assert.Equal(t, nil, err)
	assert.Equal(t, "/var/lib/jarview/store.db", cfg.StorePath)
	assert.Equal(t, "/opt/services", cfg.ServerBasePath)
	assert.Equal(t, []string{"acme-", "billing-"}, cfg.InternalPrefixes)
	assert.Equal(t, 8, cfg.DecompileWorkers)
	assert.Equal(t, 5*time.Second, cfg.SSHConnectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.DecompileTimeout)
}

func TestBadYaml(t *testing.T) {
	_, err := Unmarshal([]byte("store_path: [unclosed"))
	assert.NotEqual(t, nil, err)
}

func TestBadDuration(t *testing.T) {
	_, err := Unmarshal([]byte("ssh_connect_timeout: fast"))
	assert.NotEqual(t, nil, err)
}

func TestDecompileCmdPlaceholders(t *testing.T) {
	_, err := Unmarshal([]byte("decompile_cmd: 'java -jar fernflower.jar'"))
	assert.NotEqual(t, nil, err)
	_, err = Unmarshal([]byte("decompile_cmd: 'cfr {input} --outputdir {output}'"))
	assert.Equal(t, nil, err)
}

func TestRegistryLoad(t *testing.T) {
	doc, err := LoadRegistryString([]byte(SampleRegistry))
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(doc.Services))
	assert.Equal(t, "order-service", doc.Services[0].ServiceName)
	// port defaulted for the local mirror entry
	assert.Equal(t, 22, doc.Services[1].Port)
}

func TestRegistryMissingKey(t *testing.T) {
	_, err := LoadRegistryString([]byte(`{"services":[{"service_name":"a","environment":"prod","host":"h"}]}`))
	assert.NotEqual(t, nil, err)
	assert.Contains(t, err.Error(), "missing required key")
}

func TestRegistryDuplicate(t *testing.T) {
	_, err := LoadRegistryString([]byte(`{"services":[
		{"service_name":"a","environment":"prod","host":"h","jar_path":"j","classes_path":"c",
		 "jar_decompile_output_dir":"o1","class_decompile_output_dir":"o2"},
		{"service_name":"a","environment":"prod","host":"h2","jar_path":"j","classes_path":"c",
		 "jar_decompile_output_dir":"o1","class_decompile_output_dir":"o2"}]}`))
	assert.NotEqual(t, nil, err)
	assert.Contains(t, err.Error(), "duplicate service")
}

func TestRegistryUnknownKeysIgnored(t *testing.T) {
	doc, err := LoadRegistryString([]byte(`{"services":[
		{"service_name":"a","environment":"prod","host":"h","jar_path":"j","classes_path":"c",
		 "jar_decompile_output_dir":"o1","class_decompile_output_dir":"o2",
		 "comment":"ignored","owner":"team-x"}]}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(doc.Services))
}
