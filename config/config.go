package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const DefaultStorePath = "jarview.db"
const DefaultDecompileWorkers = 4

// Prefixes which mark a jar as built in-house unless overridden in config.
var DefaultInternalPrefixes = []string{"com-", "core-", "service-", "web-"}

// Config for jarview
type Config struct {
	StorePath        string   `yaml:"store_path"`
	ServerBasePath   string   `yaml:"server_base_path"`
	InternalPrefixes []string `yaml:"internal_prefixes"`
	DecompileCmd     string   `yaml:"decompile_cmd"` // e.g. 'java -jar fernflower.jar {input} {output}'
	DecompileWorkers int      `yaml:"decompile_workers"`
	// Timeout strings are parsed into the duration fields below
	SSHConnectTimeoutStr string `yaml:"ssh_connect_timeout"`
	SSHCommandTimeoutStr string `yaml:"ssh_command_timeout"`
	DecompileTimeoutStr  string `yaml:"decompile_timeout"`
	SSHConnectTimeout    time.Duration
	SSHCommandTimeout    time.Duration
	DecompileTimeout     time.Duration
}

// Unmarshal the config
func Unmarshal(content []byte) (*Config, error) {
	// Default values specified here
	cfg := &Config{
		StorePath:         DefaultStorePath,
		DecompileWorkers:  DefaultDecompileWorkers,
		SSHConnectTimeout: 10 * time.Second,
		SSHCommandTimeout: 120 * time.Second,
		DecompileTimeout:  300 * time.Second,
	}
	err := yaml.Unmarshal(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	err = cfg.validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile - loads config file
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString - loads a string
func LoadConfigString(content []byte) (*Config, error) {
	cfg, err := Unmarshal([]byte(content))
	return cfg, err
}

func (c *Config) validate() error {
	if len(c.InternalPrefixes) == 0 {
		c.InternalPrefixes = DefaultInternalPrefixes
	}
	if c.DecompileWorkers < 1 {
		c.DecompileWorkers = DefaultDecompileWorkers
	}
	if c.DecompileCmd != "" {
		if !strings.Contains(c.DecompileCmd, "{input}") || !strings.Contains(c.DecompileCmd, "{output}") {
			return fmt.Errorf("decompile_cmd must contain {input} and {output} placeholders: %s", c.DecompileCmd)
		}
	}
	for _, t := range []struct {
		raw  string
		dest *time.Duration
	}{
		{c.SSHConnectTimeoutStr, &c.SSHConnectTimeout},
		{c.SSHCommandTimeoutStr, &c.SSHCommandTimeout},
		{c.DecompileTimeoutStr, &c.DecompileTimeout},
	} {
		if t.raw == "" {
			continue
		}
		d, err := time.ParseDuration(t.raw)
		if err != nil {
			return fmt.Errorf("failed to parse '%s' as a duration", t.raw)
		}
		*t.dest = d
	}
	return nil
}
