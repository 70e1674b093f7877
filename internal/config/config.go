// Package config loads the service configuration from a YAML file.
//
// Every field has a default, so an empty or missing file yields a working
// configuration for a local Docker engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "lighthouse"

// Config is the root configuration document.
type Config struct {
	HTTP   HTTP   `yaml:"http"`
	Docker Docker `yaml:"docker"`
	Builds Builds `yaml:"builds"`
	Log    Log    `yaml:"log"`
}

// HTTP configures the REST surface.
type HTTP struct {
	Port         int    `yaml:"port"`
	ClientID     string `yaml:"client_id"`     // Basic auth user. Auth is off when empty.
	ClientSecret string `yaml:"client_secret"` // Basic auth password.
}

// Docker configures the container engine and the build sandbox.
type Docker struct {
	Host             string        `yaml:"host"`
	CertDirectory    string        `yaml:"cert_directory"`
	MaxContainers    int           `yaml:"max_containers"`
	StagingDirectory string        `yaml:"staging_directory"`
	WorkingDirectory string        `yaml:"working_directory"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	TTY              *bool         `yaml:"tty"`
	TeardownInterval time.Duration `yaml:"teardown_interval"`
}

// Builds configures the scheduler.
type Builds struct {
	QueueSize int `yaml:"queue_size"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	tty := true
	return &Config{
		HTTP: HTTP{Port: 8080},
		Docker: Docker{
			MaxContainers:    4,
			StagingDirectory: filepath.Join(xdg.CacheHome, appName, "staging"),
			WorkingDirectory: "/workspace",
			StopTimeout:      5 * time.Second,
			TTY:              &tty,
			TeardownInterval: time.Second,
		},
		Builds: Builds{QueueSize: 64},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if (c.HTTP.ClientID == "") != (c.HTTP.ClientSecret == "") {
		errs = append(errs, errors.New("http.client_id and http.client_secret must be set together"))
	}
	if c.Docker.MaxContainers < 1 {
		errs = append(errs, errors.New("docker.max_containers must be at least 1"))
	}
	if !filepath.IsAbs(c.Docker.StagingDirectory) {
		errs = append(errs, fmt.Errorf("docker.staging_directory %q must be absolute", c.Docker.StagingDirectory))
	}
	if !filepath.IsAbs(c.Docker.WorkingDirectory) {
		errs = append(errs, fmt.Errorf("docker.working_directory %q must be absolute", c.Docker.WorkingDirectory))
	}
	if c.Docker.StopTimeout < 0 {
		errs = append(errs, errors.New("docker.stop_timeout must not be negative"))
	}
	if c.Docker.TeardownInterval <= 0 {
		errs = append(errs, errors.New("docker.teardown_interval must be positive"))
	}
	if c.Builds.QueueSize < 0 {
		errs = append(errs, errors.New("builds.queue_size must not be negative"))
	}
	return errors.Join(errs...)
}

// UseTTY reports whether build containers get a TTY.
func (d Docker) UseTTY() bool {
	return d.TTY == nil || *d.TTY
}

// LogPoolSize is the number of concurrent log streams, twice the build limit.
func (d Docker) LogPoolSize() int {
	return d.MaxContainers * 2
}
