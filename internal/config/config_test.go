package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.Docker.MaxContainers)
	assert.Equal(t, 8, cfg.Docker.LogPoolSize())
	assert.Equal(t, "/workspace", cfg.Docker.WorkingDirectory)
	assert.Equal(t, time.Second, cfg.Docker.TeardownInterval)
	assert.True(t, cfg.Docker.UseTTY())
	assert.True(t, filepath.IsAbs(cfg.Docker.StagingDirectory))
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 9090
docker:
  max_containers: 2
  staging_directory: /srv/staging
  stop_timeout: 10s
  tty: false
builds:
  queue_size: 8
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 2, cfg.Docker.MaxContainers)
	assert.Equal(t, "/srv/staging", cfg.Docker.StagingDirectory)
	assert.Equal(t, 10*time.Second, cfg.Docker.StopTimeout)
	assert.False(t, cfg.Docker.UseTTY())
	assert.Equal(t, 8, cfg.Builds.QueueSize)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched fields keep their defaults.
	assert.Equal(t, "/workspace", cfg.Docker.WorkingDirectory)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero containers", body: "docker:\n  max_containers: 0\n"},
		{name: "relative workdir", body: "docker:\n  working_directory: workspace\n"},
		{name: "relative staging", body: "docker:\n  staging_directory: staging\n"},
		{name: "half credentials", body: "http:\n  client_id: ci\n"},
		{name: "bad port", body: "http:\n  port: 70000\n"},
		{name: "not yaml", body: "docker: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
