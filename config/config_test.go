package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 24*time.Hour, cfg.Grant.TTL.Std())
}

func TestLoadConfig_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisioner.yaml")
	content := `
storage:
  endpoint: https://example.r2.cloudflarestorage.com
  bucket: builds
grant:
  ttl: 2h
builder:
  compileTimeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.r2.cloudflarestorage.com", cfg.Storage.Endpoint)
	assert.Equal(t, "builds", cfg.Storage.Bucket)
	assert.Equal(t, "cloudydesk-latest.zip", cfg.Storage.ArtifactKey, "defaults survive partial files")
	assert.Equal(t, 2*time.Hour, cfg.Grant.TTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Builder.CompileTimeout.Std())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisioner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grant:\n  ttl: forever\n"), 0600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CD_STORAGE_BUCKET":          "other",
		"CD_STORAGE_USE_PATH_STYLE":  "true",
		"CD_GRANT_TTL":               "90m",
		"CD_STORAGE_REGION":          "",
		"CD_BUILDER_RESULT_FILE":     `C:\ProgramData\CloudyDesk\result.json`,
		"CD_BUILDER_INSTALL_TIMEOUT": "7m",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "other", cfg.Storage.Bucket)
	assert.True(t, cfg.Storage.UsePathStyle)
	assert.Equal(t, 90*time.Minute, cfg.Grant.TTL.Std())
	assert.Equal(t, "auto", cfg.Storage.Region, "empty values do not clear settings")
	assert.Equal(t, `C:\ProgramData\CloudyDesk\result.json`, cfg.Builder.ResultFile)
	assert.Equal(t, 7*time.Minute, cfg.Builder.InstallTimeout.Std())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate(), "s3 driver needs an endpoint")

	cfg.Storage.Driver = StorageDriverLocal
	require.Error(t, cfg.Validate())

	cfg.Storage.LocalDir = t.TempDir()
	cfg.Storage.LocalBaseURL = "http://127.0.0.1:8080"
	require.NoError(t, cfg.Validate())

	cfg.Storage.Driver = "ftp"
	require.Error(t, cfg.Validate())
}
