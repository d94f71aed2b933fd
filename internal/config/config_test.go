package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("HMS_PORT", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 12, cfg.Documents.DefaultReviewIntervalMonths)
	assert.Equal(t, time.Hour, cfg.Documents.DownloadURLTTL)
	assert.Equal(t, []string{"LAW"}, cfg.Documents.ProtectedKinds)
	assert.Same(t, cfg, GetConfig())
}

func TestLoadConfig_DefaultSigningSecretIsRandom(t *testing.T) {
	first, err := LoadConfig("")
	require.NoError(t, err)
	second, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "disk", first.Storage.Backend)
	assert.Len(t, first.Storage.SigningSecret, 64)
	assert.NotEqual(t, placeholderSigningSecret, first.Storage.SigningSecret)
	assert.NotEqual(t, first.Storage.SigningSecret, second.Storage.SigningSecret)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "hms.yaml", `
server:
  port: "9090"
  read_timeout: 3s
database:
  driver: sqlite
  dsn: "file:hms.db"
storage:
  backend: memory
documents:
  default_review_interval_months: 24
  download_url_ttl: 30m
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 24, cfg.Documents.DefaultReviewIntervalMonths)
	assert.Equal(t, 30*time.Minute, cfg.Documents.DownloadURLTTL)
	// untouched sections keep their defaults
	assert.Equal(t, 5, cfg.Security.MaxFailedAttempts)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeFile(t, "hms.json", `{"logging": {"level": "debug", "format": "console"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HMS_PORT", "7070")
	t.Setenv("HMS_STORAGE_BACKEND", "gcs")
	t.Setenv("HMS_STORAGE_BUCKET", "hms-files")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "hms-files", cfg.Storage.Bucket)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("unknown storage backend", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "storage:\n  backend: s3\n")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("gcs without bucket", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "storage:\n  backend: gcs\n  bucket: \"\"\n")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("disk with placeholder secret", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "storage:\n  backend: disk\n  signing_secret: change-me\n")
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "signing_secret")
	})

	t.Run("disk with empty secret", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "storage:\n  backend: disk\n  signing_secret: \"\"\n")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("placeholder secret from env", func(t *testing.T) {
		t.Setenv("HMS_STORAGE_SIGNING_SECRET", "change-me")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}
