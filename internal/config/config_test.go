package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DEBUG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pgdriver", cfg.DatabaseDriver)
	assert.Equal(t, "fs", cfg.UploadDriver)
	assert.False(t, cfg.Debug)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_driver: sqlite\ndebug: true\npublic_root: /srv/www\n"), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PUBLIC_ROOT", "/var/www")
	t.Setenv("DEBUG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/var/www", cfg.PublicRoot)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.UploadDriver = "s3"
	assert.Error(t, cfg.Validate())

	cfg.S3Bucket = "uploads"
	assert.NoError(t, cfg.Validate())

	cfg.S3AccessKeyID = "AKIA"
	assert.Error(t, cfg.Validate(), "a key id without a secret")
	cfg.S3SecretAccessKey = "SECRET"
	assert.NoError(t, cfg.Validate())

	cfg.DatabaseDriver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG", "yes")
	assert.True(t, getEnvBool("FLAG", false))
	t.Setenv("FLAG", "off")
	assert.False(t, getEnvBool("FLAG", true))
	t.Setenv("FLAG", "maybe")
	assert.True(t, getEnvBool("FLAG", true))
}

func TestLoadS3Credentials(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("UPLOAD_DRIVER", "s3")
	t.Setenv("S3_BUCKET", "uploads")
	t.Setenv("S3_ACCESS_KEY_ID", "AKIA")
	t.Setenv("S3_SECRET_ACCESS_KEY", "SECRET")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "AKIA", cfg.S3AccessKeyID)
	assert.Equal(t, "SECRET", cfg.S3SecretAccessKey)
}
