package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keymesh/go-cluster-kms/internal/config"
)

func TestDefaultFromEnv(t *testing.T) {
	t.Setenv("KMS_REDIS_ADDR", "redis-test:6379")
	t.Setenv("KMS_LOG_LEVEL", "debug")

	c := config.DefaultFromEnv()
	assert.Equal(t, "redis-test:6379", c.RedisAddr)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "shares", c.StoragePath)
}

func TestLoadFileThenEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := []byte("redis_addr = \"from-file:6379\"\nstorage_path = \"/var/lib/kms/shares\"\n")
	require.NoError(t, os.WriteFile(path, data, 0600))

	t.Setenv("KMS_REDIS_ADDR", "from-env:6379")

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:6379", c.RedisAddr)
	assert.Equal(t, "/var/lib/kms/shares", c.StoragePath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
