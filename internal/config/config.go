// Package config carries the key server process configuration. Values come
// from built-in defaults, an optional TOML file, and finally environment
// variables, in that order of precedence (environment wins).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the key server process configuration.
type Config struct {
	NodeKeyFile       string `toml:"node_key_file" json:"node_key_file"`
	RedisAddr         string `toml:"redis_addr" json:"redis_addr"`
	ChannelPrefix     string `toml:"channel_prefix" json:"channel_prefix"`
	StoragePath       string `toml:"storage_path" json:"storage_path"`
	StoragePassphrase string `toml:"storage_passphrase" json:"-"`
	LogLevel          string `toml:"log_level" json:"log_level"`
}

func defaults() Config {
	return Config{
		NodeKeyFile:   "node.key",
		RedisAddr:     "localhost:6379",
		ChannelPrefix: "kms:node:",
		StoragePath:   "shares",
		LogLevel:      "info",
	}
}

// DefaultFromEnv builds the configuration from defaults overridden by
// environment variables.
func DefaultFromEnv() Config {
	c := defaults()
	c.applyEnv()
	return c
}

// Load builds the configuration from defaults, the given TOML file (when
// path is non-empty), and environment variables.
func Load(path string) (Config, error) {
	c := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return Config{}, errors.Wrapf(err, "failed to load config from %s", path)
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.NodeKeyFile, "KMS_NODE_KEY_FILE")
	setFromEnv(&c.RedisAddr, "KMS_REDIS_ADDR")
	setFromEnv(&c.ChannelPrefix, "KMS_CHANNEL_PREFIX")
	setFromEnv(&c.StoragePath, "KMS_STORAGE_PATH")
	setFromEnv(&c.StoragePassphrase, "KMS_STORAGE_PASSPHRASE")
	setFromEnv(&c.LogLevel, "KMS_LOG_LEVEL")
}

func setFromEnv(target *string, name string) {
	if v, ok := os.LookupEnv(name); ok {
		*target = v
	}
}
