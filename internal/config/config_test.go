// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CALSYNC_API_LISTEN", ":9999")
	t.Setenv("CALSYNC_CHECK_INTERVAL", "90s")
	t.Setenv("CALSYNC_QUEUE_BACKEND", "redis")
	t.Setenv("CALSYNC_REDIS_ADDR", "redis:6379")
	t.Setenv("CALSYNC_CONSUMER_CONCURRENCY", "4")

	cfg, err := FromEnv("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.APIListen)
	assert.Equal(t, 90*time.Second, cfg.CheckInterval)
	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 4, cfg.ConsumerConcurrency)
	assert.Equal(t, 10*time.Second, cfg.CheckTimeout, "untouched fields keep defaults")
}

func TestFromEnvFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_listen: \":7070\"\ncheck_timeout: 20s\n"), 0o600))

	t.Setenv("CALSYNC_API_LISTEN", ":6060")

	cfg, err := FromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.APIListen, "environment beats file")
	assert.Equal(t, 20*time.Second, cfg.CheckTimeout, "file beats defaults")
}

func TestFromEnvRejectsMissingFile(t *testing.T) {
	_, err := FromEnv(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty api listen", func(c *Config) { c.APIListen = "" }, true},
		{"zero check interval", func(c *Config) { c.CheckInterval = 0 }, true},
		{"job timeout below check timeout", func(c *Config) { c.JobTimeout = c.CheckTimeout - time.Second }, true},
		{"unknown store backend", func(c *Config) { c.StoreBackend = "postgres" }, true},
		{"sqlite without path", func(c *Config) { c.StoreBackend = BackendSQLite; c.SQLitePath = "" }, true},
		{"redis without addr", func(c *Config) { c.QueueBackend = BackendRedis; c.RedisAddr = "" }, true},
		{"zero queue capacity", func(c *Config) { c.QueueCapacity = 0 }, true},
		{"zero concurrency", func(c *Config) { c.ConsumerConcurrency = 0 }, true},
		{"sampling above one", func(c *Config) { c.TracingSampling = 1.5 }, true},
		{"sealing key bad hex", func(c *Config) { c.SealingKey = "zz" }, true},
		{"sealing key wrong length", func(c *Config) { c.SealingKey = "abcd" }, true},
		{"sealing key 32 bytes", func(c *Config) {
			c.SealingKey = "0000000000000000000000000000000000000000000000000000000000000000"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("CALSYNC_TEST_INT", "not-a-number")
	t.Setenv("CALSYNC_TEST_DUR", "fortnight")
	t.Setenv("CALSYNC_TEST_BOOL", "maybe")

	assert.Equal(t, 7, ParseInt("CALSYNC_TEST_INT", 7))
	assert.Equal(t, time.Minute, ParseDuration("CALSYNC_TEST_DUR", time.Minute))
	assert.Equal(t, true, ParseBool("CALSYNC_TEST_BOOL", true))
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("check_timeout: 15s\n"), 0o600))

	cfg, err := FromEnv(path)
	require.NoError(t, err)
	holder := NewHolder(cfg, path)

	require.NoError(t, os.WriteFile(path, []byte("check_interval: -5s\n"), 0o600))
	require.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, 15*time.Second, holder.Get().CheckTimeout, "rejected reload keeps old config")

	require.NoError(t, os.WriteFile(path, []byte("check_timeout: 25s\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))
	assert.Equal(t, 25*time.Second, holder.Get().CheckTimeout)
}

func TestHolderNotifiesListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("check_timeout: 15s\n"), 0o600))

	cfg, err := FromEnv(path)
	require.NoError(t, err)
	holder := NewHolder(cfg, path)

	ch := make(chan Config, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("check_timeout: 40s\njob_timeout: 60s\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, 40*time.Second, got.CheckTimeout)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestSealingKeyBytes(t *testing.T) {
	cfg := Defaults()
	key, err := cfg.SealingKeyBytes()
	require.NoError(t, err)
	assert.Nil(t, key, "no key means sealing disabled")

	cfg.SealingKey = "00112233445566778899aabbccddeeff"
	key, err = cfg.SealingKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 16)
}
