package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4<<20, cfg.ChunkSize)
	assert.Equal(t, 1<<20, cfg.ReadBufferSize)
	assert.Equal(t, uint64(256<<20), cfg.DecoderMaxMemory)
	assert.Equal(t, 30*time.Second, cfg.CacheStartupDelay)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.False(t, cfg.BlockCache.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SOLID_LOG_LEVEL", "debug")
	t.Setenv("SOLID_CHUNK_SIZE", "65536")
	t.Setenv("SOLID_LOW_MEMORY", "true")
	t.Setenv("SOLID_CACHE_STARTUP_DELAY", "2s")
	t.Setenv("SOLID_S3_REGION", "eu-west-1")
	t.Setenv("SOLID_S3_ENDPOINT", "http://localhost:4566")
	t.Setenv("SOLID_S3_FORCE_PATH_STYLE", "true")
	t.Setenv("SOLID_BLOCK_CACHE_ENABLED", "true")
	t.Setenv("SOLID_BLOCK_CACHE_BLOCK_SIZE", "4096")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 65536, cfg.ChunkSize)
	assert.True(t, cfg.LowMemory)
	assert.Equal(t, 2*time.Second, cfg.CacheStartupDelay)

	opts := cfg.S3.ClientOpts()
	assert.Equal(t, "eu-west-1", opts.Region)
	assert.Equal(t, "http://localhost:4566", opts.Endpoint)
	assert.True(t, opts.ForcePathStyle)

	assert.True(t, cfg.BlockCache.Enabled)
	assert.Equal(t, int64(4096), cfg.BlockCacheOpts().BlockSize)
	assert.True(t, cfg.PositionOpts().LowMemory)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("SOLID_CHUNK_SIZE", "lots")

	_, err := Load()
	assert.Error(t, err)
}
