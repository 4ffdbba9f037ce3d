// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderDefaults(t *testing.T) {
	cfg, err := Loader{Source: MapSource{}}.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	_, forced := cfg.ServerEmbedding()
	assert.False(t, forced)
}

func TestLoaderFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uda.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: uda.example.org
port: 56566
timeout: 120
embedding: file
cache_expiry: 60
`), 0o600))

	cfg, err := Loader{Path: path, Source: MapSource{
		"UDA_PORT":          "56567",
		"UDA_LOG_LEVEL":     "debug",
		"UDA_PRIVATE_FLAGS": "0x8",
		"UDA_CLIENT_FLAGS":  "4",
		"UDA_EMBEDDING":     "object",
		"UDA_CACHE_SIZE":    "1048576",
	}}.Load()
	require.NoError(t, err)
	assert.Equal(t, "uda.example.org", cfg.Host)
	assert.Equal(t, 56567, cfg.Port)
	assert.Equal(t, 120, cfg.Timeout)
	assert.Equal(t, 60, cfg.CacheExpiry)
	assert.Equal(t, 1<<20, cfg.CacheSize)
	assert.Equal(t, LogDebug, cfg.LogLevel)
	assert.Equal(t, PrivateFlagXDRObject, cfg.PrivateFlags)
	assert.Equal(t, ClientFlagCache, cfg.ClientFlags)
	e, forced := cfg.ServerEmbedding()
	assert.True(t, forced)
	assert.Equal(t, EmbedObject, e)
}

func TestLoaderRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		src  MapSource
	}{
		{"port", MapSource{"UDA_PORT": "70000"}},
		{"port syntax", MapSource{"UDA_PORT": "http"}},
		{"timeout", MapSource{"UDA_TIMEOUT": "-1"}},
		{"cache size", MapSource{"UDA_CACHE_SIZE": "-1"}},
		{"embedding", MapSource{"UDA_EMBEDDING": "carrier-pigeon"}},
		{"flags", MapSource{"UDA_CLIENT_FLAGS": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Loader{Source: tt.src}.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := Loader{Path: filepath.Join(t.TempDir(), "absent.yaml"), Source: MapSource{}}.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("UDA_HOST", "from-env")
	v, ok := EnvSource{}.Get("UDA_HOST")
	assert.True(t, ok)
	assert.Equal(t, "from-env", v)
}
