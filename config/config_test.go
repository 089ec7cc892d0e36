package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
version = "1.0.0"

[server]
name = "coursestore"
environment = "test"
  [server.http]
  port = 9090

[access]
backend_url = "http://api.internal"
storage_endpoint = "http://minio:9000"
bucket = "courses"

[cache]
metadata_ttl = "2m"

[minio]
secret_access_key = "s3cr3t"
`

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	var cfg Config
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, 9090, cfg.Server.HTTP.Port)
	assert.Equal(t, "courses", cfg.Access.Bucket)
	assert.Equal(t, "/api/storage", cfg.Access.ProxyPrefix)
	assert.Equal(t, 2*time.Minute, cfg.Cache.MetadataTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ListingTTL)
	assert.Equal(t, time.Hour, cfg.Cache.SafetyMargin)
	assert.Equal(t, 100, cfg.Cache.URLCapacity)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.ChunkSize)
	assert.Equal(t, int64(100*1024*1024), cfg.Upload.MultipartThreshold)
}

func TestMask(t *testing.T) {
	m := map[string]any{
		"Minio": map[string]any{"SecretAccessKey": "abc", "Endpoint": "minio:9000"},
		"JWT":   map[string]any{"Secret": "x"},
		"List":  []any{map[string]any{"Token": "t"}},
	}
	Mask(m)
	assert.Equal(t, "******", m["Minio"].(map[string]any)["SecretAccessKey"])
	assert.Equal(t, "minio:9000", m["Minio"].(map[string]any)["Endpoint"])
	assert.Equal(t, "******", m["JWT"].(map[string]any)["Secret"])
	assert.Equal(t, "******", m["List"].([]any)[0].(map[string]any)["Token"])
}
