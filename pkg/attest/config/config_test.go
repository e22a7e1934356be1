package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/attest/pkg/attest/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// isolate points both config discovery roots at fresh temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	confHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", confHome)
	t.Setenv("HOME", t.TempDir())
	return confHome
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultAlgorithm, cfg.Algorithm)
	assert.Equal(t, config.DefaultCatalogDir, cfg.Catalog)
	assert.Equal(t, config.DefaultOutput, cfg.Output)
	assert.Equal(t, config.DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, config.DefaultExclusions, cfg.Exclude)
}

func TestLoadFromFile(t *testing.T) {
	confHome := isolate(t)

	dir := filepath.Join(confHome, "attest")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := "algorithm: sha512\ncatalog: /var/lib/attest/media\noutput: json\nexclude:\n  - '*.tmp'\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sha512", cfg.Algorithm)
	assert.Equal(t, "/var/lib/attest/media", cfg.Catalog)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, []string{"*.tmp"}, cfg.Exclude)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	confHome := isolate(t)

	dir := filepath.Join(confHome, "attest")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("algorithm: sha256\n"), 0o644))

	t.Setenv("ATTEST_ALGORITHM", "blake2b256")
	t.Setenv("ATTEST_LOGGING_LEVEL", "warn")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "blake2b256", cfg.Algorithm)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestWriteDefault(t *testing.T) {
	isolate(t)

	path, err := config.WriteDefault()
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(body, &cfg))
	assert.Equal(t, config.DefaultAlgorithm, cfg.Algorithm)

	// A second init refuses to clobber the existing file.
	_, err = config.WriteDefault()
	assert.Error(t, err)
}

func TestResolveCatalogPath(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		root    string
		want    string
	}{
		{"default relative", "", "/media/photos", "/media/photos/.attest"},
		{"configured relative", ".catalog", "/media/photos", "/media/photos/.catalog"},
		{"absolute", "/var/lib/attest/photos", "/media/photos", "/var/lib/attest/photos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.ResolveCatalogPath(tt.catalog, tt.root))
		})
	}
}
