package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "recordhub.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("port: \"9000\"\nstorage: sqlite\nsqlitePath: /tmp/x.db\nmetrics: false\n"), 0o600))
	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, StorageSQLite, cfg.Storage)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, "schemas", cfg.SchemasDir)

	jsonPath := filepath.Join(dir, "recordhub.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"port":"7000","eventBuffer":8}`), 0o600))
	t.Setenv("RECORDHUB_PORT", "7100")
	t.Setenv("RECORDHUB_AUTO_MIGRATE", "no")
	t.Setenv("RECORDHUB_EVENT_BUFFER", "not-a-number")
	cfg, err = Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Port)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 8, cfg.EventBuffer)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown storage":     func(c *Config) { c.Storage = "redis" },
		"postgres without db": func(c *Config) { c.Storage = StoragePostgres },
		"sqlite without path": func(c *Config) { c.Storage = StorageSQLite; c.SQLitePath = "" },
		"empty port":          func(c *Config) { c.Port = " " },
		"zero buffer":         func(c *Config) { c.EventBuffer = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.Storage = "Postgres"
	c.DBURL = "postgres://localhost/db"
	assert.NoError(t, c.Validate())
}
