package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

type Config struct {
	Port        string `json:"port" yaml:"port"`
	SchemasDir  string `json:"schemasDir" yaml:"schemasDir"`
	Storage     string `json:"storage" yaml:"storage"` // memory | postgres | sqlite
	DBURL       string `json:"dbUrl" yaml:"dbUrl"`
	SQLitePath  string `json:"sqlitePath" yaml:"sqlitePath"`
	AutoMigrate bool   `json:"autoMigrate" yaml:"autoMigrate"`

	// буфер очереди каждого SSE-подписчика
	EventBuffer int `json:"eventBuffer" yaml:"eventBuffer"`

	LogLevel  string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat string `json:"logFormat" yaml:"logFormat"` // text | json
	Metrics   bool   `json:"metrics" yaml:"metrics"`
}

func Default() Config {
	return Config{
		Port:        "8080",
		SchemasDir:  "schemas",
		Storage:     StorageMemory,
		DBURL:       "",
		SQLitePath:  "data/recordhub.db",
		AutoMigrate: true,
		EventBuffer: 64,
		LogLevel:    "info",
		LogFormat:   "text",
		Metrics:     true,
	}
}

// loadFile накладывает файл на cfg: .yaml/.yml читается как YAML, иначе JSON.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		if b, ok := ParseBool(v); ok {
			return b
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// ParseBool понимает 1/0, true/false, yes/no.
func ParseBool(v string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

// Load: умолчания -> файл (если есть) -> RECORDHUB_* из окружения.
// Флаги командной строки накладывает cmd поверх результата.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			if err := loadFile(path, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	// ENV overrides
	cfg.Port = getenv("RECORDHUB_PORT", cfg.Port)
	cfg.SchemasDir = getenv("RECORDHUB_SCHEMAS_DIR", cfg.SchemasDir)
	cfg.Storage = getenv("RECORDHUB_STORAGE", cfg.Storage)
	cfg.DBURL = getenv("RECORDHUB_DB_URL", cfg.DBURL)
	cfg.SQLitePath = getenv("RECORDHUB_SQLITE_PATH", cfg.SQLitePath)
	cfg.AutoMigrate = getenvBool("RECORDHUB_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.EventBuffer = getenvInt("RECORDHUB_EVENT_BUFFER", cfg.EventBuffer)
	cfg.LogLevel = getenv("RECORDHUB_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("RECORDHUB_LOG_FORMAT", cfg.LogFormat)
	cfg.Metrics = getenvBool("RECORDHUB_METRICS", cfg.Metrics)

	return cfg, nil
}

// Validate проверяет согласованность после всех наложений.
func (c Config) Validate() error {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.DBURL) == "" {
			return fmt.Errorf("storage %q requires dbUrl", c.Storage)
		}
	case StorageSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("storage %q requires sqlitePath", c.Storage)
		}
	default:
		return fmt.Errorf("unknown storage %q (allowed: memory|postgres|sqlite)", c.Storage)
	}
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("port is empty")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("eventBuffer must be positive, got %d", c.EventBuffer)
	}
	return nil
}
