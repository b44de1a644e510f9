package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type DeleteMode string

const (
	DeleteModeCascade  DeleteMode = "cascade"
	DeleteModeReparent DeleteMode = "reparent"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Delete    DeleteConfig    `toml:"delete"`
	Progress  ProgressConfig  `toml:"progress"`
	Cache     CacheConfig     `toml:"cache"`
	Server    ServerConfig    `toml:"server"`
	Snapshots SnapshotsConfig `toml:"snapshots"`
	Logging   LoggingConfig   `toml:"logging"`
}

type DatabaseConfig struct {
	Driver Driver `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type DeleteConfig struct {
	DefaultMode DeleteMode `toml:"default_mode"`
}

type ProgressConfig struct {
	DefaultWeight float64 `toml:"default_weight"`
}

type CacheConfig struct {
	Workspaces int `toml:"workspaces"`
}

type ServerConfig struct {
	Bind        string `toml:"bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// SnapshotsConfig points export/import at an S3-compatible bucket.
// An empty endpoint disables remote snapshots.
type SnapshotsConfig struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Enabled reports whether remote snapshots are configured.
func (s SnapshotsConfig) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != ""
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		Delete: DeleteConfig{
			DefaultMode: DeleteModeCascade,
		},
		Progress: ProgressConfig{
			DefaultWeight: 1,
		},
		Cache: CacheConfig{
			Workspaces: 64,
		},
		Server: ServerConfig{
			Bind:        "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".weightmap/log",
			},
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch Driver(strings.ToLower(strings.TrimSpace(string(c.Database.Driver)))) {
	case "", DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	switch c.Delete.DefaultMode {
	case DeleteModeCascade, DeleteModeReparent:
	default:
		return fmt.Errorf("invalid delete.default_mode: %q", c.Delete.DefaultMode)
	}

	w := c.Progress.DefaultWeight
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return fmt.Errorf("progress.default_weight must be a finite value >= 0, got %v", w)
	}
	if c.Cache.Workspaces < 1 {
		return fmt.Errorf("cache.workspaces must be >= 1, got %d", c.Cache.Workspaces)
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint": c.Server.APIEndpoint,
		"server.mcp_endpoint": c.Server.MCPEndpoint,
	} {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" || !strings.HasPrefix(endpoint, "/") {
			return fmt.Errorf("%s must start with '/', got %q", name, endpoint)
		}
	}

	if c.Snapshots.Enabled() {
		if strings.TrimSpace(c.Snapshots.Bucket) == "" {
			return errors.New("snapshots.bucket is required when snapshots.endpoint is set")
		}
		if strings.TrimSpace(c.Snapshots.AccessKey) == "" || strings.TrimSpace(c.Snapshots.SecretKey) == "" {
			return errors.New("snapshots.access_key and snapshots.secret_key are required when snapshots.endpoint is set")
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
