package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the Troupe engine.
// It is loaded from ~/.troupe/config.yaml and can be overridden by
// environment variables with the TROUPE_ prefix.
type Config struct {
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Router       RouterConfig       `mapstructure:"router" yaml:"router"`
	Blend        BlendConfig        `mapstructure:"blend" yaml:"blend"`
	Relationship RelationshipConfig `mapstructure:"relationship" yaml:"relationship"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// EngineConfig contains core engine settings.
type EngineConfig struct {
	// DefinitionsDir is a directory of YAML framework/character definitions.
	// Builtins are always loaded; files here are merged on top.
	DefinitionsDir string `mapstructure:"definitions_dir" yaml:"definitions_dir"`

	// DefaultPersona is the fallback persona when no candidate scores positively.
	DefaultPersona string `mapstructure:"default_persona" yaml:"default_persona"`

	// DefaultFramework is used when a character references a framework that
	// does not exist in the registry.
	DefaultFramework string `mapstructure:"default_framework" yaml:"default_framework"`
}

// RouterConfig contains turn-routing settings.
type RouterConfig struct {
	// StickyWindow is how long a channel keeps preferring its last responder.
	StickyWindow time.Duration `mapstructure:"sticky_window" yaml:"sticky_window"`

	// ActivityRouting enables channel-affinity routing.
	ActivityRouting bool `mapstructure:"activity_routing" yaml:"activity_routing"`

	// CloseMargin is the fraction of the top score a persona must reach to
	// join the random tie-break pool (0.8 = within 80% of the top score).
	CloseMargin float64 `mapstructure:"close_margin" yaml:"close_margin"`
}

// BlendConfig contains framework-blending settings.
type BlendConfig struct {
	// MinWeight is the significance threshold; frameworks resolved below it
	// do not contribute to a blend.
	MinWeight float64 `mapstructure:"min_weight" yaml:"min_weight"`

	// CacheTTL bounds how long a blended compilation may be served from cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// DefaultWeights is the process-wide context -> framework weight table
	// used when a character has blending enabled but no table for a context.
	DefaultWeights map[string]map[string]float64 `mapstructure:"default_weights" yaml:"default_weights,omitempty"`
}

// RelationshipConfig contains relationship-ledger settings.
type RelationshipConfig struct {
	// ResponderFactor scales the responder-side affinity change relative to
	// the speaker's.
	ResponderFactor float64 `mapstructure:"responder_factor" yaml:"responder_factor"`

	// LogSize bounds the per-pair rolling interaction log.
	LogSize int `mapstructure:"log_size" yaml:"log_size"`

	// FrequencyWindow is the trailing window for interaction-frequency
	// dampening of the interaction probability.
	FrequencyWindow time.Duration `mapstructure:"frequency_window" yaml:"frequency_window"`
}

// StorageConfig contains state persistence settings.
type StorageConfig struct {
	// DataDir holds the SQLite state database.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// SnapshotInterval is how often the gateway persists engine state.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
}

// ServerConfig contains gateway settings.
type ServerConfig struct {
	// Host/Port for the HTTP + WebSocket gateway.
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// AuthRequired enforces API-key authentication on all endpoints
	// except the health check.
	AuthRequired bool `mapstructure:"auth_required" yaml:"auth_required"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file.
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with the standard default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	troupeDir := filepath.Join(homeDir, ".troupe")

	return &Config{
		Engine: EngineConfig{
			DefinitionsDir:   filepath.Join(troupeDir, "definitions"),
			DefaultPersona:   "onyx",
			DefaultFramework: "assistant",
		},
		Router: RouterConfig{
			StickyWindow:    5 * time.Minute,
			ActivityRouting: true,
			CloseMargin:     0.8,
		},
		Blend: BlendConfig{
			MinWeight: 0.1,
			CacheTTL:  10 * time.Minute,
		},
		Relationship: RelationshipConfig{
			ResponderFactor: 0.8,
			LogSize:         20,
			FrequencyWindow: 10 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:          troupeDir,
			SnapshotInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8787,
			AuthRequired: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(troupeDir, "logs", "troupe.log"),
		},
	}
}

// Load reads configuration from ~/.troupe/config.yaml, creating it with
// defaults if absent, and merges environment variable overrides.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".troupe", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path. If the file
// does not exist it is created with default values first.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: TROUPE_ROUTER_STICKY_WINDOW=2m
	v.SetEnvPrefix("TROUPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Engine.DefinitionsDir = expandPath(cfg.Engine.DefinitionsDir)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes the configuration to the default location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return c.SaveToPath(filepath.Join(homeDir, ".troupe", "config.yaml"))
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the troupe data directory.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".troupe")
}

// EnsureDirectories creates the directories the engine needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.GetDataDir(),
		filepath.Dir(c.Logging.File),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c.Engine.DefaultPersona == "" {
		return fmt.Errorf("engine.default_persona cannot be empty")
	}
	if c.Engine.DefaultFramework == "" {
		return fmt.Errorf("engine.default_framework cannot be empty")
	}

	if c.Router.StickyWindow < 0 {
		return fmt.Errorf("router.sticky_window cannot be negative")
	}
	if c.Router.CloseMargin <= 0 || c.Router.CloseMargin > 1 {
		return fmt.Errorf("router.close_margin must be in (0, 1], got %v", c.Router.CloseMargin)
	}

	if c.Blend.MinWeight < 0 || c.Blend.MinWeight >= 1 {
		return fmt.Errorf("blend.min_weight must be in [0, 1), got %v", c.Blend.MinWeight)
	}

	if c.Relationship.ResponderFactor < 0 || c.Relationship.ResponderFactor > 1 {
		return fmt.Errorf("relationship.responder_factor must be in [0, 1], got %v", c.Relationship.ResponderFactor)
	}
	if c.Relationship.LogSize < 1 {
		return fmt.Errorf("relationship.log_size must be at least 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config to a YAML file using the yaml struct tags.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
