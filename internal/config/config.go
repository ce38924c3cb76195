package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mcpindex/internal/logging"
	"mcpindex/internal/repository"
	"mcpindex/pkg/fileops"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const APP_NAME = "mcpindex" // application name used for config and data directories

const (
	DefaultDashboardHost   = "127.0.0.1"
	DefaultDashboardPort   = 8787
	DefaultPushInterval    = 5 * time.Second
	DefaultUsageFlushDelay = 500 * time.Millisecond
	DefaultMaxFileSize     = 1 << 20
)

// DashboardConfig controls the optional local HTTP dashboard.
type DashboardConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// Addr returns host:port for net.Listen.
func (d DashboardConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Config holds the server configuration.
type Config struct {
	// InstructionsDir is the primary, writable catalog directory.
	InstructionsDir string `yaml:"instructions_dir"`
	// DataDir holds runtime state: usage snapshot, sessions, feedback
	// database and clones of git sources.
	DataDir string `yaml:"data_dir"`

	Mutation        bool                     `yaml:"mutation"`
	Watch           bool                     `yaml:"watch"`
	Dashboard       DashboardConfig          `yaml:"dashboard"`
	UsageFlushDelay time.Duration            `yaml:"usage_flush_delay"`
	MaxFileSize     int64                    `yaml:"max_file_size"`
	Sources         []repository.SourceEntry `yaml:"sources,omitempty"`

	Version  string `yaml:"version"`   // Track config version
	InitTime int64  `yaml:"init_time"` // Unix timestamp of first save
}

// ConfigPath returns the config file location. MCPINDEX_CONFIG overrides
// the XDG default.
func ConfigPath() (string, error) {
	if p := os.Getenv("MCPINDEX_CONFIG"); p != "" {
		return fileops.ExpandPath(p), nil
	}
	configPath := filepath.Join(xdg.ConfigHome, APP_NAME, "config.yaml")

	logging.Debug("Determined config path", "path", configPath)
	return configPath, nil
}

// Load reads .env, the config file if one exists, then environment
// overrides. A missing config file is not an error: the server must be able
// to start headless with defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Warn("Ignoring unreadable .env file", "error", err)
	}

	configPath, exists := FindConfigFile()

	var cfg *Config
	if exists {
		loaded, err := LoadFrom(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		logging.Debug("No config file, using defaults", "path", configPath)
		def := DefaultConfig()
		cfg = &def
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom loads config from a specific path. Fields missing from the file
// keep their defaults.
func LoadFrom(path string) (*Config, error) {
	logging.Debug("Reading config file", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.InstructionsDir = fileops.ExpandPath(cfg.InstructionsDir)
	cfg.DataDir = fileops.ExpandPath(cfg.DataDir)
	return &cfg, nil
}

// FindConfigFile returns the path to the config file, and whether it exists.
func FindConfigFile() (string, bool) {
	primary, err := ConfigPath()
	if err != nil {
		logging.Error("Failed to get config path", "error", err)
		return "", false
	}

	if _, err := os.Stat(primary); err == nil {
		return primary, true
	}
	return primary, false
}

// DefaultDataDir is $XDG_DATA_HOME/mcpindex.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, APP_NAME)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	dataDir := DefaultDataDir()
	return Config{
		InstructionsDir: filepath.Join(dataDir, "instructions"),
		DataDir:         dataDir,
		Watch:           true,
		Dashboard: DashboardConfig{
			Host:         DefaultDashboardHost,
			Port:         DefaultDashboardPort,
			PushInterval: DefaultPushInterval,
		},
		UsageFlushDelay: DefaultUsageFlushDelay,
		MaxFileSize:     DefaultMaxFileSize,
		Version:         "1.0",
	}
}

// ApplyEnv overlays MCPINDEX_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("MCPINDEX_INSTRUCTIONS_DIR"); ok && v != "" {
		c.InstructionsDir = fileops.ExpandPath(v)
	}
	if v, ok := lookup("MCPINDEX_DATA_DIR"); ok && v != "" {
		c.DataDir = fileops.ExpandPath(v)
	}
	if v, ok := lookup("MCPINDEX_DASHBOARD_HOST"); ok && v != "" {
		c.Dashboard.Host = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"MCPINDEX_MUTATION", &c.Mutation},
		{"MCPINDEX_DASHBOARD", &c.Dashboard.Enabled},
		{"MCPINDEX_WATCH", &c.Watch},
	}
	for _, b := range bools {
		if v, ok := lookup(b.key); ok && v != "" {
			*b.dst = parseBool(v)
		}
	}

	if v, ok := lookup("MCPINDEX_DASHBOARD_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCPINDEX_DASHBOARD_PORT: %w", err)
		}
		c.Dashboard.Port = port
	}
	if v, ok := lookup("MCPINDEX_USAGE_FLUSH_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCPINDEX_USAGE_FLUSH_MS: %w", err)
		}
		c.UsageFlushDelay = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := fileops.ValidateStoragePath(c.InstructionsDir); err != nil {
		return fmt.Errorf("instructions_dir: %w", err)
	}
	if err := fileops.ValidateStoragePath(c.DataDir); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	if c.UsageFlushDelay < 0 {
		return fmt.Errorf("usage_flush_delay cannot be negative")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	for i, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	return nil
}

// EnsureDirs creates the instructions and data directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.InstructionsDir, c.DataDir} {
		if err := fileops.EnsureDirectoryExists(dir); err != nil {
			return err
		}
	}
	return nil
}

// UsageSnapshotPath is where the usage tracker persists counters.
func (c *Config) UsageSnapshotPath() string {
	return filepath.Join(c.DataDir, "usage-snapshot.json")
}

// SessionsDir holds one JSON file per dashboard session.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// FeedbackDBPath is the SQLite feedback database.
func (c *Config) FeedbackDBPath() string {
	return filepath.Join(c.DataDir, "feedback.db")
}

// SourcesDir is where git sources are cloned.
func (c *Config) SourcesDir() string {
	return filepath.Join(c.DataDir, "sources")
}

// Save writes the config to the standard location
func (c *Config) Save() error {
	configPath, _ := FindConfigFile()
	return c.SaveTo(configPath)
}

// SaveTo writes the config to a specific path
func (c *Config) SaveTo(path string) error {
	if c.InitTime == 0 {
		c.InitTime = time.Now().Unix()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may name private repositories
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()

	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
