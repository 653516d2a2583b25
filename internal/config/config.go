// Package config loads and validates the optional .actionrunner.yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deixis/actionrunner/internal/environ"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up from the working directory
// upward.
const FileName = ".actionrunner.yaml"

// Default values for runner configuration.
const (
	DefaultTimeout       = 600 * time.Second
	DefaultDrainTimeout  = 5 * time.Second
	DefaultPacksBase     = "packs"
	DefaultStateDir      = ".actionrunner"
	DefaultHistorySize   = 128
	DefaultDatastoreKind = "memory"
	DefaultOutputDriver  = "sqlite"
)

// Config holds the parsed .actionrunner.yaml configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version         int      `yaml:"version"`
	RawTimeout      string   `yaml:"timeout"`       // e.g. "10m", "30s"
	RawDrainTimeout string   `yaml:"drain_timeout"` // e.g. "5s"
	StreamOutput    bool     `yaml:"stream_output"`
	PacksBase       string   `yaml:"packs_base"`
	VirtualenvsBase string   `yaml:"virtualenvs_base"`
	Python          string   `yaml:"python"`
	Wrapper         string   `yaml:"wrapper"` // script the interpreter runs before the entry point
	RawEnvBlacklist []string `yaml:"env_blacklist"`
	APIURL          string   `yaml:"api_url"`
	StateDir        string   `yaml:"state_dir"` // execution history and the default output database
	HistorySize     int      `yaml:"history_size"`

	Datastore   DatastoreConfig   `yaml:"datastore"`
	OutputStore OutputStoreConfig `yaml:"output_store"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// DatastoreConfig selects where pack config overrides are kept.
type DatastoreConfig struct {
	Driver   string `yaml:"driver"` // memory, redis
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// OutputStoreConfig selects the database persisted output is written to.
type OutputStoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `yaml:"dsn"`
}

// CryptoConfig holds the datastore secret key. Key is hex encoded; a
// Passphrase is stretched into a key when Key is empty.
type CryptoConfig struct {
	Key        string `yaml:"key"`
	Passphrase string `yaml:"passphrase"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// MetricsConfig controls the prometheus endpoint of the serve command.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Timeout returns the configured default execution timeout.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.RawTimeout, DefaultTimeout)
}

// DrainTimeout returns how long output is drained after a child exits.
func (c *Config) DrainTimeout() time.Duration {
	return parseDuration(c.RawDrainTimeout, DefaultDrainTimeout)
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// EnvBlacklist returns the variables users may not override.
func (c *Config) EnvBlacklist() []string {
	if len(c.RawEnvBlacklist) > 0 {
		return c.RawEnvBlacklist
	}
	return environ.DefaultBlacklist
}

// DatastoreDriver returns the configured datastore driver.
func (c *Config) DatastoreDriver() string {
	if c.Datastore.Driver != "" {
		return c.Datastore.Driver
	}
	return DefaultDatastoreKind
}

// OutputDriver returns the configured output store driver.
func (c *Config) OutputDriver() string {
	if c.OutputStore.Driver != "" {
		return c.OutputStore.Driver
	}
	return DefaultOutputDriver
}

// History returns the number of results kept in memory.
func (c *Config) History() int {
	if c.HistorySize > 0 {
		return c.HistorySize
	}
	return DefaultHistorySize
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatastoreDriver() {
	case "memory":
	case "redis":
		if c.Datastore.Addr == "" {
			errs = append(errs, errors.New("datastore.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported datastore driver %q", c.Datastore.Driver))
	}
	switch c.OutputDriver() {
	case "sqlite":
	case "postgres", "mysql":
		if c.OutputStore.DSN == "" {
			errs = append(errs, fmt.Errorf("output_store.dsn is required for the %s driver", c.OutputStore.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported output store driver %q", c.OutputStore.Driver))
	}
	for name, raw := range map[string]string{"timeout": c.RawTimeout, "drain_timeout": c.RawDrainTimeout} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s %q is not a positive duration", name, raw))
		}
	}
	return errors.Join(errs...)
}

// LoadResult holds the parsed config and the directory it was found in.
type LoadResult struct {
	Config *Config
	Root   string // directory containing the config file; falls back to the start dir
	Path   string // config file path, empty when none was found
}

// Resolve makes p absolute against Root.
func (r *LoadResult) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.Root, p)
}

// PacksDir returns the absolute packs base directory.
func (r *LoadResult) PacksDir() string {
	if r.Config.PacksBase != "" {
		return r.Resolve(r.Config.PacksBase)
	}
	return r.Resolve(DefaultPacksBase)
}

// StateDir returns the absolute state directory.
func (r *LoadResult) StateDir() string {
	if r.Config.StateDir != "" {
		return r.Resolve(r.Config.StateDir)
	}
	return r.Resolve(DefaultStateDir)
}

// ExecutionsDir returns where finished results are written.
func (r *LoadResult) ExecutionsDir() string {
	return filepath.Join(r.StateDir(), "executions")
}

// OutputDSN returns the output store DSN, defaulting to a sqlite file in
// the state directory.
func (r *LoadResult) OutputDSN() string {
	if r.Config.OutputStore.DSN != "" {
		if r.Config.OutputDriver() == "sqlite" {
			return r.Resolve(r.Config.OutputStore.DSN)
		}
		return r.Config.OutputStore.DSN
	}
	return filepath.Join(r.StateDir(), "output.db")
}

// Load looks for .actionrunner.yaml in dir and its parents. If none exists,
// a default Config rooted at dir is returned.
func Load(dir string) (*LoadResult, error) {
	start, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	path, err := findConfig(start)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: start}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path. Environment references such as
// ${REDIS_PASSWORD} are expanded before parsing.
func LoadFile(path string) (*LoadResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", abs, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", abs, err)
	}
	return &LoadResult{Config: cfg, Root: filepath.Dir(abs), Path: abs}, nil
}

// findConfig walks upward from dir looking for FileName.
func findConfig(dir string) (string, error) {
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
