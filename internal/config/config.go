// Package config loads the taskgraph configuration file.
//
// The file lives at ~/.taskgraph/config.yaml unless --config names another
// one. Every section is optional; missing values keep their defaults and
// TASKGRAPH_* environment variables override what the file says.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/taskgraph/internal/engine"
	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/notify"
	"github.com/felixgeelhaar/taskgraph/internal/retry"
	"github.com/felixgeelhaar/taskgraph/internal/telemetry"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config is the whole configuration file.
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Store     StoreConfig      `yaml:"store"`
	Server    ServerConfig     `yaml:"server"`
	Client    ClientConfig     `yaml:"client"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Planner   PlannerConfig    `yaml:"planner,omitempty"`
	Tools     []ToolConfig     `yaml:"tools,omitempty"`
	Notify    NotifyConfig     `yaml:"notify,omitempty"`
}

// EngineConfig mirrors engine.Config.
type EngineConfig struct {
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	NodeTimeout  time.Duration `yaml:"node_timeout,omitempty"`
	FailFast     bool          `yaml:"fail_fast"`
	StoreTimeout time.Duration `yaml:"store_timeout,omitempty"`
	// Retention is the age after which finished records are cleaned up.
	Retention time.Duration `yaml:"retention,omitempty"`
	Backoff   retry.Policy  `yaml:"backoff"`
}

// StoreConfig selects where run records are kept.
type StoreConfig struct {
	Driver string `yaml:"driver"`        // memory, file, postgres
	Dir    string `yaml:"dir,omitempty"` // file driver
	DSN    string `yaml:"dsn,omitempty"` // postgres driver
}

// ServerConfig configures `taskgraph serve`.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	IdleTimeout     time.Duration `yaml:"idle_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// ClientConfig is used by the commands that talk to a running server.
type ClientConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LoggingConfig feeds log.Config.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // text, json
	AddSource bool   `yaml:"add_source,omitempty"`
}

// PlannerConfig names an external planner command. Without one, graphs
// must be submitted with an explicit task list.
type PlannerConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// ToolConfig registers an external command as a tool.
type ToolConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Command     string         `yaml:"command"`
	Args        []string       `yaml:"args,omitempty"`
	Dir         string         `yaml:"dir,omitempty"`
	Env         []string       `yaml:"env,omitempty"`
	Schema      map[string]any `yaml:"schema,omitempty"`
	Timeout     time.Duration  `yaml:"timeout,omitempty"`
	MaxAttempts int            `yaml:"max_attempts,omitempty"`
	Backoff     retry.Policy   `yaml:"backoff,omitempty"`
}

// NotifyConfig configures lifecycle event delivery.
type NotifyConfig struct {
	QueueSize int                 `yaml:"queue_size,omitempty"`
	Timeout   time.Duration       `yaml:"timeout,omitempty"`
	Sinks     []notify.SinkConfig `yaml:"sinks,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		Engine: EngineConfig{
			Workers:      ec.Workers,
			MaxAttempts:  ec.MaxAttempts,
			FailFast:     ec.FailFast,
			StoreTimeout: ec.StoreTimeout,
			Retention:    engine.DefaultRetention,
			Backoff:      ec.Backoff,
		},
		Store: StoreConfig{
			Driver: DriverFile,
			Dir:    defaultStoreDir(),
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Client: ClientConfig{
			URL:     "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Dir returns ~/.taskgraph.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".taskgraph"), nil
}

// DefaultPath returns the path of the configuration file.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func defaultStoreDir() string {
	dir, err := Dir()
	if err != nil {
		return filepath.Join(".taskgraph", "runs")
	}
	return filepath.Join(dir, "runs")
}

// Load reads the file at path, applies environment overrides and validates
// the result. An empty path means DefaultPath, which may be absent; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case errors.Is(err, fs.ErrNotExist):
		return nil, tgerrors.NewFileNotFoundError(path)
	case err != nil:
		return nil, tgerrors.Wrap(tgerrors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read %s", path), err)
	default:
		if err := decode(data, cfg); err != nil {
			return nil, tgerrors.NewFileUnmarshalError(path, "yaml", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, tgerrors.Wrap(tgerrors.ErrCodeConfigLoad, "failed to parse configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos do not silently keep a default.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Save writes the configuration, creating the directory if needed. The file
// may hold a database DSN and webhook headers, so it is private to the user.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return tgerrors.Wrap(tgerrors.ErrCodeDirectoryFailed, "failed to create config directory", err)
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return tgerrors.Wrap(tgerrors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, tgerrors.Wrap(tgerrors.ErrCodeFileMarshal, "failed to marshal configuration", err)
	}
	return data, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return tgerrors.NewConfigInvalidError("engine: " + err.Error())
	}
	if c.Engine.Retention < 0 {
		return tgerrors.NewConfigInvalidError("engine: retention must not be negative")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Store.Dir == "" {
			return tgerrors.NewConfigInvalidError("store: dir is required for the file driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return tgerrors.NewConfigInvalidError("store: dsn is required for the postgres driver")
		}
	default:
		return tgerrors.NewConfigInvalidError(fmt.Sprintf("store: unknown driver %q (expected memory, file or postgres)", c.Store.Driver))
	}

	if c.Server.Address == "" {
		return tgerrors.NewConfigInvalidError("server: address is required")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return tgerrors.NewConfigInvalidError(fmt.Sprintf("logging: unknown format %q (expected text or json)", c.Logging.Format))
	}

	if err := c.Telemetry.Validate(); err != nil {
		return tgerrors.NewConfigInvalidError("telemetry: " + err.Error())
	}

	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		if t.Name == "" {
			return tgerrors.NewConfigInvalidError(fmt.Sprintf("tools[%d]: name is required", i))
		}
		if seen[t.Name] {
			return tgerrors.NewConfigInvalidError(fmt.Sprintf("tools: %s is defined twice", t.Name))
		}
		seen[t.Name] = true
		if t.Command == "" {
			return tgerrors.NewConfigInvalidError(fmt.Sprintf("tools.%s: command is required", t.Name))
		}
		if t.MaxAttempts < 0 || t.Timeout < 0 {
			return tgerrors.NewConfigInvalidError(fmt.Sprintf("tools.%s: timeout and max_attempts must not be negative", t.Name))
		}
		if err := t.Backoff.Validate(); err != nil {
			return tgerrors.NewConfigInvalidError(fmt.Sprintf("tools.%s: %v", t.Name, err))
		}
	}

	if c.Notify.QueueSize < 0 {
		return tgerrors.NewConfigInvalidError("notify: queue_size must not be negative")
	}
	for _, s := range c.Notify.Sinks {
		if err := s.Validate(); err != nil {
			return tgerrors.NewConfigInvalidError("notify: " + err.Error())
		}
	}
	return nil
}

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Workers:      c.Engine.Workers,
		MaxAttempts:  c.Engine.MaxAttempts,
		NodeTimeout:  c.Engine.NodeTimeout,
		FailFast:     c.Engine.FailFast,
		Backoff:      c.Engine.Backoff,
		StoreTimeout: c.Engine.StoreTimeout,
	}
}

// LogConfig converts the logging section.
func (c *Config) LogConfig() log.Config {
	lc := log.ParseConfig(c.Logging.Level, c.Logging.Format)
	lc.AddSource = c.Logging.AddSource
	return lc
}
