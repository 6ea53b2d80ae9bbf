package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/notify"
	"github.com/felixgeelhaar/taskgraph/internal/retry"
)

var allEnv = []string{
	EnvWorkers, EnvMaxAttempts, EnvNodeTimeout, EnvFailFast,
	EnvStoreDriver, EnvStoreDir, EnvDatabaseURL,
	EnvServerAddress, EnvServerURL, EnvLogLevel, EnvLogFormat,
	EnvTracing, EnvTracingEndpoint, EnvPlannerCommand,
}

// clearEnv blanks every override; ApplyEnv ignores empty values.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnv {
		t.Setenv(key, "")
	}
}

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Engine.Workers)
	}
	if cfg.Engine.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.Retention != 24*time.Hour {
		t.Errorf("Retention = %s, want 24h", cfg.Engine.Retention)
	}
	if cfg.Store.Driver != DriverFile {
		t.Errorf("Store.Driver = %q, want file", cfg.Store.Driver)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
engine:
  workers: 8
  max_attempts: 5
  node_timeout: 30s
  fail_fast: true
  backoff:
    strategy: constant
    initial_interval: 250ms
store:
  driver: postgres
  dsn: postgres://localhost/taskgraph
planner:
  command: ./plan.sh
  args: ["--json"]
tools:
  - name: fetch
    command: ./fetch.sh
    timeout: 10s
    max_attempts: 2
    schema:
      type: object
      required: [url]
notify:
  queue_size: 64
  sinks:
    - name: hook
      type: webhook
      url: http://example.test/hook
      events: [graph_finished]
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Engine.NodeTimeout)
	assert.True(t, cfg.Engine.FailFast)
	assert.Equal(t, retry.StrategyConstant, cfg.Engine.Backoff.Strategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.Backoff.InitialInterval)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Engine.Backoff.MaxInterval)
	assert.Equal(t, ":8080", cfg.Server.Address)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "./plan.sh", cfg.Planner.Command)
	assert.Equal(t, []string{"--json"}, cfg.Planner.Args)

	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "fetch", cfg.Tools[0].Name)
	assert.Equal(t, 10*time.Second, cfg.Tools[0].Timeout)
	assert.Equal(t, "object", cfg.Tools[0].Schema["type"])

	require.Len(t, cfg.Notify.Sinks, 1)
	assert.Equal(t, []notify.EventType{notify.EventGraphFinished}, cfg.Notify.Sinks[0].Events)

	ec := cfg.EngineConfig()
	assert.Equal(t, 8, ec.Workers)
	assert.Equal(t, 30*time.Second, ec.NodeTimeout)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("engine:\n  wrokers: 2\n"))
	require.Error(t, err)
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeConfigLoad), "got %v", err)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("empty document differs from defaults (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }, "workers"},
		{"zero attempts", func(c *Config) { c.Engine.MaxAttempts = 0 }, "max_attempts"},
		{"negative retention", func(c *Config) { c.Engine.Retention = -time.Second }, "retention"},
		{"bad backoff", func(c *Config) { c.Engine.Backoff.Strategy = "fibonacci" }, "strategy"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "unknown driver"},
		{"file without dir", func(c *Config) { c.Store.Dir = "" }, "dir is required"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "dsn is required"},
		{"empty address", func(c *Config) { c.Server.Address = "" }, "address"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "format"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
		{"tool without name", func(c *Config) { c.Tools = []ToolConfig{{Command: "x"}} }, "name is required"},
		{"tool without command", func(c *Config) { c.Tools = []ToolConfig{{Name: "x"}} }, "command is required"},
		{"duplicate tool", func(c *Config) {
			c.Tools = []ToolConfig{{Name: "x", Command: "a"}, {Name: "x", Command: "b"}}
		}, "defined twice"},
		{"bad sink", func(c *Config) {
			c.Notify.Sinks = []notify.SinkConfig{{Name: "s", Type: "carrier-pigeon"}}
		}, "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tgerrors.HasCode(err, tgerrors.ErrCodeConfigInvalid) {
				t.Errorf("error code: got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		EnvWorkers:        "16",
		EnvNodeTimeout:    "2m",
		EnvFailFast:       "true",
		EnvStoreDriver:    "memory",
		EnvLogLevel:       "debug",
		EnvServerURL:      "http://engine:9000",
		EnvPlannerCommand: "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Engine.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Engine.NodeTimeout)
	assert.True(t, cfg.Engine.FailFast)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://engine:9000", cfg.Client.URL)
	assert.Empty(t, cfg.Planner.Command)
}

func TestApplyEnvMalformed(t *testing.T) {
	tests := map[string]string{
		EnvWorkers:     "many",
		EnvFailFast:    "sometimes",
		EnvNodeTimeout: "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(mapLookup(map[string]string{key: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Engine.Workers = 2
	cfg.Store.Dir = "/var/lib/taskgraph"
	cfg.Tools = []ToolConfig{{Name: "lint", Command: "golangci-lint", Timeout: time.Minute}}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  workers: 2\n"), 0o600))

	t.Setenv(EnvWorkers, "7")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.Workers)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeFileNotFound), "got %v", err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("engine: [unclosed"), 0o600))
	_, err = Load(bad)
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeFileUnmarshal), "got %v", err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("store:\n  driver: redis\n"), 0o600))
	_, err = Load(invalid)
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeConfigInvalid), "got %v", err)
}

func TestLoadDefaultPathMayBeAbsent(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestLogConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging = LoggingConfig{Level: "warn", Format: "json", AddSource: true}

	lc := cfg.LogConfig()
	assert.Equal(t, log.LevelWarn, lc.Level)
	assert.Equal(t, log.FormatJSON, lc.Format)
	assert.True(t, lc.AddSource)
}
