package config

import (
	"fmt"
	"strconv"
	"time"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
)

// Environment variables that override the file.
const (
	EnvWorkers         = "TASKGRAPH_WORKERS"
	EnvMaxAttempts     = "TASKGRAPH_MAX_ATTEMPTS"
	EnvNodeTimeout     = "TASKGRAPH_NODE_TIMEOUT"
	EnvFailFast        = "TASKGRAPH_FAIL_FAST"
	EnvStoreDriver     = "TASKGRAPH_STORE_DRIVER"
	EnvStoreDir        = "TASKGRAPH_STORE_DIR"
	EnvDatabaseURL     = "TASKGRAPH_DATABASE_URL"
	EnvServerAddress   = "TASKGRAPH_SERVER_ADDRESS"
	EnvServerURL       = "TASKGRAPH_SERVER_URL"
	EnvLogLevel        = "TASKGRAPH_LOG_LEVEL"
	EnvLogFormat       = "TASKGRAPH_LOG_FORMAT"
	EnvTracing         = "TASKGRAPH_TRACING"
	EnvTracingEndpoint = "TASKGRAPH_OTLP_ENDPOINT"
	EnvPlannerCommand  = "TASKGRAPH_PLANNER_COMMAND"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment. Malformed numbers,
// booleans and durations are configuration errors rather than ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	var errs []error
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = b
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a duration", key, v))
			return
		}
		*dst = d
	}

	integer(EnvWorkers, &c.Engine.Workers)
	integer(EnvMaxAttempts, &c.Engine.MaxAttempts)
	duration(EnvNodeTimeout, &c.Engine.NodeTimeout)
	boolean(EnvFailFast, &c.Engine.FailFast)

	str(EnvStoreDriver, &c.Store.Driver)
	str(EnvStoreDir, &c.Store.Dir)
	str(EnvDatabaseURL, &c.Store.DSN)

	str(EnvServerAddress, &c.Server.Address)
	str(EnvServerURL, &c.Client.URL)

	str(EnvLogLevel, &c.Logging.Level)
	str(EnvLogFormat, &c.Logging.Format)

	boolean(EnvTracing, &c.Telemetry.Enabled)
	str(EnvTracingEndpoint, &c.Telemetry.Endpoint)

	str(EnvPlannerCommand, &c.Planner.Command)

	if len(errs) > 0 {
		return tgerrors.NewConfigInvalidError(fmt.Sprintf("environment: %v", errs[0]))
	}
	return nil
}
