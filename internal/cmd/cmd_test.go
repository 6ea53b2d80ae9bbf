package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskgraph/internal/api"
	"github.com/felixgeelhaar/taskgraph/internal/config"
	"github.com/felixgeelhaar/taskgraph/internal/engine"
	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/exitcode"
	"github.com/felixgeelhaar/taskgraph/internal/health"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/metrics"
	"github.com/felixgeelhaar/taskgraph/internal/notify"
	"github.com/felixgeelhaar/taskgraph/internal/retry"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/server"
	"github.com/felixgeelhaar/taskgraph/internal/tool"
)

const testConfig = `
engine:
  workers: 4
  max_attempts: 2
  backoff:
    strategy: none
store:
  driver: memory
logging:
  level: error
`

// resetFlags puts every flag of the command tree back to its default, so
// package-level flag variables do not leak between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfigFile(t *testing.T) string {
	return writeFile(t, "config.yaml", testConfig)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "taskgraph "), out)

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["go_version"])
}

func TestConfigInitPathView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskgraph", "config.yaml")

	out, err := execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	_, err = execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = execute(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	out, err = execute(t, "--config", path, "config", "view")
	require.NoError(t, err)
	assert.Contains(t, out, "workers:")
	assert.Contains(t, out, "driver: file")
}

func TestConfigViewRejectsMissingFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "config", "view")
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeFileNotFound), "got %v", err)
}

func TestPlanValidate(t *testing.T) {
	plan := writeFile(t, "site.yaml", `
tasks:
  - id: fetch
    tool: echo
  - id: render
    tool: echo
    depends_on: [fetch]
  - id: lint
    tool: echo
    depends_on: [fetch]
`)
	out, err := execute(t, "--config", testConfigFile(t), "plan", "validate", plan)
	require.NoError(t, err)
	assert.Contains(t, out, "3 tasks in 2 levels")
	assert.Contains(t, out, "level 1: render, lint")

	out, err = execute(t, "--config", testConfigFile(t), "plan", "validate", plan, "--json")
	require.NoError(t, err)
	var report planReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Tasks)
	assert.Len(t, report.Fingerprint, 64)
}

func TestPlanValidateErrors(t *testing.T) {
	cfgFile := testConfigFile(t)

	cycle := writeFile(t, "cycle.yaml", "- {id: a, tool: echo, depends_on: [b]}\n- {id: b, tool: echo, depends_on: [a]}\n")
	_, err := execute(t, "--config", cfgFile, "plan", "validate", cycle)
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeBuildCycle), "got %v", err)
	assert.Equal(t, exitcode.BuildError, exitcode.DetermineExitCode(err))

	unknown := writeFile(t, "unknown.yaml", "- {id: a, tool: deploy}\n")
	_, err = execute(t, "--config", cfgFile, "plan", "validate", unknown)
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeBuildInvalid), "got %v", err)
	assert.Contains(t, err.Error(), "deploy (task a)")

	_, err = execute(t, "--config", cfgFile, "plan", "validate")
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
}

func TestRunPlanSucceeds(t *testing.T) {
	plan := writeFile(t, "greet.yaml", `
- id: hello
  tool: echo
  arguments: {msg: hi}
- id: bye
  tool: echo
  depends_on: [hello]
`)
	out, err := execute(t, "--config", testConfigFile(t), "run", "--plan", plan, "--owner", "ana")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "2/2 succeeded")
}

func TestRunPlanJSON(t *testing.T) {
	plan := writeFile(t, "one.json", `[{"id": "only", "tool_name": "echo", "arguments": {"n": 1}}]`)
	out, err := execute(t, "--config", testConfigFile(t), "run", "--plan", plan, "--json")
	require.NoError(t, err)

	var rec run.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, run.StatusSucceeded, rec.Status)
	assert.Equal(t, "one", rec.Objective)
	assert.JSONEq(t, `{"n":1}`, string(rec.Nodes["only"].Result))
	assert.Equal(t, "cli", rec.Metadata["source"])
}

func TestRunOutcomeExitCodes(t *testing.T) {
	partial := writeFile(t, "partial.yaml", `
- {id: ok, tool: echo}
- {id: broken, tool: fail, arguments: {message: disk full}}
- {id: after, tool: echo, depends_on: [broken]}
`)
	out, err := execute(t, "--config", testConfigFile(t), "run", "--plan", partial)
	require.Error(t, err)
	assert.Equal(t, exitcode.GraphPartiallyFailed, exitcode.DetermineExitCode(err))
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "skipped")

	failed := writeFile(t, "failed.yaml", "- {id: broken, tool: fail}\n")
	_, err = execute(t, "--config", testConfigFile(t), "run", "--plan", failed, "--max-attempts", "1")
	assert.Equal(t, exitcode.GraphFailed, exitcode.DetermineExitCode(err))
}

func TestRunNeedsObjectiveOrPlan(t *testing.T) {
	_, err := execute(t, "--config", testConfigFile(t), "run")
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))

	_, err = execute(t, "--config", testConfigFile(t), "run", "ship it")
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodePlanUnsupported), "got %v", err)
}

func TestResumeRequiresDurableStore(t *testing.T) {
	_, err := execute(t, "--config", testConfigFile(t), "resume", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory store")

	_, err = execute(t, "--config", testConfigFile(t), "resume")
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
}

func TestResumeAllWithNothingPending(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, "config.yaml", "store:\n  driver: file\n  dir: "+dir+"\nlogging:\n  level: error\n")

	out, err := execute(t, "--config", cfgFile, "resume", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "No interrupted graphs.")
}

// startServer runs the API over httptest for the client commands.
func startServer(t *testing.T) string {
	t.Helper()

	tools := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(tools))
	ec := engine.DefaultConfig()
	ec.Backoff = retry.Policy{Strategy: retry.StrategyNone}
	eng, err := engine.New(tools, engine.WithConfig(ec), engine.WithLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	srv := server.New(eng, health.NewProbeManager("test"), server.Config{Address: ":0"},
		server.WithLogger(log.Discard()), server.WithTools(tools))
	ts := httptest.NewServer(adaptor.FiberApp(srv.App()))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestClientCommands(t *testing.T) {
	url := startServer(t)
	cfgFile := testConfigFile(t)
	plan := writeFile(t, "remote.yaml", "- {id: hello, tool: echo, arguments: {msg: hi}}\n")

	out, err := execute(t, "--config", cfgFile, "--server", url, "submit", "--plan", plan, "--owner", "ci", "--wait", "--json")
	require.NoError(t, err)
	var rec run.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, run.StatusSucceeded, rec.Status)
	assert.Equal(t, "ci", rec.Owner)

	out, err = execute(t, "--config", cfgFile, "--server", url, "status", rec.GraphID)
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "hello")

	out, err = execute(t, "--config", cfgFile, "--server", url, "list", "--owner", "ci", "--json")
	require.NoError(t, err)
	var list api.ListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, rec.GraphID, list.Graphs[0].GraphID)

	out, err = execute(t, "--config", cfgFile, "--server", url, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "GRAPH")
	assert.Contains(t, out, rec.GraphID)

	out, err = execute(t, "--config", cfgFile, "--server", url, "archive", rec.GraphID)
	require.NoError(t, err)
	assert.Contains(t, out, "Archived")

	_, err = execute(t, "--config", cfgFile, "--server", url, "status", rec.GraphID)
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeGraphNotFound), "got %v", err)
}

func TestCancelCommand(t *testing.T) {
	url := startServer(t)
	cfgFile := testConfigFile(t)
	plan := writeFile(t, "nap.yaml", "- {id: nap, tool: sleep, arguments: {duration: 30s}}\n")

	out, err := execute(t, "--config", cfgFile, "--server", url, "submit", "--plan", plan)
	require.NoError(t, err)
	graphID := strings.TrimSpace(out)
	require.NotEmpty(t, graphID)

	out, err = execute(t, "--config", cfgFile, "--server", url, "cancel", graphID, "--json")
	require.NoError(t, err)
	var rec run.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, run.StatusCancelled, rec.Status)

	_, err = execute(t, "--config", cfgFile, "--server", url, "status", graphID)
	assert.Equal(t, exitcode.GraphCancelled, exitcode.DetermineExitCode(err))
}

func TestSubmitRejectsBadMetadata(t *testing.T) {
	_, err := execute(t, "--config", testConfigFile(t), "--server", "http://127.0.0.1:1", "submit", "x", "--meta", "novalue")
	require.Error(t, err)
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses([]string{"Failed", " running ", ""})
	require.NoError(t, err)
	assert.Equal(t, []run.Status{run.StatusFailed, run.StatusRunning}, got)

	_, err = parseStatuses([]string{"done"})
	assert.Error(t, err)
}

func TestBuildStore(t *testing.T) {
	s, closeFn, err := buildStore(context.Background(), config.StoreConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	closeFn()
	assert.NotNil(t, s)

	dir := t.TempDir()
	s, _, err = buildStore(context.Background(), config.StoreConfig{Driver: config.DriverFile, Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), run.NewRecord("g-1", "x")))
	assert.FileExists(t, filepath.Join(dir, "g-1.json"))

	_, _, err = buildStore(context.Background(), config.StoreConfig{Driver: "etcd"})
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeStoreDriver), "got %v", err)
}

func TestBuildTools(t *testing.T) {
	reg, err := buildTools([]config.ToolConfig{{
		Name:        "shout",
		Description: "prints its input",
		Command:     "cat",
		MaxAttempts: 5,
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"text"},
		},
	}})
	require.NoError(t, err)
	assert.True(t, reg.Has("shout"))
	assert.True(t, reg.Has("echo"))

	settings, ok := reg.ToolSettings("shout")
	require.True(t, ok)
	assert.Equal(t, 5, settings.MaxAttempts)

	_, err = reg.Invoke(context.Background(), "shout", map[string]any{})
	assert.Error(t, err, "schema requires text")

	_, err = buildTools([]config.ToolConfig{{Name: "ghost", Command: "definitely-not-a-command-taskgraph"}})
	assert.Error(t, err)
}

func TestBuildDispatcher(t *testing.T) {
	d, err := buildDispatcher(config.NotifyConfig{}, log.Discard(), nil)
	require.NoError(t, err)
	assert.Nil(t, d)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	_, m := metrics.NewRegistry()
	d, err = buildDispatcher(config.NotifyConfig{
		QueueSize: 8,
		Sinks:     []notify.SinkConfig{{Name: "file", Type: "eventlog", Path: path}},
	}, log.Discard(), m)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, d.Close(context.Background()))
}
