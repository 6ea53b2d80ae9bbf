package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskgraph/internal/api"
	"github.com/felixgeelhaar/taskgraph/internal/engine"
	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/health"
	"github.com/felixgeelhaar/taskgraph/internal/log"
	"github.com/felixgeelhaar/taskgraph/internal/metrics"
	"github.com/felixgeelhaar/taskgraph/internal/retry"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/task"
	"github.com/felixgeelhaar/taskgraph/internal/tool"
)

type fixture struct {
	srv    *Server
	engine *engine.Engine
	probes *health.ProbeManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tools := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(tools))

	cfg := engine.DefaultConfig()
	cfg.Backoff = retry.Policy{Strategy: retry.StrategyNone}
	eng, err := engine.New(tools, engine.WithConfig(cfg), engine.WithLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	reg, m := metrics.NewRegistry()
	probes := health.NewProbeManager("test")
	probes.AddChecker(health.NewEngineChecker(eng))

	srv := New(eng, probes, Config{Address: ":0"},
		WithLogger(log.Discard()),
		WithMetrics(m, reg),
		WithTools(tools),
	)
	return &fixture{srv: srv, engine: eng, probes: probes}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) submit(t *testing.T, req api.SubmitRequest) string {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, data := f.do(t, http.MethodPost, "/v1/graphs", string(body))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))

	var out api.SubmitResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEmpty(t, out.GraphID)
	assert.Equal(t, "/v1/graphs/"+out.GraphID, resp.Header.Get("Location"))
	return out.GraphID
}

func (f *fixture) wait(t *testing.T, id string) *run.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := f.engine.Wait(ctx, id)
	require.NoError(t, err)
	return rec
}

func decodeError(t *testing.T, data []byte) api.ErrorResponse {
	t.Helper()
	var out api.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func echoTasks() []task.Spec {
	return []task.Spec{
		{ID: "fetch", ToolName: "echo", Arguments: map[string]any{"url": "https://example.test"}},
		{ID: "parse", ToolName: "echo", DependsOn: []string{"fetch"}},
	}
}

func TestSubmitAndStatus(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, api.SubmitRequest{Objective: "crawl", Owner: "ana", Tasks: echoTasks()})
	f.wait(t, id)

	resp, data := f.do(t, http.MethodGet, "/v1/graphs/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec run.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, run.StatusSucceeded, rec.Status)
	assert.Equal(t, "ana", rec.Owner)
	assert.Equal(t, []string{"fetch", "parse"}, rec.Order)
	assert.JSONEq(t, `{"url":"https://example.test"}`, string(rec.Nodes["fetch"].Result))
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   tgerrors.ErrorCode
	}{
		{"malformed body", `{"objective":`, http.StatusBadRequest, ""},
		{"nothing to run", `{"objective":"  "}`, http.StatusBadRequest, ""},
		{"negative attempts", `{"objective":"x","max_attempts":-1}`, http.StatusBadRequest, ""},
		{"no planner", `{"objective":"think for me"}`, http.StatusUnprocessableEntity, tgerrors.ErrCodePlanUnsupported},
		{"cycle", `{"objective":"loop","tasks":[
			{"id":"a","tool_name":"echo","dependency_ids":["b"]},
			{"id":"b","tool_name":"echo","dependency_ids":["a"]}]}`,
			http.StatusUnprocessableEntity, tgerrors.ErrCodeBuildCycle},
		{"dangling", `{"objective":"x","tasks":[{"id":"a","tool_name":"echo","dependency_ids":["ghost"]}]}`,
			http.StatusUnprocessableEntity, tgerrors.ErrCodeBuildDangling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp, data := f.do(t, http.MethodPost, "/v1/graphs", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(data))

			out := decodeError(t, data)
			assert.NotEmpty(t, out.Error)
			assert.Equal(t, string(tt.code), out.Code)
		})
	}
}

func TestStatusUnknownGraph(t *testing.T) {
	f := newFixture(t)
	resp, data := f.do(t, http.MethodGet, "/v1/graphs/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(tgerrors.ErrCodeGraphNotFound), decodeError(t, data).Code)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, api.SubmitRequest{Objective: "one", Owner: "ana", Tasks: echoTasks()})
	b := f.submit(t, api.SubmitRequest{Objective: "two", Owner: "bo", Tasks: echoTasks()})
	f.wait(t, a)
	f.wait(t, b)

	resp, data := f.do(t, http.MethodGet, "/v1/graphs?owner=ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out api.ListResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, a, out.Graphs[0].GraphID)
	assert.Equal(t, 1.0, out.Graphs[0].Progress)
	assert.Equal(t, 2, out.Graphs[0].Nodes.Succeeded)

	_, data = f.do(t, http.MethodGet, "/v1/graphs?status=succeeded,failed", "")
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 2, out.Count)

	_, data = f.do(t, http.MethodGet, "/v1/graphs?active=true", "")
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0, out.Count)

	resp, _ = f.do(t, http.MethodGet, "/v1/graphs?status=done", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/graphs?active=maybe", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelAndArchive(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, api.SubmitRequest{Objective: "slow", Tasks: []task.Spec{
		{ID: "nap", ToolName: "sleep", Arguments: map[string]any{"duration": "30s"}},
		{ID: "after", ToolName: "echo", DependsOn: []string{"nap"}},
	}})

	resp, data := f.do(t, http.MethodDelete, "/v1/graphs/"+id, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "running graphs cannot be archived")
	assert.Equal(t, string(tgerrors.ErrCodeGraphActive), decodeError(t, data).Code)

	resp, data = f.do(t, http.MethodPost, "/v1/graphs/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var rec run.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, run.StatusCancelled, rec.Status)
	assert.Equal(t, task.StateCancelled, rec.Nodes["after"].State)

	resp, data = f.do(t, http.MethodPost, "/v1/graphs/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(tgerrors.ErrCodeGraphTerminal), decodeError(t, data).Code)

	f.wait(t, id)
	resp, _ = f.do(t, http.MethodDelete, "/v1/graphs/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/graphs/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTools(t *testing.T) {
	f := newFixture(t)
	resp, data := f.do(t, http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []tool.Info
	require.NoError(t, json.Unmarshal(data, &infos))
	var names []string
	for _, i := range infos {
		names = append(names, i.Name)
	}
	assert.Equal(t, []string{"echo", "fail", "flaky", "sleep"}, names)
}

func TestHealthProbes(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/health/startup", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.probes.MarkInitialized()
	resp, _ = f.do(t, http.MethodGet, "/health/startup", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := f.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ready health.ProbeResult
	require.NoError(t, json.Unmarshal(data, &ready))
	assert.Equal(t, health.StatusHealthy, ready.Status)
	assert.Contains(t, ready.Checks, "engine")

	f.probes.MarkShutdown()
	resp, _ = f.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, data = f.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "liveness holds while draining")
	var live health.ProbeResult
	require.NoError(t, json.Unmarshal(data, &live))
	assert.Equal(t, health.StatusDegraded, live.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/v1/graphs/missing", "")

	resp, data := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := string(data)
	assert.Contains(t, body, "taskgraph_http_requests_total")
	assert.Contains(t, body, `route="/v1/graphs/:id"`)
	assert.Contains(t, body, `status="4xx"`)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	resp, data := f.do(t, http.MethodGet, "/v2/everything", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decodeError(t, data).Error)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("plain"), http.StatusInternalServerError},
		{badRequest{"bad"}, http.StatusBadRequest},
		{fiber.ErrMethodNotAllowed, http.StatusMethodNotAllowed},
		{tgerrors.NewGraphNotFoundError("g"), http.StatusNotFound},
		{tgerrors.NewGraphTerminalError("g", "failed"), http.StatusConflict},
		{tgerrors.NewGraphActiveError("g"), http.StatusConflict},
		{engine.ErrStopped, http.StatusServiceUnavailable},
		{tgerrors.NewPlanFailedError("x", errors.New("down")), http.StatusBadGateway},
		{tgerrors.NewPlanUnparseableError(errors.New("junk")), http.StatusUnprocessableEntity},
		{tgerrors.NewBuildCycleError(errors.New("a -> a")), http.StatusUnprocessableEntity},
		{tgerrors.NewStoreUnavailableError("postgres", errors.New("down")), http.StatusServiceUnavailable},
		{tgerrors.NewConfigInvalidError("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
