package planner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

func TestParseTasksShapes(t *testing.T) {
	want := []task.Spec{
		{ID: "research", Description: "Find sources", ToolName: "search"},
		{ID: "write", Description: "Draft", ToolName: "editor", DependsOn: []string{"research"}},
	}

	tests := []struct {
		name  string
		input string
	}{
		{
			name: "bare array",
			input: `[{"id":"research","description":"Find sources","tool_name":"search"},
			         {"id":"write","description":"Draft","tool_name":"editor","dependency_ids":["research"]}]`,
		},
		{
			name: "tasks object",
			input: `{"tasks":[{"id":"research","description":"Find sources","tool":"search"},
			         {"id":"write","description":"Draft","tool":"editor","depends_on":["research"]}]}`,
		},
		{
			name: "fenced with agent and dependencies",
			input: "```json\n[{\"id\":\"research\",\"title\":\"Find sources\",\"agent\":\"search\",\"dependencies\":[]}," +
				"{\"id\":\"write\",\"description\":\"Draft\",\"agent\":\"editor\",\"dependencies\":[\"research\"]}]\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTasks([]byte(tt.input))
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("specs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseTasksErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "```\n```", "not json", `{"tasks": "nope"}`} {
		if _, err := ParseTasks([]byte(input)); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		"```json\n[1]\n```": "[1]",
		"```\n{}\n```":      "{}",
		"```json [2]```":    "[2]",
		"  [3]  ":           "[3]",
	}
	for in, want := range tests {
		if got := string(StripCodeFence([]byte(in))); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStaticAndFunc(t *testing.T) {
	s := Static{{ID: "a", ToolName: "echo"}}
	got, err := s.Plan(context.Background(), "anything")
	require.NoError(t, err)
	got[0].ID = "mutated"
	assert.Equal(t, "a", s[0].ID, "Static must hand out copies")

	f := Func(func(_ context.Context, objective string) ([]task.Spec, error) {
		return []task.Spec{{ID: objective, ToolName: "echo"}}, nil
	})
	got, err = f.Plan(context.Background(), "obj")
	require.NoError(t, err)
	assert.Equal(t, "obj", got[0].ID)
}

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileYAML(t *testing.T) {
	path := writePlan(t, "plan.yaml", `
tasks:
  - id: build
    tool: echo
    timeout: 2s
    max_attempts: 5
    arguments:
      target: linux
  - id: test
    tool_name: echo
    depends_on: [build]
`)
	specs, err := File{Path: path}.Plan(context.Background(), "ship")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "build", specs[0].ID)
	assert.Equal(t, 2*time.Second, specs[0].Timeout.Std())
	assert.Equal(t, 5, specs[0].MaxAttempts)
	assert.Equal(t, map[string]any{"target": "linux"}, specs[0].Arguments)
	assert.Equal(t, []string{"build"}, specs[1].DependsOn)

	list := writePlan(t, "list.yml", "- id: only\n  tool: echo\n")
	specs, err = LoadFile(list, "")
	require.NoError(t, err)
	assert.Equal(t, "only", specs[0].ID)
}

func TestLoadFileHCL(t *testing.T) {
	path := writePlan(t, "plan.hcl", `
task "fetch" {
  tool        = "http_get"
  description = "Fetch ${objective}"
  timeout     = "30s"
  arguments = {
    url     = "https://example.com/${objective}"
    retries = 2
    tags    = ["a", "b"]
  }
}

task "summarize" {
  tool       = "llm"
  depends_on = ["fetch"]
}
`)
	specs, err := LoadFile(path, "weather")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	fetch := specs[0]
	assert.Equal(t, "fetch", fetch.ID)
	assert.Equal(t, "http_get", fetch.ToolName)
	assert.Equal(t, "Fetch weather", fetch.Description)
	assert.Equal(t, 30*time.Second, fetch.Timeout.Std())
	assert.Equal(t, "https://example.com/weather", fetch.Arguments["url"])
	assert.Equal(t, float64(2), fetch.Arguments["retries"])
	assert.Equal(t, []any{"a", "b"}, fetch.Arguments["tags"])

	summarize := specs[1]
	assert.Equal(t, []string{"fetch"}, summarize.DependsOn)
	assert.Nil(t, summarize.Arguments)
}

func TestLoadFileHCLErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":        `task "a" {`,
		"missing tool":  `task "a" {}`,
		"bad timeout":   "task \"a\" {\n  tool = \"x\"\n  timeout = \"soon\"\n}\n",
		"scalar args":   "task \"a\" {\n  tool = \"x\"\n  arguments = \"flat\"\n}\n",
		"unknown field": "task \"a\" {\n  tool = \"x\"\n  colour = \"red\"\n}\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writePlan(t, "plan.hcl", content), "")
			if !tgerrors.HasCode(err, tgerrors.ErrCodeFileUnmarshal) {
				t.Errorf("expected unmarshal error, got %v", err)
			}
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeFileNotFound), "got %v", err)

	_, err = LoadFile(writePlan(t, "plan.toml", "x = 1"), "")
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodePlanUnsupported), "got %v", err)

	_, err = LoadFile(writePlan(t, "plan.json", "{"), "")
	assert.True(t, tgerrors.HasCode(err, tgerrors.ErrCodeFileUnmarshal), "got %v", err)
}

func TestExecPlanner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	script := `read input; printf '%s\n' '` + "```json" + `' '[{"id":"a","tool":"echo"}]' '` + "```" + `'`
	p, err := NewExec("sh", "-c", script)
	require.NoError(t, err)

	specs, err := p.Plan(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "echo", specs[0].ToolName)

	failing, err := NewExec("sh", "-c", "echo 'model offline' >&2; exit 1")
	require.NoError(t, err)
	_, err = failing.Plan(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestExecPlannerDeadlineKillsChildProcesses(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p, err := NewExec("sh", "-c", "sleep 3; echo '[]'")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Plan(ctx, "anything")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second, "the sleeping child kept the planner alive")
}
