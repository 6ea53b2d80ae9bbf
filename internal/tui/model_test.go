package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

func sampleRecord(status run.Status) *run.Record {
	r := run.NewRecord("g-1", "build the site")
	a := task.NewNode(task.Spec{ID: "fetch", ToolName: "echo"}, 3)
	a.State = task.StateSucceeded
	a.AttemptCount = 1
	a.Result = []byte(`{"ok":true}`)
	b := task.NewNode(task.Spec{ID: "render", ToolName: "exec", DependsOn: []string{"fetch"}}, 3)
	b.State = task.StateRunning
	b.AttemptCount = 2
	r.AddNode(a)
	r.AddNode(b)
	if status.IsTerminal() {
		b.State = task.StateFailed
		b.Error = task.Errorf(task.KindToolFailure, "exit status 1")
		r.Finish(status, r.CreatedAt.Add(2*time.Second))
	}
	return r
}

func fetchOf(rec *run.Record, err error) FetchFunc {
	return func(context.Context) (*run.Record, error) { return rec, err }
}

func TestNewModelDefaults(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), 0)
	if m.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", m.interval, DefaultInterval)
	}
	if m.Record() != nil {
		t.Error("expected no record before the first poll")
	}
	if !strings.Contains(m.View(), "Waiting for graph g-1") {
		t.Errorf("View() = %q", m.View())
	}
}

func TestPollDeliversRecord(t *testing.T) {
	rec := sampleRecord(run.StatusRunning)
	m := NewModel("g-1", fetchOf(rec, nil), time.Millisecond)

	msg := m.poll()()
	got, ok := msg.(recordMsg)
	if !ok {
		t.Fatalf("poll() produced %T", msg)
	}
	if got.record != rec || got.err != nil {
		t.Errorf("poll() = %+v", got)
	}
}

func TestRunningRecordKeepsPolling(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)

	updated, cmd := m.Update(recordMsg{record: sampleRecord(run.StatusRunning)})
	m = updated.(Model)
	if m.quitting {
		t.Fatal("model quit while graph is running")
	}
	if cmd == nil {
		t.Fatal("expected a tick command")
	}

	view := m.View()
	for _, want := range []string{"build the site", "fetch", "render", "succeeded", "running", "2/3", "50%"} {
		if !strings.Contains(view, want) {
			t.Errorf("live view missing %q:\n%s", want, view)
		}
	}
}

func TestTerminalRecordQuits(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)

	updated, cmd := m.Update(recordMsg{record: sampleRecord(run.StatusPartiallyFailed)})
	m = updated.(Model)
	if !m.quitting {
		t.Fatal("expected model to quit once the graph finished")
	}
	if cmd == nil {
		t.Fatal("expected tea.Quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("command is not tea.Quit")
	}
	if m.Detached() {
		t.Error("a finished watch is not detached")
	}
	if !strings.Contains(m.View(), "PARTIALLY_FAILED") {
		t.Errorf("report missing status:\n%s", m.View())
	}
}

func TestPollErrorKeepsLastRecord(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)
	rec := sampleRecord(run.StatusRunning)

	updated, _ := m.Update(recordMsg{record: rec})
	updated, cmd := updated.(Model).Update(recordMsg{err: errors.New("connection refused")})
	m = updated.(Model)

	if m.Record() != rec {
		t.Error("poll failure dropped the last record")
	}
	if cmd == nil {
		t.Error("expected polling to continue after an error")
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Errorf("view does not show poll error:\n%s", m.View())
	}
}

func TestErrorBeforeFirstRecord(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)
	updated, _ := m.Update(recordMsg{err: errors.New("graph not found")})
	if !strings.Contains(updated.(Model).View(), "graph not found") {
		t.Errorf("View() = %q", updated.(Model).View())
	}
}

func TestQuitKeyDetaches(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)
	updated, _ := m.Update(recordMsg{record: sampleRecord(run.StatusRunning)})

	updated, cmd := updated.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = updated.(Model)
	if cmd == nil || !m.Detached() {
		t.Error("q should quit and detach from a running graph")
	}
}

func TestVerboseToggle(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)
	updated, _ := m.Update(recordMsg{record: sampleRecord(run.StatusRunning)})
	m = updated.(Model)
	if strings.Contains(m.View(), `{"ok":true}`) {
		t.Error("results shown before toggling verbose")
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("v")})
	if !strings.Contains(updated.(Model).View(), `{"ok":true}`) {
		t.Error("results hidden after toggling verbose")
	}
}

func TestWindowSize(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	if updated.(Model).width != 120 {
		t.Errorf("width = %d", updated.(Model).width)
	}
}

func TestTickPolls(t *testing.T) {
	m := NewModel("g-1", fetchOf(nil, nil), time.Millisecond)
	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick should trigger a poll")
	}
	if _, ok := cmd().(recordMsg); !ok {
		t.Error("tick command did not poll")
	}
}

func TestRenderReport(t *testing.T) {
	rec := sampleRecord(run.StatusPartiallyFailed)
	rec.Diagnostic = &run.Diagnostic{Kind: run.DiagnosticFailFast, Message: "stopped after first failure", NodeID: "render"}

	out := RenderReport(rec, false)
	for _, want := range []string{
		"PARTIALLY_FAILED",
		"graph g-1",
		"took 2s",
		"tool_failure: exit status 1",
		"1/2 succeeded, 1 failed",
		"fail_fast: stopped after first failure (node render)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReportEmptyGraph(t *testing.T) {
	rec := run.NewRecord("g-2", "nothing")
	rec.Finish(run.StatusSucceeded, rec.CreatedAt)
	out := RenderReport(rec, true)
	if !strings.Contains(out, "no tasks") || !strings.Contains(out, "SUCCEEDED") {
		t.Errorf("RenderReport() = %q", out)
	}
}
