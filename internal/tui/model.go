// Package tui renders a live view of a running graph.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/taskgraph/internal/run"
)

// DefaultInterval is how often the watch model polls for a fresh record.
const DefaultInterval = 500 * time.Millisecond

// FetchFunc loads the current record of the watched graph.
type FetchFunc func(ctx context.Context) (*run.Record, error)

type keyMap struct {
	Quit    key.Binding
	Verbose key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
	Verbose: key.NewBinding(
		key.WithKeys("v"),
		key.WithHelp("v", "toggle results"),
	),
}

// Model watches one graph until it finishes or the user quits.
type Model struct {
	graphID  string
	fetch    FetchFunc
	interval time.Duration

	record   *run.Record
	lastErr  error
	spinner  spinner.Model
	verbose  bool
	width    int
	started  time.Time
	quitting bool
	detached bool
}

// recordMsg carries the result of one poll.
type recordMsg struct {
	record *run.Record
	err    error
}

// tickMsg schedules the next poll.
type tickMsg time.Time

// NewModel creates a watch model for graphID. A non-positive interval
// falls back to DefaultInterval.
func NewModel(graphID string, fetch FetchFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle
	return Model{
		graphID:  graphID,
		fetch:    fetch,
		interval: interval,
		spinner:  s,
		started:  time.Now(),
	}
}

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			m.detached = true
			return m, tea.Quit
		case key.Matches(msg, keys.Verbose):
			m.verbose = !m.verbose
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case recordMsg:
		m.lastErr = msg.err
		if msg.record != nil {
			m.record = msg.record
		}
		if m.record != nil && m.record.IsTerminal() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.tick()

	case tickMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the current record.
func (m Model) View() string {
	if m.record == nil {
		if m.lastErr != nil {
			return errorStyle.Render("✗ "+m.lastErr.Error()) + "\n"
		}
		return m.spinner.View() + " Waiting for graph " + m.graphID + "\n"
	}
	if m.quitting {
		return RenderReport(m.record, m.verbose)
	}
	return m.renderLive()
}

// Record returns the last record seen.
func (m Model) Record() *run.Record {
	return m.record
}

// Detached reports whether the user quit before the graph finished.
func (m Model) Detached() bool {
	return m.detached && (m.record == nil || !m.record.IsTerminal())
}

func (m Model) poll() tea.Cmd {
	fetch := m.fetch
	timeout := m.interval * 4
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		rec, err := fetch(ctx)
		return recordMsg{record: rec, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Watch runs the model on the terminal and returns the last record seen.
func Watch(ctx context.Context, graphID string, fetch FetchFunc, interval time.Duration) (*run.Record, error) {
	p := tea.NewProgram(NewModel(graphID, fetch, interval), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(Model)
	if !ok {
		return nil, nil
	}
	if m.Record() == nil {
		return nil, m.lastErr
	}
	return m.Record(), nil
}
