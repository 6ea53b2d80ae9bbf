package run

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// Summary counts nodes per state.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Summarize counts the record's nodes per state.
func (r *Record) Summarize() Summary {
	s := Summary{Total: len(r.Nodes)}
	for _, n := range r.Nodes {
		switch n.State {
		case task.StatePending:
			s.Pending++
		case task.StateReady:
			s.Ready++
		case task.StateRunning:
			s.Running++
		case task.StateSucceeded:
			s.Succeeded++
		case task.StateFailed:
			s.Failed++
		case task.StateSkipped:
			s.Skipped++
		case task.StateCancelled:
			s.Cancelled++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d succeeded, %d failed, %d skipped, %d cancelled, %d running",
		s.Succeeded, s.Total, s.Failed, s.Skipped, s.Cancelled, s.Running)
}

// Filter selects records for List.
type Filter struct {
	Owner string
	// Statuses, when non-empty, keeps only records in one of them.
	Statuses []Status
	// ActiveOnly keeps only running records.
	ActiveOnly bool
	// FinishedBefore, when non-zero, keeps only terminal records that
	// finished before it.
	FinishedBefore time.Time
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r *Record) bool {
	if f.Owner != "" && r.Owner != f.Owner {
		return false
	}
	if f.ActiveOnly && r.IsTerminal() {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.FinishedBefore.IsZero() {
		if !r.IsTerminal() || !r.FinishedAt.Before(f.FinishedBefore) {
			return false
		}
	}
	return true
}
