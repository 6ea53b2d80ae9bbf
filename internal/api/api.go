// Package api holds the JSON bodies exchanged between the taskgraph server
// and its clients.
package api

import (
	"errors"
	"time"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// SubmitRequest is the body of POST /v1/graphs. Without Tasks the server's
// planner decomposes Objective.
type SubmitRequest struct {
	Objective   string            `json:"objective"`
	Owner       string            `json:"owner,omitempty"`
	Tasks       []task.Spec       `json:"tasks,omitempty"`
	FailFast    *bool             `json:"fail_fast,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SubmitResponse acknowledges a started graph.
type SubmitResponse struct {
	GraphID string `json:"graph_id"`
	Status  string `json:"status"`
}

// GraphSummary is one row of a listing.
type GraphSummary struct {
	GraphID    string      `json:"graph_id"`
	Objective  string      `json:"objective"`
	Owner      string      `json:"owner,omitempty"`
	Status     run.Status  `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	Progress   float64     `json:"progress"`
	Nodes      run.Summary `json:"nodes"`
}

// Summarize condenses a record for listings.
func Summarize(r *run.Record) GraphSummary {
	return GraphSummary{
		GraphID:    r.GraphID,
		Objective:  r.Objective,
		Owner:      r.Owner,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
		Progress:   r.Progress(),
		Nodes:      r.Summarize(),
	}
}

// ListResponse is the body of GET /v1/graphs.
type ListResponse struct {
	Graphs []GraphSummary `json:"graphs"`
	Count  int            `json:"count"`
}

// ErrorResponse carries a coded error across the wire.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// NewErrorResponse describes err. Coded errors keep their code and
// suggestions so the client can rebuild them.
func NewErrorResponse(err error) ErrorResponse {
	var tgErr *tgerrors.TaskgraphError
	if errors.As(err, &tgErr) {
		msg := tgErr.Message
		if tgErr.Cause != nil {
			msg += ": " + tgErr.Cause.Error()
		}
		return ErrorResponse{Error: msg, Code: string(tgErr.Code), Suggestions: tgErr.Suggestions}
	}
	return ErrorResponse{Error: err.Error()}
}

// Err rebuilds the error a server reported.
func (r ErrorResponse) Err() error {
	if r.Code == "" {
		return tgerrors.New(tgerrors.ErrCodeAPIResponse, r.Error)
	}
	return tgerrors.New(tgerrors.ErrorCode(r.Code), r.Error).WithSuggestions(r.Suggestions...)
}
