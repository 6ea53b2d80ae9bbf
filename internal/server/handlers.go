package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/felixgeelhaar/taskgraph/internal/api"
	"github.com/felixgeelhaar/taskgraph/internal/engine"
	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/health"
	"github.com/felixgeelhaar/taskgraph/internal/run"
)

// badRequest is rendered as 400 with its message.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (s *Server) handleSubmit(c fiber.Ctx) error {
	var req api.SubmitRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest{"invalid request body: " + err.Error()}
	}
	if strings.TrimSpace(req.Objective) == "" && len(req.Tasks) == 0 {
		return badRequest{"objective or tasks is required"}
	}
	if req.MaxAttempts < 0 {
		return badRequest{"max_attempts must not be negative"}
	}

	var opts []engine.SubmitOption
	if req.Owner != "" {
		opts = append(opts, engine.WithOwner(req.Owner))
	}
	if len(req.Tasks) > 0 {
		opts = append(opts, engine.WithTasks(req.Tasks))
	}
	if req.FailFast != nil {
		opts = append(opts, engine.WithFailFast(*req.FailFast))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, engine.WithMaxAttempts(req.MaxAttempts))
	}
	for k, v := range req.Metadata {
		opts = append(opts, engine.WithMetadata(k, v))
	}

	id, err := s.engine.Submit(c.Context(), req.Objective, opts...)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderLocation, "/v1/graphs/"+id)
	return c.Status(http.StatusAccepted).JSON(api.SubmitResponse{GraphID: id, Status: string(run.StatusRunning)})
}

func (s *Server) handleList(c fiber.Ctx) error {
	filter := run.Filter{Owner: c.Query("owner")}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := run.Status(strings.TrimSpace(part))
			if !st.Valid() {
				return badRequest{"unknown status " + strconv.Quote(string(st))}
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest{"active must be a boolean"}
		}
		filter.ActiveOnly = active
	}

	records, err := s.engine.List(c.Context(), filter)
	if err != nil {
		return err
	}
	resp := api.ListResponse{Graphs: make([]api.GraphSummary, 0, len(records)), Count: len(records)}
	for _, r := range records {
		resp.Graphs = append(resp.Graphs, api.Summarize(r))
	}
	return c.JSON(resp)
}

func (s *Server) handleStatus(c fiber.Ctx) error {
	rec, err := s.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// handleCancel returns the record as it stands once the cancellation is
// final.
func (s *Server) handleCancel(c fiber.Ctx) error {
	id := c.Params("id")
	if err := s.engine.Cancel(c.Context(), id); err != nil {
		return err
	}
	rec, err := s.engine.Status(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleArchive(c fiber.Ctx) error {
	if err := s.engine.Archive(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) handleTools(c fiber.Ctx) error {
	if s.tools == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(s.tools.List())
}

func (s *Server) handleLiveness(c fiber.Ctx) error {
	return s.writeProbe(c, s.probes.CheckLiveness(c.Context()))
}

func (s *Server) handleReadiness(c fiber.Ctx) error {
	return s.writeProbe(c, s.probes.CheckReadiness(c.Context()))
}

func (s *Server) handleStartup(c fiber.Ctx) error {
	return s.writeProbe(c, s.probes.CheckStartup(c.Context()))
}

// writeProbe answers 503 only for unhealthy results; liveness never is.
func (s *Server) writeProbe(c fiber.Ctx, result *health.ProbeResult) error {
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.Status(status).JSON(result)
}

// handleError renders every error as an api.ErrorResponse.
func (s *Server) handleError(c fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed", "method", c.Method(), "path", c.Path())
	}
	return c.Status(status).JSON(api.NewErrorResponse(err))
}

// statusFor maps an error to an HTTP status by its code family.
func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var br badRequest
	if errors.As(err, &br) {
		return http.StatusBadRequest
	}

	code, ok := tgerrors.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case tgerrors.ErrCodeGraphNotFound:
		return http.StatusNotFound
	case tgerrors.ErrCodeGraphTerminal, tgerrors.ErrCodeGraphActive, tgerrors.ErrCodeGraphNotRunning:
		return http.StatusConflict
	case tgerrors.ErrCodeEngineStopped:
		return http.StatusServiceUnavailable
	case tgerrors.ErrCodePlanFailed:
		return http.StatusBadGateway
	}
	switch {
	case strings.HasPrefix(string(code), "BUILD-"), strings.HasPrefix(string(code), "PLAN-"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(string(code), "STORE-"):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
