// Package client talks to a taskgraph server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/felixgeelhaar/taskgraph/internal/api"
	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/tool"
	"github.com/felixgeelhaar/taskgraph/internal/version"
)

// DefaultTimeout bounds one request when the caller's context has no
// deadline.
const DefaultTimeout = 30 * time.Second

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxTries sets how often idempotent requests are tried when the
// server is unreachable or answers 502, 503 or 504.
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, tgerrors.NewConfigInvalidError(fmt.Sprintf("server URL %q must look like http://host:port", baseURL))
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxTries:   3,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxTries == 0 {
		c.maxTries = 1
	}
	return c, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit starts a graph and returns its id.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (string, error) {
	var out api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/graphs", nil, req, &out); err != nil {
		return "", err
	}
	return out.GraphID, nil
}

// Status returns the graph's current record.
func (c *Client) Status(ctx context.Context, graphID string) (*run.Record, error) {
	var rec run.Record
	if err := c.do(ctx, http.MethodGet, "/v1/graphs/"+url.PathEscape(graphID), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns graph summaries matching filter. FinishedBefore is not
// supported over the API and is ignored.
func (c *Client) List(ctx context.Context, filter run.Filter) ([]api.GraphSummary, error) {
	q := url.Values{}
	if filter.Owner != "" {
		q.Set("owner", filter.Owner)
	}
	if len(filter.Statuses) > 0 {
		parts := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			parts[i] = string(s)
		}
		q.Set("status", strings.Join(parts, ","))
	}
	if filter.ActiveOnly {
		q.Set("active", strconv.FormatBool(true))
	}

	var out api.ListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/graphs", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Graphs, nil
}

// Cancel cancels a running graph and returns its final record.
func (c *Client) Cancel(ctx context.Context, graphID string) (*run.Record, error) {
	var rec run.Record
	if err := c.do(ctx, http.MethodPost, "/v1/graphs/"+url.PathEscape(graphID)+"/cancel", nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Archive deletes a finished graph's record.
func (c *Client) Archive(ctx context.Context, graphID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/graphs/"+url.PathEscape(graphID), nil, nil, nil)
}

// Tools lists the tools the server can run.
func (c *Client) Tools(ctx context.Context) ([]tool.Info, error) {
	var out []tool.Info
	if err := c.do(ctx, http.MethodGet, "/v1/tools", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ready reports whether the server's readiness probe passes.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/ready", nil, nil, nil)
}

// statusError is a non-2xx answer.
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func retryable(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return tgerrors.Wrap(tgerrors.ErrCodeFileMarshal, "failed to encode request", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	tries := c.maxTries
	if method != http.MethodGet {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.once(ctx, method, target, body, out)
		var se *statusError
		if errors.As(err, &se) && !retryable(se.code) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	return err
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return backoff.Permanent(tgerrors.Wrap(tgerrors.ErrCodeAPIResponse, "failed to build request", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return tgerrors.NewAPIUnreachableError(c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tgerrors.Wrap(tgerrors.ErrCodeAPIResponse, "failed to read response", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = fmt.Sprintf("server answered %s", resp.Status)
		}
		return &statusError{code: resp.StatusCode, err: apiErr.Err()}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(tgerrors.Wrap(tgerrors.ErrCodeAPIResponse, "failed to decode response", err))
	}
	return nil
}
