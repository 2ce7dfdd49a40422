// Package underwriting provides a client for the external underwriting API
// that computes BOE runs and stores deals, workspaces and overrides.
package underwriting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/resilience"
)

// DefaultBaseURL is the API root used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8000/v1"

// ActivityLimit is the number of activity events requested per deal.
const ActivityLimit = 50

// Client defines the underwriting API operations.
type Client interface {
	// ListRuns returns every BOE run recorded for a deal.
	ListRuns(ctx context.Context, dealID string) ([]model.Run, error)
	// GetRun fetches a single run including its tests.
	GetRun(ctx context.Context, dealID, runID string) (*model.Run, error)
	// CreateRun submits inputs for a new run. The engine computes outputs
	// and tests server-side.
	CreateRun(ctx context.Context, dealID string, inputs map[string]float64) (*model.Run, error)
	ListWorkspaces(ctx context.Context) ([]model.Workspace, error)
	UpdateWorkspaceEdition(ctx context.Context, workspaceID string, edition model.Edition) (*model.Workspace, error)
	GetDealSummary(ctx context.Context, workspaceID, dealID string) (*model.DealWorkspaceSummary, error)
	GetActivity(ctx context.Context, dealID string) ([]model.ActivityEvent, error)
	PostComment(ctx context.Context, dealID, body string) error
	// OverrideGate applies an admin override. The override is validated
	// locally before any request is sent.
	OverrideGate(ctx context.Context, dealID string, o model.Override) error
}

// Config is the explicit connection configuration for the client.
type Config struct {
	BaseURL string
	Tokens  TokenProvider
}

// StatusError is a non-transient HTTP failure (auth, not found, validation).
// It is never retried and never triggers a local fallback.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, strings.TrimSpace(e.Body))
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker overrides the breaker guarding the API.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a client for the API described by cfg.
func NewClient(cfg Config, opts ...Option) Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &httpClient{
		baseURL: base,
		tokens:  tokens,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one logical request through the breaker and retry policy and
// decodes a successful JSON body into out (when non-nil).
func (c *httpClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return eris.Wrapf(err, "%s: marshal request", op)
		}
	}

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(op)
	}
	// Writes are sent once: the server may have applied a request whose
	// response was lost, and a resend would duplicate the run or comment.
	if !idempotent(method) {
		retry.MaxAttempts = 1
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, retry, func(ctx context.Context) error {
			return c.attempt(ctx, op, method, path, payload, out)
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return resilience.NewNetworkError(op, err, 0)
	}
	return err
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func (c *httpClient) attempt(ctx context.Context, op, method, path string, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrapf(err, "%s: rate limit wait", op)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return eris.Wrapf(err, "%s: resolve token", op)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrapf(err, "%s: create request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrapf(ctx.Err(), "%s", op)
		}
		return resilience.NewNetworkError(op, err, 0)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resilience.NewNetworkError(op, eris.Wrap(readErr, "read response body"), resp.StatusCode)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewNetworkError(op, eris.Errorf("status %d: %s", resp.StatusCode, string(respBody)), resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(err, "%s: unmarshal response", op)
	}
	return nil
}

func (c *httpClient) ListRuns(ctx context.Context, dealID string) ([]model.Run, error) {
	var runs []model.Run
	path := fmt.Sprintf("/deals/%s/boe/runs", url.PathEscape(dealID))
	if err := c.do(ctx, "underwriting: list runs", http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []model.Run{}
	}
	model.SortRunsNewestFirst(runs)
	return runs, nil
}

func (c *httpClient) GetRun(ctx context.Context, dealID, runID string) (*model.Run, error) {
	var run model.Run
	path := fmt.Sprintf("/deals/%s/boe/runs/%s", url.PathEscape(dealID), url.PathEscape(runID))
	if err := c.do(ctx, "underwriting: get run", http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

type createRunRequest struct {
	Inputs map[string]float64 `json:"inputs"`
}

func (c *httpClient) CreateRun(ctx context.Context, dealID string, inputs map[string]float64) (*model.Run, error) {
	if inputs == nil {
		inputs = map[string]float64{}
	}
	var run model.Run
	path := fmt.Sprintf("/deals/%s/boe/runs", url.PathEscape(dealID))
	if err := c.do(ctx, "underwriting: create run", http.MethodPost, path, createRunRequest{Inputs: inputs}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *httpClient) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	var ws []model.Workspace
	if err := c.do(ctx, "underwriting: list workspaces", http.MethodGet, "/workspaces", nil, &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *httpClient) UpdateWorkspaceEdition(ctx context.Context, workspaceID string, edition model.Edition) (*model.Workspace, error) {
	if edition != model.EditionSyndicator && edition != model.EditionFund {
		return nil, &gate.ValidationError{Field: "edition", Message: "must be one of SYNDICATOR, FUND"}
	}
	var ws model.Workspace
	path := fmt.Sprintf("/workspaces/%s/edition", url.PathEscape(workspaceID))
	body := map[string]model.Edition{"edition": edition}
	if err := c.do(ctx, "underwriting: update workspace edition", http.MethodPatch, path, body, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (c *httpClient) GetDealSummary(ctx context.Context, workspaceID, dealID string) (*model.DealWorkspaceSummary, error) {
	var s model.DealWorkspaceSummary
	path := fmt.Sprintf("/workspaces/%s/deals/%s/summary", url.PathEscape(workspaceID), url.PathEscape(dealID))
	if err := c.do(ctx, "underwriting: get deal summary", http.MethodGet, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *httpClient) GetActivity(ctx context.Context, dealID string) ([]model.ActivityEvent, error) {
	var events []model.ActivityEvent
	path := fmt.Sprintf("/deals/%s/activity?limit=%d", url.PathEscape(dealID), ActivityLimit)
	if err := c.do(ctx, "underwriting: get activity", http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *httpClient) PostComment(ctx context.Context, dealID, body string) error {
	if strings.TrimSpace(body) == "" {
		return &gate.ValidationError{Field: "body", Message: "comment required"}
	}
	path := fmt.Sprintf("/deals/%s/comments", url.PathEscape(dealID))
	return c.do(ctx, "underwriting: post comment", http.MethodPost, path, map[string]string{"body": body}, nil)
}

type overrideRequest struct {
	Status  model.OverrideStatus `json:"status"`
	Comment string               `json:"comment"`
}

func (c *httpClient) OverrideGate(ctx context.Context, dealID string, o model.Override) error {
	if st, ok := model.ParseOverrideStatus(string(o.Status)); ok {
		o.Status = st
	}
	if err := gate.ValidateOverride(o); err != nil {
		return err
	}
	path := fmt.Sprintf("/deals/%s/gate/override", url.PathEscape(dealID))
	req := overrideRequest{Status: o.Status, Comment: strings.TrimSpace(o.Comment)}
	return c.do(ctx, "underwriting: override gate", http.MethodPost, path, req, nil)
}
