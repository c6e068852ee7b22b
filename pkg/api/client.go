package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/pfrun/pkg/logging"
	"github.com/psantana5/pfrun/pkg/metrics"
	"github.com/psantana5/pfrun/pkg/models"
	"github.com/psantana5/pfrun/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultBaseURL is where the backend listens when run locally
const DefaultBaseURL = "http://127.0.0.1:8000"

// DefaultTimeout bounds every request
const DefaultTimeout = 30 * time.Second

// Client talks to the job backend. Every call is a single attempt: failures
// are returned to the caller and never retried here.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tlsConfig  *tls.Config
	apiKey     string
	tracer     *tracing.Provider
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sends the key as a bearer token
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTLSConfig uses cfg for HTTPS requests and WSS streams
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
		c.httpClient.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithTracer wraps every call in a span
func WithTracer(p *tracing.Provider) Option {
	return func(c *Client) { c.tracer = p }
}

// WithMetrics records call counts and latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for request tracing at DEBUG
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", baseURL)
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		tracer: tracing.Noop(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured server URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// TLSConfig returns the TLS settings shared with the log stream, or nil
func (c *Client) TLSConfig() *tls.Config {
	return c.tlsConfig
}

// AuthHeader returns the headers every request carries, for the stream dial
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return h
}

// SubmitJob creates a job and returns its id
func (c *Client) SubmitJob(ctx context.Context, req *models.JobRequest) (string, error) {
	var resp models.JobSubmitResponse
	if err := c.do(ctx, "submit_job", http.MethodPost, "/jobs", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit response did not include a job id")
	}
	return resp.ID, nil
}

// ListJobs returns the most recent jobs, newest first
func (c *Client) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var jobs []models.Job
	if err := c.do(ctx, "list_jobs", http.MethodGet, "/jobs", q, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetStatus returns the current status of one job
func (c *Client) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, "get_status", http.MethodGet, jobPath(jobID, "status"), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetResults returns the output files of one job
func (c *Client) GetResults(ctx context.Context, jobID string) (*models.JobResults, error) {
	var res models.JobResults
	if err := c.do(ctx, "get_results", http.MethodGet, jobPath(jobID, "results"), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StopJob asks the backend to terminate a running job
func (c *Client) StopJob(ctx context.Context, jobID string) (*models.StopResponse, error) {
	var resp models.StopResponse
	if err := c.do(ctx, "stop_job", http.MethodPost, jobPath(jobID, "stop"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteJob removes a job and its files
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, "delete_job", http.MethodDelete, jobPath(jobID, ""), nil, nil, nil)
}

// StreamURL returns the WebSocket URL of a job's log stream
func (c *Client) StreamURL(jobID string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String() + jobPath(jobID, "stream")
}

func jobPath(jobID, action string) string {
	p := "/jobs/" + url.PathEscape(jobID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) (err error) {
	start := time.Now()
	ctx, span := c.tracer.StartSpan(ctx, "api."+op,
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	defer func() {
		if err != nil {
			tracing.SetError(ctx, err)
		}
		span.End()
		c.metrics.ObserveAPI(op, time.Since(start), err)
	}()

	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectHTTPHeaders(ctx, req)

	c.logger.Debug("API request", map[string]interface{}{"method": method, "path": path})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", strings.ReplaceAll(op, "_", " "), err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
