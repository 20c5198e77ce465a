package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/internal/tracing"
	"github.com/harun/docrelay/pkg/signing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:3001"
	DefaultTimeout        = 10 * time.Second
	DefaultMessageTimeout = 15 * time.Second

	maxResponseBody = 4 << 20
)

// Paths are the Processing Service endpoints the relay calls.
type Paths struct {
	Message    string `json:"message"`
	Ingest     string `json:"ingest"`
	Candidates string `json:"candidates"`
	Link       string `json:"link"`
}

// DefaultPaths returns the endpoint paths of the reference deployment.
func DefaultPaths() Paths {
	return Paths{
		Message:    "/message",
		Ingest:     "/process_whatsapp_pdf",
		Candidates: "/get_approved_requests_json",
		Link:       "/api/bot/link_receipt",
	}
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Secret         string
	Sign           bool
	Timeout        time.Duration
	MessageTimeout time.Duration
	Paths          Paths
	HTTPClient     *http.Client
	Metrics        *metrics.Metrics
}

// Client makes signed requests to the Processing Service.
type Client struct {
	baseURL string
	secret  string
	sign    bool
	timeout time.Duration
	msgTO   time.Duration
	paths   Paths
	http    *http.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// Response is a completed HTTP exchange.
type Response struct {
	Path   string
	Status int
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the body into v. A body that is not JSON yields a *ProtocolError.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &ProtocolError{Path: r.Path, Status: r.Status, Body: truncate(r.Body), Err: err}
	}
	return nil
}

// CheckStatus returns a *StatusError for non-2xx responses.
func (r *Response) CheckStatus() error {
	if r.OK() {
		return nil
	}
	return &StatusError{Path: r.Path, Status: r.Status, Body: truncate(r.Body)}
}

// New creates a client.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = DefaultMessageTimeout
	}
	if opts.Sign && opts.Secret == "" {
		return nil, fmt.Errorf("backend: signing enabled without a shared secret")
	}

	def := DefaultPaths()
	if opts.Paths.Message == "" {
		opts.Paths.Message = def.Message
	}
	if opts.Paths.Ingest == "" {
		opts.Paths.Ingest = def.Ingest
	}
	if opts.Paths.Candidates == "" {
		opts.Paths.Candidates = def.Candidates
	}
	if opts.Paths.Link == "" {
		opts.Paths.Link = def.Link
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		secret:  opts.Secret,
		sign:    opts.Sign,
		timeout: opts.Timeout,
		msgTO:   opts.MessageTimeout,
		paths:   opts.Paths,
		http:    httpClient,
		metrics: opts.Metrics,
		logger:  logger.With().Str("component", "backend").Logger(),
		now:     time.Now,
	}, nil
}

// Paths returns the configured endpoint paths.
func (c *Client) Paths() Paths {
	return c.paths
}

// Post serializes body once, signs those bytes and sends them.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backend: encode %s body: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, raw, c.timeoutFor(path))
}

// Get sends a signed GET with an empty body.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, c.timeoutFor(path))
}

func (c *Client) timeoutFor(path string) time.Duration {
	if path == c.paths.Message {
		return c.msgTO
	}
	return c.timeout
}

func (c *Client) do(ctx context.Context, method, path string, raw []byte, timeout time.Duration) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "docrelay/backend", "backend."+method,
		attribute.String("http.path", path),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id := tracing.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	if c.sign {
		env, err := signing.Sign(c.secret, raw, c.now())
		if err != nil {
			return nil, fmt.Errorf("backend: sign request: %w", err)
		}
		env.Apply(req.Header)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordBackend(path, "transport_error", time.Since(start))
		tracing.Fail(span, err, "transport error")
		return nil, &TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.metrics.RecordBackend(path, "transport_error", time.Since(start))
		tracing.Fail(span, err, "read response")
		return nil, &TransportError{Path: path, Err: err}
	}

	c.metrics.RecordBackend(path, strconv.Itoa(resp.StatusCode), time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Processing service call completed")

	return &Response{Path: path, Status: resp.StatusCode, Body: body}, nil
}
