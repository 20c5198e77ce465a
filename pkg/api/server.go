package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/internal/observability"
	"github.com/harun/docrelay/internal/tracing"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/delivery"
	"github.com/harun/docrelay/pkg/signing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultPort         = 3500
	DefaultHost         = "0.0.0.0"
	DefaultMaxBodyBytes = 50 << 20
)

// Deliverer performs outbound deliveries.
type Deliverer interface {
	SendToGroup(ctx context.Context, req delivery.GroupMessage) (chat.SentMessage, error)
	SendToUser(ctx context.Context, req delivery.UserMessage) (chat.SentMessage, error)
	ReplyToMessage(ctx context.Context, req delivery.ReplyMessage) (chat.SentMessage, error)
	Groups(ctx context.Context) ([]chat.Chat, error)
}

// ServerOptions configures the HTTP API.
type ServerOptions struct {
	Host                  string
	Port                  int
	APIKey                string
	IPAllowlist           []string
	TrustForwardedFor     bool
	RequireSignedRequests bool
	Secret                string
	SignatureWindow       time.Duration
	RateLimitPerMinute    int
	MaxBodyBytes          int64
	GuardGetGroups        bool
	CORSOrigins           []string

	// Audit receives gate rejections and delivery outcomes. Nil disables it.
	Audit *observability.AuditLogger
}

// Server is the outbound delivery HTTP server
type Server struct {
	options     ServerOptions
	server      *http.Server
	handler     http.Handler
	delivery    Deliverer
	allowlist   *IPAllowlist
	verifier    *signing.Verifier
	rateLimiter *RateLimiter
	schemas     validators
	cors        *corsPolicy
	metrics     *metrics.Metrics
	audit       *observability.AuditLogger
	logger      zerolog.Logger
	startTime   time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates the API server.
func NewServer(options ServerOptions, d Deliverer, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = DefaultPort
	}
	if options.Host == "" {
		options.Host = DefaultHost
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if options.SignatureWindow <= 0 {
		options.SignatureWindow = signing.DefaultWindow
	}
	if d == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if options.RequireSignedRequests && options.Secret == "" {
		return nil, fmt.Errorf("signed requests require a shared secret")
	}

	allowlist, err := ParseIPAllowlist(options.IPAllowlist)
	if err != nil {
		return nil, err
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{
		options:     options,
		delivery:    d,
		allowlist:   allowlist,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		schemas:     schemas,
		cors:        newCORSPolicy(options.CORSOrigins),
		metrics:     m,
		audit:       options.Audit,
		logger:      logger.With().Str("component", "api").Logger(),
		startTime:   time.Now(),
	}
	if options.RequireSignedRequests {
		s.verifier = signing.NewVerifier(options.Secret, options.SignatureWindow)
	}
	if options.APIKey == "" {
		s.logger.Warn().Msg("No API key configured; delivery endpoints will reject every request")
	}

	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	groups := http.HandlerFunc(s.handleGetGroups)
	if s.options.GuardGetGroups {
		mux.Handle("GET /get-groups", s.guarded(groups, false))
	} else {
		mux.Handle("GET /get-groups", s.ipOnly(groups))
	}

	mux.Handle("POST /send-to-group", s.guarded(http.HandlerFunc(s.handleSendToGroup), true))
	mux.Handle("POST /send-to-user", s.guarded(http.HandlerFunc(s.handleSendToUser), true))
	mux.Handle("POST /reply-to-message", s.guarded(http.HandlerFunc(s.handleReplyToMessage), true))

	return s.cors.wrap(s.track(mux))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Bool("signed_requests", s.options.RequireSignedRequests).
		Bool("ip_allowlist", !s.allowlist.Empty()).
		Msg("Starting HTTP API")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP API: %w", err)
	}
	return nil
}

// Stop rejects new requests, waits for in-flight ones and shuts the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP API")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP API: %w", err)
	}

	s.logger.Info().Msg("HTTP API stopped")
	return nil
}

// track adds request ids, spans, shutdown rejection and access logging.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "")
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = tracing.NewID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := tracing.WithRequestID(r.Context(), requestID)
		ctx, span := tracing.StartSpan(ctx, "docrelay/api", "api.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()

		logger := tracing.LoggerFromContext(ctx, s.logger)
		ctx = logger.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		event := logger.Info()
		if rec.status >= 500 {
			event = logger.Error()
		} else if rec.status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", clientIP(r, s.options.TrustForwardedFor)).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request completed")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ipOnly applies the IP allowlist alone.
func (s *Server) ipOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := clientIP(r, s.options.TrustForwardedFor); !s.allowlist.Allows(ip) {
			s.reject(w, r, ip, http.StatusForbidden, "forbidden_ip", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// guarded applies the rate limit, IP allowlist, API key and, for bodies,
// the signed envelope.
func (s *Server) guarded(next http.Handler, withBody bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, s.options.TrustForwardedFor)
		logger := zerolog.Ctx(r.Context())

		if ok, retry := s.rateLimiter.Allow(ip); !ok {
			secs := int((retry + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			logger.Warn().Str("ip", ip).Int("retryAfter", secs).Msg("Rate limit exceeded")
			s.reject(w, r, ip, http.StatusTooManyRequests, "rate_limited", "")
			return
		}
		if !s.allowlist.Allows(ip) {
			logger.Warn().Str("ip", ip).Msg("Request from address outside allowlist")
			s.reject(w, r, ip, http.StatusForbidden, "forbidden_ip", "")
			return
		}
		if !validAPIKey(s.options.APIKey, r.Header.Get("X-API-Key")) {
			s.reject(w, r, ip, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		if withBody {
			raw, err := readBody(w, r, s.options.MaxBodyBytes)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", err.Error())
				return
			}
			if s.verifier != nil {
				env, err := signing.FromHeader(r.Header)
				if err == nil {
					err = s.verifier.Verify(env, raw)
				}
				if err != nil {
					logger.Warn().Err(err).Str("ip", ip).Msg("Rejected request signature")
					s.reject(w, r, ip, http.StatusUnauthorized, "invalid_signature", err.Error())
					return
				}
			}
			r = r.WithContext(withRawBody(r.Context(), raw))
		}

		next.ServeHTTP(w, r)
	})
}

// reject answers a request stopped by a gate and audits it.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, ip string, status int, code, detail string) {
	s.audit.RecordSecurity(r.Context(), code, ip, map[string]any{"path": r.URL.Path})
	writeError(w, status, code, detail)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}
