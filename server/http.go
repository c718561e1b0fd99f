// Package server provides the HTTP surface of the content-drop service
// and wires the store, cache, limiters and sweeper together.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	contentdrop "github.com/wolfeidau/content-drop"
	"github.com/wolfeidau/content-drop/accesslog"
	"github.com/wolfeidau/content-drop/cache"
	"github.com/wolfeidau/content-drop/config"
	"github.com/wolfeidau/content-drop/expiry"
	"github.com/wolfeidau/content-drop/pool"
	"github.com/wolfeidau/content-drop/ratelimit"
	"github.com/wolfeidau/content-drop/store"
	"github.com/wolfeidau/content-drop/telemetry"
)

// Server is the HTTP server for the content-drop service.
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	ioPool      *pool.Pool
	store       *store.Store
	cache       *cache.Cache
	tokens      *contentdrop.TokenGenerator
	postLimiter *ratelimit.Limiter
	readLimiter *ratelimit.Limiter
	sweeper     *expiry.Sweeper
	access      *accesslog.Logger

	maxContentLength int64
	lifetime         time.Duration
	now              func() time.Time
}

// New creates a server with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := contentdrop.NewTokenGenerator(cfg.KeyLength)
	if err != nil {
		return nil, err
	}

	ioPool := pool.New(cfg.CorePoolSize)

	storeLogger := logger.With("component", "store")
	st, err := store.New(cfg.ContentPath, storeLogger)
	if err != nil {
		ioPool.Stop()
		return nil, fmt.Errorf("creating content store: %w", err)
	}

	contentCache := cache.New(cache.Config{
		MaxWeight: cfg.CacheMaxWeight(),
		IdleTTL:   cfg.CacheExpiry(),
		Pool:      ioPool,
		Logger:    logger.With("component", "cache"),
		Loader: func(key string) (*contentdrop.Content, error) {
			storeLogger.Info("loading record from disk", "key", key)
			return st.Load(key)
		},
	})

	sweeper := expiry.NewSweeper(st, expiry.Config{
		Interval: cfg.CacheExpiry(),
		Pool:     ioPool,
		Logger:   logger.With("component", "sweeper"),
	})

	access := accesslog.New(accesslog.Config{
		Logger:     logger.With("component", "access"),
		FilePath:   cfg.AccessLogPath,
		MaxSizeMb:  cfg.AccessLogMaxSizeMb,
		MaxBackups: cfg.AccessLogMaxBackups,
	})

	s := &Server{
		config:           cfg,
		logger:           logger,
		ioPool:           ioPool,
		store:            st,
		cache:            contentCache,
		tokens:           tokens,
		postLimiter:      ratelimit.New("post", cfg.PostRateLimitPeriod(), cfg.PostRateLimit, logger),
		readLimiter:      ratelimit.New("read", cfg.ReadRateLimitPeriod(), cfg.ReadRateLimit, logger),
		sweeper:          sweeper,
		access:           access,
		maxContentLength: cfg.MaxContentLength(),
		lifetime:         cfg.Lifetime(),
		now:              time.Now,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("POST /post", s.handlePost)
	mux.HandleFunc("OPTIONS /post", s.handleOptions("POST"))
	mux.HandleFunc("OPTIONS /", s.handleOptions("GET"))

	// Single-segment content keys; everything else lands on the
	// catch-all and gets the generic 404.
	mux.HandleFunc("GET /{key}", s.handleGet)
	mux.HandleFunc("/", s.handleNotFound)
}

// Start launches the background workers and serves HTTP. It blocks
// until the listener fails or the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.cache.Start()
	s.postLimiter.Start()
	s.readLimiter.Start()
	s.sweeper.Start(ctx)

	s.logger.Info("starting server", "address", s.config.Address())
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then stops the background workers.
// The I/O pool drains last so saves that outlived their responses still
// reach disk.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)

	s.sweeper.Stop()
	s.cache.Stop()
	s.postLimiter.Stop()
	s.readLimiter.Stop()
	s.ioPool.Stop()
	s.access.Stop()

	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address()
}

// loggingMiddleware logs HTTP requests with structured fields.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		telemetry.RecordHTTP(r.Context(), r.Method, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
// and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
