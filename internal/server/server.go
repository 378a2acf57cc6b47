// Package server provides the HTTP API of the design-to-code service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/config"
	"github.com/jonathan/design2code/internal/generation"
	"github.com/jonathan/design2code/internal/jobs"
	"github.com/jonathan/design2code/internal/metrics"
	"github.com/jonathan/design2code/internal/server/middleware"
	"github.com/jonathan/design2code/internal/server/ratelimit"
	"github.com/jonathan/design2code/internal/types"
)

const shutdownTimeout = 30 * time.Second

// TokenStore keeps each user's design-source access token.
type TokenStore interface {
	Has(ctx context.Context, ownerID uuid.UUID) (bool, error)
	Get(ctx context.Context, ownerID uuid.UUID) (string, error)
	Put(ctx context.Context, ownerID uuid.UUID, token string) error
	Delete(ctx context.Context, ownerID uuid.UUID) error
}

// FigmaClient is the part of the design-source API the handlers call.
type FigmaClient interface {
	ValidateToken(ctx context.Context, token string) error
	FetchNodeImage(ctx context.Context, ownerID uuid.UUID, fileKey, nodeID, token string) (*types.NodeImage, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Generations *generation.Service
	Runner      *jobs.Runner
	Tokens      TokenStore
	Figma       FigmaClient
	Verifier    middleware.TokenValidator
	// Metrics is optional; when set every request is counted.
	Metrics *metrics.Middleware
	// Ping is optional; when set /health reports store reachability.
	Ping func(ctx context.Context) error
	// EventInterval overrides DefaultEventInterval.
	EventInterval time.Duration
	Now           func() time.Time
}

// Server represents the HTTP server
type Server struct {
	cfg         *config.Config
	deps        Deps
	handler     http.Handler
	httpServer  *http.Server
	rateLimiter *ratelimit.Limiter
	logger      *zap.SugaredLogger
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		cfg:         cfg,
		deps:        deps,
		rateLimiter: ratelimit.NewLimiter(ratelimit.FromConfig(cfg.RateLimit)),
		logger:      zap.S().Named("server"),
	}

	auth := middleware.AuthMiddleware(deps.Verifier)
	optional := middleware.OptionalAuth(deps.Verifier)
	authed := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/generate", authed(s.handleGenerate))
	mux.Handle("GET /api/generations/{id}/status", authed(s.handleStatus))
	mux.Handle("POST /api/generations/{id}/status", optional(http.HandlerFunc(s.handleKick)))
	mux.Handle("GET /api/generations/{id}/events", authed(s.handleEvents))
	mux.Handle("POST /api/generations/{id}/regenerate", authed(s.handleRegenerate))
	mux.Handle("POST /api/generations/{id}/cancel", authed(s.handleCancel))
	mux.Handle("GET /api/generations/{id}/bundle", authed(s.handleBundle))
	mux.Handle("GET /api/generations/{id}/export", authed(s.handleExport))
	mux.Handle("POST /api/export-zip", authed(s.handleExportZip))

	mux.Handle("GET /api/projects", authed(s.handleListProjects))
	mux.Handle("DELETE /api/projects/{id}", authed(s.handleDeleteProject))
	mux.Handle("GET /api/profiles", authed(s.handleListProfiles))
	mux.Handle("GET /api/figma-preview", authed(s.handleFigmaPreview))

	mux.HandleFunc("GET /api/cron/generation-worker", s.handleCron)
	mux.HandleFunc("POST /api/cron/generation-worker", s.handleCron)

	mux.Handle("GET /api/figma-token", authed(s.handleGetFigmaToken))
	mux.Handle("POST /api/figma-token", authed(s.handlePutFigmaToken))
	mux.Handle("DELETE /api/figma-token", authed(s.handleDeleteFigmaToken))

	var h http.Handler = mux
	if deps.Metrics != nil {
		h = deps.Metrics.Handler(h)
	}
	s.handler = s.withRateLimit(s.withLogging(s.withCORS(h)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // inline pipeline runs and event streams
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.rateLimiter.Stop()
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Infow("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	defer s.rateLimiter.Stop()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Infow("server stopped")
	return nil
}

// Close releases background resources of a server that was never started.
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.Server.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

// extractClientID identifies the client by remote IP.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Round(time.Second).Seconds())
		secs = max(secs, 1)
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	s.logger.Warnw("rate limit exceeded", "limit", info.Limit, "reset", info.ResetTime)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warnw("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes the error body for err.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && !errors.Is(err, ErrCronSecretMissing) {
		s.logger.Errorw("request failed", "error", err)
		message = "Internal error."
	}
	s.jsonResponse(w, status, map[string]string{"error": ErrorCode(err), "message": message})
}
