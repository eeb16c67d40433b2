// Package api exposes the gate's control surface over HTTP: starting and
// resetting sessions, supervisor overrides, manual scans, frame upload and
// connection status.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/tagbridge"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/otel"
)

// GateEngine is the subset of the verification engine the API drives.
type GateEngine interface {
	Start(ctx context.Context, gateID, siteID string) (uuid.UUID, error)
	Snapshot() (gate.SessionSnapshot, bool)
	Reset(ctx context.Context)
	Override(ctx context.Context, reason, operator string) (gate.AuditRecord, error)
}

// ManualScanner turns operator key presses into scan events.
type ManualScanner interface {
	PressKey(ctx context.Context, key string) error
}

// TagBridge is the tag reader client as seen by the API.
type TagBridge interface {
	ConnectionState() tagbridge.ConnectionState
	RequestScanStart(ctx context.Context) (bool, error)
}

// FrameSink stores uploaded camera frames.
type FrameSink interface {
	Put(frame gate.Frame)
}

// AuditLister lists persisted override records.
type AuditLister interface {
	ListOverrides(ctx context.Context, gateID string, limit int) ([]gate.AuditRecord, error)
}

// Config carries the API's static settings.
type Config struct {
	Addr string
	// GateID and SiteID are used when a start request names neither.
	GateID string
	SiteID string
	// MaxFrameBytes caps uploaded frames; zero means DefaultMaxFrameBytes.
	MaxFrameBytes int64
}

// DefaultMaxFrameBytes caps frame uploads.
const DefaultMaxFrameBytes = 8 << 20

// Deps groups the collaborators behind the routes.
type Deps struct {
	Engine GateEngine
	Manual ManualScanner
	Tag    TagBridge
	Frames FrameSink
	Audits AuditLister
	// Ready gates /v1/readiness; nil means always ready.
	Ready *atomic.Bool
}

// Server is the chi-based control API.
type Server struct {
	cfg      Config
	deps     Deps
	router   *chi.Mux
	validate *validator.Validate

	logger  *logger.Logger
	metrics APIMetrics
	tracer  trace.Tracer
}

// NewServer builds the router. Start serves it.
func NewServer(cfg Config, deps Deps, log *logger.Logger, metrics APIMetrics, tracer trace.Tracer) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}

	r := chi.NewRouter()

	log = log.With("component", "api")
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(tracer))
	r.Use(loggerMiddleware(log, metrics))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		router:   r,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log,
		metrics:  metrics,
		tracer:   tracer,
	}

	s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func loggerMiddleware(log *logger.Logger, metrics APIMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				route := r.URL.Path
				if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				metrics.IncRequestsTotal(ctx, r.Method, route, status)
				metrics.ObserveRequestDuration(ctx, r.Method, route, time.Since(start))
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleStartSession)
			r.Get("/current", s.handleCurrentSession)
			r.Delete("/current", s.handleResetSession)
			r.Post("/current/override", s.handleOverride)
		})

		r.Get("/overrides", s.handleListOverrides)

		r.Post("/scans/manual", s.handleManualScan)
		r.Post("/scans/start", s.handleScanStart)
		r.Post("/frames", s.handleFrame)

		r.Get("/tag/connection", s.handleTagConnection)
	})
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr, "service", "gate-api")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
