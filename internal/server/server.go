// Package server exposes the recorder over a local HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/catalog"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/recorder"
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

// Recorder is the command surface of the recorder loop.
type Recorder interface {
	Submit(cmd recorder.Command) error
	Status(ctx context.Context) (models.Status, error)
}

// Consents issues single-use capture tokens.
type Consents interface {
	Issue() (string, time.Time)
}

// Projections can end the live capture from outside the recorder.
type Projections interface {
	StopActive() bool
}

// Prefs is the preference and grant store.
type Prefs interface {
	GetString(ctx context.Context, key string) (string, error)
	PutString(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	PutGrant(ctx context.Context, g prefs.Grant) error
	RevokeGrant(ctx context.Context, handle string) error
	ListGrants(ctx context.Context) ([]prefs.Grant, error)
}

// Catalog lists finalization records.
type Catalog interface {
	List(ctx context.Context, limit int) ([]catalog.Record, error)
	Latest(ctx context.Context) (catalog.Record, error)
}

// SystemInfo reports host and encoder facts.
type SystemInfo func(ctx context.Context) models.SystemInfo

type Deps struct {
	Recorder    Recorder
	Consents    Consents
	Projections Projections
	Prefs       Prefs
	Storage     storage.Storage
	Catalog     Catalog
	Hub         *Hub
	System      SystemInfo
	DirectDir   string
}

type Server struct {
	addr   string
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

func New(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps, logger: log.WithComponent("api"), now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(600, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{Error: "rate limit exceeded"})
			}),
		))

		r.Post("/recorder/start", s.handleStart)
		r.Post("/recorder/{command}", s.handleCommand)
		r.Get("/recorder/status", s.handleStatus)

		r.Post("/capture/consent", s.handleConsent)
		r.Delete("/capture/projection", s.handleRevokeProjection)

		r.Get("/location", s.handleGetLocation)
		r.Put("/location", s.handleSetLocation)
		r.Get("/grants", s.handleListGrants)
		r.Post("/grants", s.handleGrant)
		r.Delete("/grants", s.handleRevokeGrant)

		r.Get("/recordings", s.handleRecordings)
		r.Get("/recordings/last", s.handleLastRecording)

		r.Get("/system", s.handleSystem)
		if s.deps.Hub != nil {
			r.Get("/events", s.deps.Hub.ServeHTTP)
		}
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", s.now().Sub(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := models.ErrorResponse{Error: err.Error()}
	if kind, ok := failure.KindOf(err); ok {
		resp.Kind = string(kind)
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrQueueFull), errors.Is(err, recorder.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUnsupportedHandle):
		return http.StatusBadRequest
	case errors.Is(err, failure.PermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, failure.AlreadyRecording):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
