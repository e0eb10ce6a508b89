// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vetclinic/internal/config"
	"vetclinic/internal/domain"
	"vetclinic/internal/metrics"
	"vetclinic/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPServer struct {
	cfg      config.APIConfig
	bookings *service.BookingService
	ready    Pinger
	auth     *HTTPAuth
	limiter  *rateLimiter
	handler  http.Handler
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, bookings *service.BookingService, ready Pinger, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: bookings,
		ready:    ready,
		auth:     NewHTTPAuth(cfg.Auth),
		logger:   logger,
	}
	srv.limiter = newRateLimiter(cfg.RateLimit, srv.auth.header)
	srv.handler = srv.routes()

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.auth.Authenticate)
		api.Use(s.limiter.Middleware)

		api.With(s.auth.Require(permReadBookings)).Get("/services", s.handleServices)

		api.Route("/bookings", func(br chi.Router) {
			br.With(s.auth.Require(permWriteBookings)).Post("/", s.handleCreateBooking)
			br.With(s.auth.Require(permWriteBookings)).Post("/status", s.handleChangeStatus)
			br.With(s.auth.Require(permReadBookings)).Get("/{bookingID}", s.handleGetBooking)
			br.With(s.auth.Require(permWriteBookings)).Put("/{bookingID}", s.handleRescheduleBooking)
		})

		api.With(s.auth.Require(permReadBookings)).Get("/employees/{employeeID}/schedule", s.handleEmployeeSchedule)
		api.With(s.auth.Require(permReadBookings)).Get("/clients/{clientID}/pets/{petID}/bookings", s.handleClientPetBookings)

		api.Route("/stats", func(sr chi.Router) {
			sr.Use(s.auth.Require(permReadStats))
			sr.Get("/demand", s.handleDemandStats)
			sr.Get("/demand.xlsx", s.handleDemandExport)
		})
	})

	return r
}

// Handler is the routed handler, also used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

const requestIDHeader = "X-Request-ID"

type requestIDCtxKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDCtxKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncHTTP(route, strconv.Itoa(status))

		s.logger.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type errorResponse struct {
	Error    string         `json:"error"`
	Field    string         `json:"field,omitempty"`
	Conflict *conflictError `json:"conflict,omitempty"`
}

type conflictError struct {
	BookingID int64     `json:"booking_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// writeDomainError maps service errors to status codes.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var verr *domain.ValidationError
	var conflict *domain.SlotConflictError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Field = verr.Field
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
		resp.Conflict = &conflictError{
			BookingID: conflict.Existing.BookingID,
			Start:     conflict.Existing.Interval.Start,
			End:       conflict.Existing.Interval.End,
		}
	case errors.Is(err, domain.ErrSlotConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTransitionWindowClosed),
		errors.Is(err, domain.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		resp.Error = "schedule is busy, retry later"
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
