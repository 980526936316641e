package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slotdesk/internal/config"
	"slotdesk/internal/metrics"
	"slotdesk/internal/models"
	"slotdesk/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingService is the scheduler surface the HTTP API drives.
type BookingService interface {
	Create(ctx context.Context, in service.CreateInput) (*models.Booking, error)
	Reschedule(ctx context.Context, id string, in service.RescheduleInput) (*models.Booking, error)
	Cancel(ctx context.Context, id string) (*models.Booking, error)
	Complete(ctx context.Context, id string) (*models.Booking, error)
	Confirm(ctx context.Context, id string) (*models.Booking, error)
	MarkNoShow(ctx context.Context, id string) (*models.Booking, error)
	Reassign(ctx context.Context, id, newResourceRef string) (*models.Booking, error)
	CheckAvailability(ctx context.Context, resourceRef string, w models.Window, excludeID string) (*service.AvailabilityResult, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
}

type ResourceAdmin interface {
	List(ctx context.Context, activeOnly bool) ([]*models.Resource, error)
	Get(ctx context.Context, ref string) (*models.Resource, error)
	Upsert(ctx context.Context, r *models.Resource) error
	Activate(ctx context.Context, ref string) error
	Deactivate(ctx context.Context, ref string) error
	AddBlock(ctx context.Context, b *models.AvailabilityBlock) error
	ListBlocks(ctx context.Context, ref string, from, to time.Time) ([]*models.AvailabilityBlock, error)
}

type BookingExporter interface {
	Export(ctx context.Context, from, to time.Time) (string, error)
}

// HTTPServer exposes the scheduler over a JSON API.
type HTTPServer struct {
	cfg       config.APIConfig
	bookings  BookingService
	resources ResourceAdmin
	exporter  BookingExporter
	server    *http.Server
	auth      *HTTPAuth
	logger    zerolog.Logger
	now       func() time.Time
}

// NewHTTPServer wires routes. exporter may be nil, the export endpoint then answers 404.
func NewHTTPServer(cfg config.APIConfig, bookings BookingService, resources ResourceAdmin, exporter BookingExporter, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:       cfg,
		bookings:  bookings,
		resources: resources,
		exporter:  exporter,
		auth:      NewHTTPAuth(cfg),
		logger:    base,
		now:       time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	mux.HandleFunc("GET /api/v1/resources", srv.handleListResources)
	mux.HandleFunc("POST /api/v1/resources", srv.handleUpsertResource)
	mux.HandleFunc("GET /api/v1/resources/{ref}", srv.handleGetResource)
	mux.HandleFunc("POST /api/v1/resources/{ref}/activate", srv.handleSetResourceActive(true))
	mux.HandleFunc("POST /api/v1/resources/{ref}/deactivate", srv.handleSetResourceActive(false))
	mux.HandleFunc("GET /api/v1/resources/{ref}/blocks", srv.handleListBlocks)
	mux.HandleFunc("POST /api/v1/resources/{ref}/blocks", srv.handleAddBlock)

	mux.HandleFunc("GET /api/v1/availability", srv.handleAvailability)

	mux.HandleFunc("GET /api/v1/bookings", srv.handleListBookings)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/export", srv.handleExport)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/reschedule", srv.handleReschedule)
	mux.HandleFunc("POST /api/v1/bookings/{id}/reassign", srv.handleReassign)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleTransition(bookings.Cancel))
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", srv.handleTransition(bookings.Confirm))
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", srv.handleTransition(bookings.Complete))
	mux.HandleFunc("POST /api/v1/bookings/{id}/no-show", srv.handleTransition(bookings.MarkNoShow))

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
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

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const requestIDHeader = "X-Request-ID"

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// the mux fills Pattern on the shared request
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
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

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
