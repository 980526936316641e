package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"slotdesk/internal/domain"
	"slotdesk/internal/export"
	"slotdesk/internal/models"
	"slotdesk/internal/service"
)

const dateLayout = "2006-01-02"

type createBookingRequest struct {
	ResourceRef      string            `json:"resource_ref"`
	SubjectRef       string            `json:"subject_ref"`
	Client           models.ClientInfo `json:"client"`
	Start            time.Time         `json:"start"`
	End              time.Time         `json:"end"`
	Notes            string            `json:"notes"`
	Channel          string            `json:"channel"`
	BookingReference string            `json:"booking_reference"`
}

type rescheduleRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type reassignRequest struct {
	ResourceRef string `json:"resource_ref"`
}

type blockRequest struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
	Notes  string    `json:"notes"`
}

type availabilityResponse struct {
	Available bool                        `json:"available"`
	Reason    domain.Kind                 `json:"reason,omitempty"`
	Message   string                      `json:"message,omitempty"`
	Bookings  []*models.Booking           `json:"bookings,omitempty"`
	Blocks    []*models.AvailabilityBlock `json:"blocks,omitempty"`
}

// parseTime accepts RFC 3339 or a bare date, which means UTC midnight.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q; expected RFC 3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Channel == "" {
		req.Channel = models.ChannelWebsite
	}

	b, err := s.bookings.Create(r.Context(), service.CreateInput{
		ResourceRef:      req.ResourceRef,
		SubjectRef:       req.SubjectRef,
		Client:           req.Client,
		Window:           models.Window{Start: req.Start, End: req.End},
		Notes:            req.Notes,
		Channel:          req.Channel,
		BookingReference: req.BookingReference,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := models.BookingFilter{ResourceRef: strings.TrimSpace(q.Get("resource")), From: from, To: to}
	for _, st := range splitCSV(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, models.Status(st))
	}

	bookings, err := s.bookings.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := s.bookings.Reschedule(r.Context(), r.PathValue("id"), service.RescheduleInput{Start: req.Start, End: req.End})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := s.bookings.Reassign(r.Context(), r.PathValue("id"), req.ResourceRef)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type transitionFunc func(ctx context.Context, id string) (*models.Booking, error)

func (s *HTTPServer) handleTransition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fn(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := strings.TrimSpace(q.Get("resource"))
	if ref == "" {
		writeError(w, http.StatusBadRequest, "resource is required")
		return
	}
	start, err := parseTime(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.IsZero() || end.IsZero() {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}

	res, err := s.bookings.CheckAvailability(r.Context(), ref, models.Window{Start: start, End: end}, q.Get("exclude"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := availabilityResponse{
		Available: res.Available,
		Reason:    res.Reason,
		Bookings:  res.Conflicts.Bookings,
		Blocks:    res.Conflicts.Blocks,
	}
	if res.Reason != "" {
		resp.Message = Message(res.Reason)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "export is not configured")
		return
	}

	from, to := export.DefaultRange(s.now())
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
			return
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
			return
		}
		// the date is inclusive
		to = t.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	path, err := s.exporter.Export(r.Context(), from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) handleListResources(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	resources, err := s.resources.List(r.Context(), activeOnly)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if resources == nil {
		resources = []*models.Resource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (s *HTTPServer) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.resources.Get(r.Context(), r.PathValue("ref"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// upsertResourceRequest tells an omitted is_active apart from false.
type upsertResourceRequest struct {
	models.Resource
	IsActive *bool `json:"is_active"`
}

// handleUpsertResource keeps the stored active flag when the body omits it;
// new resources default to active.
func (s *HTTPServer) handleUpsertResource(w http.ResponseWriter, r *http.Request) {
	var req upsertResourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res := req.Resource
	switch {
	case req.IsActive != nil:
		res.IsActive = *req.IsActive
	case res.Ref != "":
		existing, err := s.resources.Get(r.Context(), res.Ref)
		switch {
		case err == nil:
			res.IsActive = existing.IsActive
		case errors.Is(err, domain.ErrNotFound):
			res.IsActive = true
		default:
			s.writeDomainError(w, r, err)
			return
		}
	}
	if err := s.resources.Upsert(r.Context(), &res); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSetResourceActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := r.PathValue("ref")
		var err error
		if active {
			err = s.resources.Activate(r.Context(), ref)
		} else {
			err = s.resources.Deactivate(r.Context(), ref)
		}
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ref": ref, "is_active": active})
	}
}

func (s *HTTPServer) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blocks, err := s.resources.ListBlocks(r.Context(), r.PathValue("ref"), from, to)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []*models.AvailabilityBlock{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (s *HTTPServer) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	block := &models.AvailabilityBlock{
		ResourceRef: r.PathValue("ref"),
		Window:      models.Window{Start: req.Start, End: req.End},
		Reason:      req.Reason,
		Notes:       req.Notes,
	}
	if err := s.resources.AddBlock(r.Context(), block); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}
