package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"slotdesk/internal/config"
	"slotdesk/internal/database"
	"slotdesk/internal/domain"
	"slotdesk/internal/export"
	"slotdesk/internal/locking"
	"slotdesk/internal/models"
	"slotdesk/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// monday is the fixed "now" of every test server.
var monday = time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC)

type testServer struct {
	ts        *httptest.Server
	scheduler *service.Scheduler
	resources *service.ResourceService
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	resources := service.NewResourceService(db, &logger)
	require.NoError(t, resources.Seed(context.Background(), []models.Resource{
		testResource("barber"), testResource("stylist"),
	}))

	now := func() time.Time { return monday }
	scheduler := service.NewScheduler(db, locking.NewMemoryLocker(time.Second), nil, nil,
		service.SchedulerOptions{Now: now}, &logger)
	exporter := export.NewExporter(scheduler, resources, t.TempDir(), &logger)

	srv := NewHTTPServer(cfg, scheduler, resources, exporter, &logger)
	srv.now = now

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, scheduler: scheduler, resources: resources}
}

func testResource(ref string) models.Resource {
	return models.Resource{
		Ref:      ref,
		Name:     ref,
		Kind:     models.ResourceService,
		Calendar: models.DefaultCalendar(),
		Timezone: "UTC",
		IsActive: true,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func bookingBody(ref string, start time.Time, minutes int) map[string]any {
	return map[string]any{
		"resource_ref": ref,
		"client":       map[string]string{"name": "Anna", "phone": "+79990000000"},
		"start":        start,
		"end":          start.Add(time.Duration(minutes) * time.Minute),
	}
}

func tuesday(hour int) time.Time {
	return time.Date(2030, 1, 8, hour, 0, 0, 0, time.UTC)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	resp := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestCreateAndGetBooking(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	resp := s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 30))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Booking](t, resp)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, models.ChannelWebsite, created.Channel)
	assert.NotEmpty(t, created.BookingReference)

	resp = s.do(t, http.MethodGet, "/api/v1/bookings/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Booking](t, resp)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.Window.Start.Equal(tuesday(10)))

	resp = s.do(t, http.MethodGet, "/api/v1/bookings/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateBooking_Rejections(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 60)).StatusCode)

	sunday := time.Date(2030, 1, 13, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		body   any
		status int
		kind   domain.Kind
	}{
		{"overlap", bookingBody("barber", tuesday(10).Add(30*time.Minute), 30), http.StatusConflict, domain.KindSlotConflict},
		{"closed day", bookingBody("barber", sunday, 30), http.StatusUnprocessableEntity, domain.KindClosedDay},
		{"after hours", bookingBody("barber", tuesday(19), 30), http.StatusUnprocessableEntity, domain.KindOutsideHours},
		{"past", bookingBody("barber", monday.AddDate(0, 0, -2).Add(3*time.Hour), 30), http.StatusUnprocessableEntity, domain.KindInPast},
		{"unknown resource", bookingBody("ghost", tuesday(10), 30), http.StatusNotFound, domain.KindNotFound},
		{"inverted window", bookingBody("barber", tuesday(12), -30), http.StatusBadRequest, domain.KindInvalidWindow},
		{"no client", map[string]any{"resource_ref": "barber", "start": tuesday(12)}, http.StatusBadRequest, domain.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/v1/bookings", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[errorBody](t, resp)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, Message(tt.kind), body.Error)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, s.ts.URL+"/api/v1/bookings", bytes.NewBufferString("{"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestBookingLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	created := decode[models.Booking](t, s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 30)))

	resp := s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusConfirmed, decode[models.Booking](t, resp).Status)

	resp = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/reschedule", map[string]any{"start": tuesday(14)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decode[models.Booking](t, resp)
	assert.True(t, moved.Window.Start.Equal(tuesday(14)))
	assert.Equal(t, 30, moved.Window.DurationMinutes())

	resp = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/reassign", map[string]any{"resource_ref": "stylist"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stylist", decode[models.Booking](t, resp).ResourceRef)

	resp = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/reassign", map[string]any{"resource_ref": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// not ended yet
	resp = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/no-show", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, domain.KindInvalidTransition, decode[errorBody](t, resp).Kind)

	resp = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusCancelled, decode[models.Booking](t, resp).Status)

	resp = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, domain.KindAlreadyFinalized, decode[errorBody](t, resp).Kind)
}

func TestListBookings(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	first := decode[models.Booking](t, s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 30)))
	s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(11), 30))
	s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("stylist", tuesday(10), 30))
	s.do(t, http.MethodPost, "/api/v1/bookings/"+first.ID+"/cancel", nil)

	type listResp struct {
		Bookings []models.Booking `json:"bookings"`
	}

	resp := s.do(t, http.MethodGet, "/api/v1/bookings?resource=barber", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[listResp](t, resp).Bookings, 2)

	resp = s.do(t, http.MethodGet, "/api/v1/bookings?resource=barber&status=pending,confirmed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[listResp](t, resp).Bookings, 1)

	resp = s.do(t, http.MethodGet, "/api/v1/bookings?from=2030-01-08&to=2030-01-09", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[listResp](t, resp).Bookings, 3)

	resp = s.do(t, http.MethodGet, "/api/v1/bookings?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/bookings?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAvailabilityEndpoint(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 60))

	resp := s.do(t, http.MethodGet, "/api/v1/availability?resource=barber&start=2030-01-08T11:00:00Z&end=2030-01-08T12:00:00Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[availabilityResponse](t, resp).Available)

	resp = s.do(t, http.MethodGet, "/api/v1/availability?resource=barber&start=2030-01-08T10:30:00Z&end=2030-01-08T11:30:00Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[availabilityResponse](t, resp)
	assert.False(t, body.Available)
	assert.Len(t, body.Bookings, 1)

	resp = s.do(t, http.MethodGet, "/api/v1/availability?resource=barber&start=2030-01-13T10:00:00Z&end=2030-01-13T11:00:00Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[availabilityResponse](t, resp)
	assert.False(t, body.Available)
	assert.Equal(t, domain.KindClosedDay, body.Reason)
	assert.Equal(t, Message(domain.KindClosedDay), body.Message)

	resp = s.do(t, http.MethodGet, "/api/v1/availability?resource=barber", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResourceEndpoints(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	type listResp struct {
		Resources []models.Resource `json:"resources"`
	}
	resp := s.do(t, http.MethodGet, "/api/v1/resources", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[listResp](t, resp).Resources, 2)

	resp = s.do(t, http.MethodGet, "/api/v1/resources/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	agent := testResource("agent-1")
	agent.Kind = models.ResourceAgent
	resp = s.do(t, http.MethodPost, "/api/v1/resources", agent)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/resources/agent-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ResourceAgent, decode[models.Resource](t, resp).Kind)

	resp = s.do(t, http.MethodPost, "/api/v1/resources/barber/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 30))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, domain.KindResourceInactive, decode[errorBody](t, resp).Kind)

	resp = s.do(t, http.MethodGet, "/api/v1/resources?all=true", nil)
	assert.Len(t, decode[listResp](t, resp).Resources, 3)

	resp = s.do(t, http.MethodPost, "/api/v1/resources/barber/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 30))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// an omitted is_active means active for a new resource and unchanged otherwise
	resp = s.do(t, http.MethodPost, "/api/v1/resources", map[string]any{"ref": "walkin", "name": "Walk-in"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.Resource](t, resp).IsActive)

	resp = s.do(t, http.MethodPost, "/api/v1/resources/walkin/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/v1/resources", map[string]any{"ref": "walkin", "name": "Walk-in desk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.Resource](t, resp)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "Walk-in desk", updated.Name)

	resp = s.do(t, http.MethodPost, "/api/v1/resources", map[string]any{"ref": "walkin", "name": "Walk-in desk", "is_active": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.Resource](t, resp).IsActive)
}

func TestBlockEndpoints(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	resp := s.do(t, http.MethodPost, "/api/v1/resources/barber/blocks", map[string]any{
		"start":  tuesday(12),
		"end":    tuesday(14),
		"reason": models.BlockMaintenance,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	block := decode[models.AvailabilityBlock](t, resp)
	assert.NotZero(t, block.ID)

	resp = s.do(t, http.MethodGet, "/api/v1/resources/barber/blocks?from=2030-01-08&to=2030-01-09", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	type listResp struct {
		Blocks []models.AvailabilityBlock `json:"blocks"`
	}
	assert.Len(t, decode[listResp](t, resp).Blocks, 1)

	resp = s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(13), 30))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/resources/ghost/blocks", map[string]any{"start": tuesday(12), "end": tuesday(14)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody("barber", tuesday(10), 30))

	resp := s.do(t, http.MethodGet, "/api/v1/bookings/export?from=2030-01-07&to=2030-01-13", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_2030-01-07_to_2030-01-14.xlsx")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("PK")))

	resp = s.do(t, http.MethodGet, "/api/v1/bookings/export?from=2030-01-13&to=2030-01-07", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerAuth(t *testing.T) {
	s := newTestServer(t, authConfig())

	req, err := http.NewRequest(http.MethodGet, s.ts.URL+"/api/v1/bookings", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "reader")
	req.Header.Set("x-api-extra", "r-extra")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/bookings", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
