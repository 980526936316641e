package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"slotdesk/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type sheetsCall struct {
	method string
	path   string
	values [][]interface{}
}

type fakeSheets struct {
	ids           [][]interface{}
	appendedRange string
	failReads     bool

	mu    sync.Mutex
	calls []sheetsCall
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := sheetsCall{method: r.Method, path: r.URL.Path}
	if r.Body != nil && r.Method != http.MethodGet {
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		call.values = vr.Values
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && f.failReads:
		http.Error(w, `{"error":{"code":500,"message":"backend error"}}`, http.StatusInternalServerError)
	case r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: f.ids})
	case strings.HasSuffix(r.URL.Path, ":append"):
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: f.appendedRange},
		})
	default:
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	}
}

func (f *fakeSheets) recorded() []sheetsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sheetsCall(nil), f.calls...)
}

func newSheetsSender(t *testing.T, fake *fakeSheets) *SheetsSender {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	return NewSheetsSenderWithService(srv, "sheet_id", "")
}

func TestSheetsSender_AppendsThenUpdates(t *testing.T) {
	fake := &fakeSheets{ids: [][]interface{}{{"ID"}, {"other"}}, appendedRange: "Bookings!A3:K3"}
	s := newSheetsSender(t, fake)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, testMessage()))

	msg := testMessage()
	msg.Event = events.EventBookingConfirmed
	msg.Booking.Status = "confirmed"
	require.NoError(t, s.Send(ctx, msg))

	calls := fake.recorded()
	require.Len(t, calls, 3)

	assert.Equal(t, http.MethodGet, calls[0].method)
	assert.Equal(t, "/v4/spreadsheets/sheet_id/values/Bookings!A:A", calls[0].path)

	assert.Equal(t, http.MethodPost, calls[1].method)
	assert.Equal(t, "/v4/spreadsheets/sheet_id/values/Bookings!A:K:append", calls[1].path)
	require.Len(t, calls[1].values, 1)
	assert.Equal(t, "b1", calls[1].values[0][0])
	assert.Equal(t, "2030-01-08 10:00:00", calls[1].values[0][3])
	assert.Equal(t, events.EventBookingCreated, calls[1].values[0][9])

	// the appended row is cached, so the update needs no second lookup
	assert.Equal(t, http.MethodPut, calls[2].method)
	assert.Equal(t, "/v4/spreadsheets/sheet_id/values/Bookings!A3:K3", calls[2].path)
	assert.Equal(t, "confirmed", calls[2].values[0][5])
	assert.Equal(t, "google_sheets", s.Name())
}

func TestSheetsSender_UpdatesExistingRow(t *testing.T) {
	fake := &fakeSheets{ids: [][]interface{}{{"ID"}, {"x"}, {}, {"b1"}}}
	s := newSheetsSender(t, fake)

	require.NoError(t, s.Send(context.Background(), testMessage()))

	calls := fake.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPut, calls[1].method)
	assert.Equal(t, "/v4/spreadsheets/sheet_id/values/Bookings!A4:K4", calls[1].path)
}

func TestSheetsSender_Errors(t *testing.T) {
	s := newSheetsSender(t, &fakeSheets{failReads: true})
	err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read ids")

	msg := testMessage()
	msg.Booking.BookingID = ""
	assert.Error(t, s.Send(context.Background(), msg))
}

func TestRowFromRange(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"Bookings!A10:K10", 10, true},
		{"'My Sheet'!B7", 7, true},
		{"A2:K2", 2, true},
		{"Bookings!A:K", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := rowFromRange(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
