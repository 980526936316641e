package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetsTimeLayout = "2006-01-02 15:04:05"
	// sheetsLastColumn is the column of the final value in sheetsRow.
	sheetsLastColumn = "K"
)

var errRowNotFound = errors.New("booking row not found")

// SheetsSender mirrors bookings into a spreadsheet, one row per booking keyed
// by booking ID in column A. Each event overwrites the row with the latest
// snapshot.
type SheetsSender struct {
	service       *sheets.Service
	spreadsheetID string
	sheet         string

	// mu serializes lookup and append so one booking never gets two rows.
	mu       sync.Mutex
	rowCache map[string]int
}

// NewSheetsSender authenticates with a service account credentials file.
func NewSheetsSender(ctx context.Context, credentialsFile, spreadsheetID, sheet string) (*SheetsSender, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets: read credentials: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(raw, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return NewSheetsSenderWithService(srv, spreadsheetID, sheet), nil
}

func NewSheetsSenderWithService(srv *sheets.Service, spreadsheetID, sheet string) *SheetsSender {
	if sheet == "" {
		sheet = "Bookings"
	}
	return &SheetsSender{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		rowCache:      make(map[string]int),
	}
}

func (s *SheetsSender) Name() string { return "google_sheets" }

func (s *SheetsSender) Send(ctx context.Context, msg Message) error {
	id := msg.Booking.BookingID
	if id == "" {
		return errors.New("sheets: message has no booking id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values := &sheets.ValueRange{Values: [][]interface{}{sheetsRow(msg)}}

	row, err := s.findRow(ctx, id)
	if errors.Is(err, errRowNotFound) {
		return s.append(ctx, id, values)
	}
	if err != nil {
		return err
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", s.sheet, row, sheetsLastColumn, row)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, values).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: update row %d: %w", row, err)
	}
	return nil
}

func (s *SheetsSender) append(ctx context.Context, id string, values *sheets.ValueRange) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheet+"!A:"+sheetsLastColumn, values).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: append: %w", err)
	}
	if resp.Updates != nil {
		if n, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.rowCache[id] = n
		}
	}
	return nil
}

// findRow returns the 1-based row of the booking, consulting the cache first.
func (s *SheetsSender) findRow(ctx context.Context, id string) (int, error) {
	if row, ok := s.rowCache[id]; ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheets: read ids: %w", err)
	}
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if v, ok := row[0].(string); ok && v != "" {
			s.rowCache[v] = i + 1
		}
	}
	if row, ok := s.rowCache[id]; ok {
		return row, nil
	}
	return 0, errRowNotFound
}

func sheetsRow(msg Message) []interface{} {
	b := msg.Booking
	return []interface{}{
		b.BookingID,
		b.BookingReference,
		b.ResourceRef,
		b.Start.UTC().Format(sheetsTimeLayout),
		b.End.UTC().Format(sheetsTimeLayout),
		b.Status,
		b.ClientName,
		b.ClientPhone,
		b.ClientEmail,
		msg.Event,
		msg.SentAt.UTC().Format(sheetsTimeLayout),
	}
}

// rowFromRange extracts the first row number of an A1 range like "Bookings!A10:K10".
func rowFromRange(rng string) (int, bool) {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[i+1:]
	}
	rng, _, _ = strings.Cut(rng, ":")
	digits := strings.TrimLeft(rng, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
