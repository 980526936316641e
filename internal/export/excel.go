package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"slotdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	gridSheet = "Расписание"
	listSheet = "Брони"
)

type BookingLister interface {
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
}

type ResourceLister interface {
	List(ctx context.Context, activeOnly bool) ([]*models.Resource, error)
}

// Exporter writes bookings for a period to an xlsx workbook: a day-by-resource
// grid and a flat list.
type Exporter struct {
	bookings  BookingLister
	resources ResourceLister
	dir       string
	logger    *zerolog.Logger
}

func NewExporter(bookings BookingLister, resources ResourceLister, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{bookings: bookings, resources: resources, dir: dir, logger: logger}
}

// DefaultRange returns the period exported when the caller gives none.
func DefaultRange(now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return day.AddDate(0, -models.DefaultExportRangeMonthsBefore, 0), day.AddDate(0, models.DefaultExportRangeMonthsAfter, 0)
}

// Export saves the workbook for [from, to) and returns the file path.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (string, error) {
	if !to.After(from) {
		return "", fmt.Errorf("export range end must be after start")
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	bookings, err := e.bookings.ListBookings(ctx, models.BookingFilter{From: from, To: to})
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %w", err)
	}
	resources, err := e.resources.List(ctx, false)
	if err != nil {
		return "", fmt.Errorf("error getting resources: %w", err)
	}

	f, err := Build(bookings, resources, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("Excel file created")
	return filePath, nil
}

// Build renders the workbook in memory. The caller closes it.
func Build(bookings []*models.Booking, resources []*models.Resource, from, to time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(gridSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(listSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}

	writeGrid(f, bookings, resources, from, to)
	writeList(f, bookings)

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeGrid(f *excelize.File, bookings []*models.Booking, resources []*models.Resource, from, to time.Time) {
	// Заголовок периода
	_ = f.SetCellValue(gridSheet, "A1", fmt.Sprintf("Период: %s - %s",
		from.Format("02.01.2006"), to.AddDate(0, 0, -1).Format("02.01.2006")))

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	resourceStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	cellStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})

	// Даты по колонкам
	dateCols := make(map[string]int)
	col := 2
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(gridSheet, cell, d.Format("02.01"))
		_ = f.SetCellStyle(gridSheet, cell, cell, headerStyle)
		dateCols[d.Format("2006-01-02")] = col
		col++
	}

	// Ресурсы по строкам
	rows := make(map[string]int)
	for i, r := range resources {
		row := 3 + i
		cell, _ := excelize.CoordinatesToCellName(1, row)
		name := r.Name
		if !r.IsActive {
			name += " (неактивен)"
		}
		_ = f.SetCellValue(gridSheet, cell, name)
		_ = f.SetCellStyle(gridSheet, cell, cell, resourceStyle)
		rows[r.Ref] = row
	}

	cells := make(map[string][]string)
	for _, b := range bookings {
		row, ok := rows[b.ResourceRef]
		if !ok {
			continue
		}
		col, ok := dateCols[dayKey(b.Window.Start, from.Location())]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(col, row)
		local := b.Window.In(from.Location())
		cells[cell] = append(cells[cell], fmt.Sprintf("%s %s-%s %s",
			statusIcon(b.Status), local.Start.Format("15:04"), local.End.Format("15:04"), b.Client.Name))
	}
	for cell, lines := range cells {
		_ = f.SetCellValue(gridSheet, cell, strings.Join(lines, "\n"))
		_ = f.SetCellStyle(gridSheet, cell, cell, cellStyle)
	}

	_ = f.SetColWidth(gridSheet, "A", "A", 25)
	if col > 2 {
		last, _ := excelize.ColumnNumberToName(col - 1)
		_ = f.SetColWidth(gridSheet, "B", last, 22)
		_ = f.MergeCell(gridSheet, "A1", last+"1")
	}
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(gridSheet, "A1", "A1", titleStyle)
}

var listHeaders = []string{"Номер", "Ресурс", "Начало", "Конец", "Клиент", "Телефон", "Email", "Статус", "Канал", "Комментарий"}

func writeList(f *excelize.File, bookings []*models.Booking) {
	_ = f.SetSheetRow(listSheet, "A1", &listHeaders)

	sorted := append([]*models.Booking(nil), bookings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Window.Start.Before(sorted[j].Window.Start) })

	for i, b := range sorted {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			b.BookingReference,
			b.ResourceRef,
			b.Window.Start.Format(time.RFC3339),
			b.Window.End.Format(time.RFC3339),
			b.Client.Name,
			b.Client.Phone,
			b.Client.Email,
			string(b.Status),
			b.Channel,
			b.Notes,
		}
		_ = f.SetSheetRow(listSheet, cell, &row)
	}
	_ = f.SetColWidth(listSheet, "A", "J", 20)
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func statusIcon(s models.Status) string {
	switch s {
	case models.StatusConfirmed, models.StatusCompleted:
		return "✅"
	case models.StatusPending:
		return "⏳"
	case models.StatusCancelled, models.StatusNoShow:
		return "❌"
	default:
		return "❓"
	}
}
