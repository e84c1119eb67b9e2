package export

import (
	"fmt"
	"io"
	"time"

	"taller/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetQueue     = "Queue"
	SheetDiscarded = "Discarded"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var queueHeaders = []string{"Seq", "ID", "Entity", "Operation", "Local ID", "Created", "Attempts", "Error kind", "Last error", "Last attempt", "Payload"}

// kindColors paints rows by the last recorded failure.
var kindColors = map[models.ErrorKind]string{
	models.ErrorKindTransient:     "#FFF2CC",
	models.ErrorKindPermanent:     "#F8CBAD",
	models.ErrorKindConfiguration: "#FCE4D6",
}

// FileName is the suggested download name for an export taken at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("sync_queue_%s.xlsx", now.UTC().Format("2006-01-02_150405"))
}

// WriteQueue renders the pending queue and the discarded archive as an xlsx workbook.
func WriteQueue(w io.Writer, entries []models.QueueEntry, discarded []models.DiscardedEntry, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetQueue)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(SheetDiscarded); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	header, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	rowStyles := make(map[models.ErrorKind]int, len(kindColors))
	for kind, color := range kindColors {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("create style: %w", err)
		}
		rowStyles[kind] = id
	}

	writeHeader(f, SheetQueue, queueHeaders, header)
	for i := range entries {
		writeEntry(f, SheetQueue, i+2, &entries[i], rowStyles)
	}

	discardedHeaders := append(append([]string{}, queueHeaders...), "Discarded")
	writeHeader(f, SheetDiscarded, discardedHeaders, header)
	for i := range discarded {
		row := i + 2
		writeEntry(f, SheetDiscarded, row, &discarded[i].QueueEntry, rowStyles)
		cell, _ := excelize.CoordinatesToCellName(len(discardedHeaders), row)
		_ = f.SetCellValue(SheetDiscarded, cell, formatTime(discarded[i].DiscardedAt))
	}

	summary := fmt.Sprintf("Exported %s: %d pending, %d discarded", formatTime(now), len(entries), len(discarded))
	cell, _ := excelize.CoordinatesToCellName(1, len(entries)+3)
	_ = f.SetCellValue(SheetQueue, cell, summary)

	for _, sheet := range []string{SheetQueue, SheetDiscarded} {
		_ = f.SetColWidth(sheet, "A", "A", 8)
		_ = f.SetColWidth(sheet, "B", "B", 38)
		_ = f.SetColWidth(sheet, "C", "J", 16)
		_ = f.SetColWidth(sheet, "K", "L", 40)
		_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, style)
}

func writeEntry(f *excelize.File, sheet string, row int, e *models.QueueEntry, styles map[models.ErrorKind]int) {
	var lastAttempt string
	if e.LastAttemptAt != nil {
		lastAttempt = formatTime(*e.LastAttemptAt)
	}
	values := []interface{}{
		e.Seq,
		e.ID,
		string(e.EntityType),
		string(e.Operation),
		e.LocalEntityID,
		formatTime(e.CreatedAt),
		e.Attempts,
		string(e.ErrorKind),
		e.LastError,
		lastAttempt,
		string(e.Payload),
	}
	start, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, start, &values)

	if style, ok := styles[e.ErrorKind]; ok {
		end, _ := excelize.CoordinatesToCellName(len(values), row)
		_ = f.SetCellStyle(sheet, start, end, style)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
