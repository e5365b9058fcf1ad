package attendance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Attendance"

// ErrUnsupportedFormat is returned for uploads that are neither .csv nor .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported file format, expected .csv or .xlsx")

// ErrMissingColumns is returned when an import lacks Name, Date or Time.
var ErrMissingColumns = errors.New("file must contain Name, Date and Time columns")

// ExportXLSX writes the filtered records as a spreadsheet.
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer, f Filter) (int, error) {
	records, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}

	book := excelize.NewFile()
	defer book.Close()

	if err := book.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}
	if err := book.SetSheetRow(exportSheet, "A1", &[]any{"Name", "Date", "Time"}); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := book.SetSheetRow(exportSheet, cell, &[]any{r.Name, r.Date, r.Time}); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := book.SetColWidth(exportSheet, "A", "A", 24); err != nil {
		return 0, fmt.Errorf("set column width: %w", err)
	}

	if err := book.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return len(records), nil
}

// ImportResult reports the outcome of a bulk upload.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Import appends the records of an uploaded .csv or .xlsx file. Rows that
// already exist with the same name, date and time are skipped.
func (s *Service) Import(ctx context.Context, r io.Reader, filename string) (*ImportResult, error) {
	var (
		table [][]string
		err   error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		table, err = readCSV(r)
	case ".xlsx":
		table, err = readXLSX(r)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	incoming, skipped, err := recordsFromTable(table)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var added []Record
	_, err = s.table.AppendFunc(func(rows []database.Row) ([]database.Row, error) {
		seen := make(map[string]bool, len(rows))
		for _, row := range rows {
			seen[importKey(fromRow(row).normalized())] = true
		}
		var out []database.Row
		for _, rec := range incoming {
			key := importKey(rec)
			if seen[key] {
				skipped++
				continue
			}
			seen[key] = true
			added = append(added, rec)
			out = append(out, rec.row())
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("import attendance: %w", err)
	}

	for _, rec := range added {
		s.mirror.EnqueueAttendance(database.AttendanceRecord{
			Name: rec.Name, Date: rec.Date, Time: rec.Time, Source: database.SourceImport,
		})
	}
	return &ImportResult{Added: len(added), Skipped: skipped}, nil
}

func importKey(r Record) string {
	return r.Name + "\x00" + r.Date + "\x00" + r.Time
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// recordsFromTable maps a header row onto records. Rows without a name are
// counted as skipped.
func recordsFromTable(table [][]string) ([]Record, int, error) {
	if len(table) == 0 {
		return nil, 0, ErrMissingColumns
	}

	idx := map[string]int{}
	for i, h := range table[0] {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	nameCol, okName := idx["name"]
	dateCol, okDate := idx["date"]
	timeCol, okTime := idx["time"]
	if !okName || !okDate || !okTime {
		return nil, 0, ErrMissingColumns
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	var records []Record
	skipped := 0
	for _, row := range table[1:] {
		rec := parseRecord(cell(row, nameCol), cell(row, dateCol), cell(row, timeCol)).normalized()
		if rec.Name == "" {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}
