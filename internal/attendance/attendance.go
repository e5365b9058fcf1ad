// Package attendance owns the attendance log: marking presence, listing with
// filters, daily status and spreadsheet export/import.
package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Service reads and appends the attendance log.
type Service struct {
	table  *database.Table
	mirror *database.AsyncMirror
	now    func() time.Time
}

// NewService creates a service over the given table. mirror may be nil.
func NewService(table *database.Table, mirror *database.AsyncMirror) *Service {
	return &Service{table: table, mirror: mirror, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// MarkPresent appends a record for name unless one already exists for the
// same calendar day. The check and append happen under one file lock.
// It returns the record for that day and whether it was newly created.
func (s *Service) MarkPresent(ctx context.Context, name string, at time.Time, source string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	rec := NewRecord(name, at)
	existing := rec

	n, err := s.table.AppendFunc(func(rows []database.Row) ([]database.Row, error) {
		for _, row := range rows {
			r := fromRow(row)
			if r.Name == rec.Name && sameDay(r, rec) {
				existing = r
				return nil, nil
			}
		}
		return []database.Row{rec.row()}, nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("mark attendance: %w", err)
	}

	if n == 0 {
		return existing, false, nil
	}

	s.mirror.EnqueueAttendance(database.AttendanceRecord{
		Name: rec.Name, Date: rec.Date, Time: rec.Time, Source: source,
	})
	return rec, true, nil
}

func sameDay(a, b Record) bool {
	if a.dayOK && b.dayOK {
		return a.day.Equal(b.day)
	}
	return a.Date == b.Date
}

// List returns the records matching f, most recent first.
func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.table.Rows()
	if err != nil {
		return nil, fmt.Errorf("read attendance: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		r := fromRow(row)
		if r.Name == "" {
			continue
		}
		if f.Match(r) {
			records = append(records, r)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].after(records[j])
	})
	return records, nil
}

// DayStatus describes attendance for the current day.
type DayStatus struct {
	Date     string   `json:"date"`
	Identity string   `json:"identity"`
	Status   string   `json:"status"`
	Count    int      `json:"count"`
	Recent   []Record `json:"recent"`
}

// Present and Absent are the dashboard status values.
const (
	Present = "Present"
	Absent  = "Absent"
)

// Today reports whether identity is present today, how many records exist
// for today, and the most recent log entries overall.
func (s *Service) Today(ctx context.Context, identity string) (*DayStatus, error) {
	all, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	now := s.now()
	status := &DayStatus{
		Date:     now.Format(constants.DateFormat),
		Identity: identity,
		Status:   Absent,
	}

	today := dateOnly(now)
	for _, r := range all {
		day, ok := r.Day()
		if !ok || !day.Equal(today) {
			continue
		}
		status.Count++
		if r.Name == identity {
			status.Status = Present
		}
	}

	limit := min(constants.DashboardRecentLogs, len(all))
	status.Recent = all[:limit]
	return status, nil
}

// DateCount is the number of records on one day.
type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// NameCount is the number of records for one person.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary aggregates the log for charts.
type Summary struct {
	Total    int         `json:"total"`
	ByDate   []DateCount `json:"by_date"`
	TopNames []NameCount `json:"top_names"`
}

// Summarize counts records per day (oldest first) and returns the most
// frequent names.
func (s *Service) Summarize(ctx context.Context, f Filter) (*Summary, error) {
	records, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]int)
	dayOf := make(map[string]time.Time)
	byName := make(map[string]int)
	for _, r := range records {
		byDate[r.Date]++
		if d, ok := r.Day(); ok {
			dayOf[r.Date] = d
		}
		byName[r.Name]++
	}

	summary := &Summary{Total: len(records)}
	for date, n := range byDate {
		summary.ByDate = append(summary.ByDate, DateCount{Date: date, Count: n})
	}
	sort.Slice(summary.ByDate, func(i, j int) bool {
		di, iok := dayOf[summary.ByDate[i].Date]
		dj, jok := dayOf[summary.ByDate[j].Date]
		if iok != jok {
			return iok
		}
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return summary.ByDate[i].Date < summary.ByDate[j].Date
	})

	for name, n := range byName {
		summary.TopNames = append(summary.TopNames, NameCount{Name: name, Count: n})
	}
	sort.Slice(summary.TopNames, func(i, j int) bool {
		if summary.TopNames[i].Count != summary.TopNames[j].Count {
			return summary.TopNames[i].Count > summary.TopNames[j].Count
		}
		return summary.TopNames[i].Name < summary.TopNames[j].Name
	})
	if len(summary.TopNames) > constants.SummaryTopNames {
		summary.TopNames = summary.TopNames[:constants.SummaryTopNames]
	}
	return summary, nil
}
