package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Record is one logged presence event.
type Record struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Time string `json:"time"`

	day   time.Time
	clock time.Time
	dayOK bool
}

var (
	dateLayouts = []string{constants.DateFormat, constants.QueryDateFormat, "02/01/2006", "2006/01/02"}
	timeLayouts = []string{constants.TimeFormat, "03:04 PM", "15:04:05", "15:04", "3:04:05 PM", "3:04 PM"}
)

// ParseDate accepts the stored DD-MM-YYYY layout plus a few common alternatives.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ParseClock accepts hh:mm:ss AM/PM, the older hh:mm AM/PM, and 24-hour times.
func ParseClock(s string) (time.Time, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// NewRecord formats a record for name at the given instant.
func NewRecord(name string, at time.Time) Record {
	return parseRecord(name, at.Format(constants.DateFormat), at.Format(constants.TimeFormat))
}

func parseRecord(name, date, clock string) Record {
	r := Record{Name: strings.TrimSpace(name), Date: strings.TrimSpace(date), Time: strings.TrimSpace(clock)}
	if d, err := ParseDate(r.Date); err == nil {
		r.day = d
		r.dayOK = true
	}
	if c, err := ParseClock(r.Time); err == nil {
		r.clock = c
	}
	return r
}

// normalized rewrites date and time into the stored layouts when they parse.
func (r Record) normalized() Record {
	if r.dayOK {
		r.Date = r.day.Format(constants.DateFormat)
	}
	if !r.clock.IsZero() {
		r.Time = r.clock.Format(constants.TimeFormat)
	}
	return r
}

// Day returns the parsed date and whether it could be parsed.
func (r Record) Day() (time.Time, bool) {
	return r.day, r.dayOK
}

func (r Record) row() database.Row {
	return database.Row{"Name": r.Name, "Date": r.Date, "Time": r.Time}
}

func fromRow(row database.Row) Record {
	return parseRecord(row["Name"], row["Date"], row["Time"])
}

// after reports whether r sorts before o in most-recent-first order.
func (r Record) after(o Record) bool {
	if r.dayOK != o.dayOK {
		return r.dayOK
	}
	if !r.day.Equal(o.day) {
		return r.day.After(o.day)
	}
	return r.clock.After(o.clock)
}
