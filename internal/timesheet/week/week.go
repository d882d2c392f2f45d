// Package week computes the canonical Monday-to-Sunday reporting week.
package week

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the wire format for date-only values.
const DateLayout = "2006-01-02"

// ErrInvalidBounds indicates a week that does not span Monday to Sunday.
var ErrInvalidBounds = errors.New("week: invalid week bounds")

// Period is a Monday-start reporting week. Start and End are date-only values in UTC.
type Period struct {
	Start  time.Time
	End    time.Time
	Number int
	Year   int
}

// BoundsError describes which bound of a period is wrong.
type BoundsError struct {
	Field  string
	Reason string
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("week: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidBounds.
func (e *BoundsError) Unwrap() error { return ErrInvalidBounds }

// Date truncates t to its calendar date in UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Canonical returns the week containing t.
func Canonical(t time.Time) Period {
	day := Date(t)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	year, number := Number(start)
	return Period{
		Start:  start,
		End:    start.AddDate(0, 0, 6),
		Number: number,
		Year:   year,
	}
}

// Number returns the ISO year and week of t. Week 1 is the week holding the
// year's first Thursday, so the ISO year can differ from the calendar year
// around New Year.
func Number(t time.Time) (year, number int) {
	return Date(t).ISOWeek()
}

// New builds a period from explicit bounds and rejects anything that is not
// a Monday-to-Sunday span.
func New(start, end time.Time) (Period, error) {
	p := Period{Start: Date(start), End: Date(end)}
	p.Year, p.Number = Number(p.Start)
	if err := Validate(p); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks the Monday/Sunday invariant and, when set, the week number and year.
func Validate(p Period) error {
	start, end := Date(p.Start), Date(p.End)
	if start.Weekday() != time.Monday {
		return &BoundsError{Field: "weekStartDate", Reason: "must be a Monday"}
	}
	if end.Weekday() != time.Sunday {
		return &BoundsError{Field: "weekEndDate", Reason: "must be a Sunday"}
	}
	if !end.Equal(start.AddDate(0, 0, 6)) {
		return &BoundsError{Field: "weekEndDate", Reason: "must be exactly 6 days after weekStartDate"}
	}
	year, number := Number(start)
	if p.Number != 0 && p.Number != number {
		return &BoundsError{Field: "weekNumber", Reason: fmt.Sprintf("must be %d for the given week", number)}
	}
	if p.Year != 0 && p.Year != year {
		return &BoundsError{Field: "year", Reason: fmt.Sprintf("must be %d for the given week", year)}
	}
	return nil
}

// Days lists the seven dates of the period, Monday first.
func (p Period) Days() [7]time.Time {
	var days [7]time.Time
	for i := range days {
		days[i] = p.Start.AddDate(0, 0, i)
	}
	return days
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	d := Date(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// ParseDate parses a YYYY-MM-DD value.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("week: parse date %q: %w", value, err)
	}
	return t, nil
}

// String renders the period as "YYYY-MM-DD..YYYY-MM-DD".
func (p Period) String() string {
	return p.Start.Format(DateLayout) + ".." + p.End.Format(DateLayout)
}
