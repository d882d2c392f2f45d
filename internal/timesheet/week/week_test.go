package week

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := ParseDate(value)
	require.NoError(t, err)
	return d
}

func TestCanonicalWeek(t *testing.T) {
	cases := []struct {
		name  string
		input string
		start string
		end   string
		year  int
		week  int
	}{
		{name: "monday", input: "2025-09-08", start: "2025-09-08", end: "2025-09-14", year: 2025, week: 37},
		{name: "midweek", input: "2025-09-11", start: "2025-09-08", end: "2025-09-14", year: 2025, week: 37},
		{name: "sunday belongs to previous monday", input: "2025-09-14", start: "2025-09-08", end: "2025-09-14", year: 2025, week: 37},
		{name: "new year in week 53", input: "2021-01-01", start: "2020-12-28", end: "2021-01-03", year: 2020, week: 53},
		{name: "december in week 1", input: "2024-12-31", start: "2024-12-30", end: "2025-01-05", year: 2025, week: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Canonical(date(t, tc.input))
			assert.Equal(t, date(t, tc.start), p.Start)
			assert.Equal(t, date(t, tc.end), p.End)
			assert.Equal(t, tc.year, p.Year)
			assert.Equal(t, tc.week, p.Number)
			require.NoError(t, Validate(p))
		})
	}
}

func TestCanonicalIgnoresTimeOfDayAndZone(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	p := Canonical(time.Date(2025, 9, 10, 23, 30, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC), p.Start)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cases := []struct {
		name  string
		start string
		end   string
		field string
	}{
		{name: "start not monday", start: "2025-09-09", end: "2025-09-14", field: "weekStartDate"},
		{name: "end not sunday", start: "2025-09-08", end: "2025-09-13", field: "weekEndDate"},
		{name: "span too long", start: "2025-09-08", end: "2025-09-21", field: "weekEndDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(date(t, tc.start), date(t, tc.end))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidBounds))
			var bounds *BoundsError
			require.True(t, errors.As(err, &bounds))
			assert.Equal(t, tc.field, bounds.Field)
		})
	}
}

func TestValidateChecksDeclaredNumber(t *testing.T) {
	p := Canonical(date(t, "2025-09-08"))
	p.Number = 12
	err := Validate(p)
	var bounds *BoundsError
	require.True(t, errors.As(err, &bounds))
	assert.Equal(t, "weekNumber", bounds.Field)
}

func TestPeriodDaysAndContains(t *testing.T) {
	p := Canonical(date(t, "2025-09-08"))
	days := p.Days()
	assert.Equal(t, time.Monday, days[0].Weekday())
	assert.Equal(t, time.Sunday, days[6].Weekday())
	assert.True(t, p.Contains(date(t, "2025-09-14")))
	assert.False(t, p.Contains(date(t, "2025-09-15")))
	assert.Equal(t, "2025-09-08..2025-09-14", p.String())
}
