package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/grd-engine/generic"
)

func TestRoundedDaysBetween(t *testing.T) {
	admission := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		discharge time.Time
		want      int
	}{
		{"same instant", admission, 0},
		{"exactly one day", admission.Add(24 * time.Hour), 1},
		{"eleven hours rounds down", admission.Add(11 * time.Hour), 0},
		{"twelve hours rounds up", admission.Add(12 * time.Hour), 1},
		{"thirteen days and a half", admission.Add(13*24*time.Hour + 12*time.Hour), 14},
		{"discharge before admission", admission.Add(-48 * time.Hour), -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.RoundedDaysBetween(admission, tt.discharge))
		})
	}
}

func TestStartAndEndOfDay(t *testing.T) {
	ts := time.Date(2024, time.January, 31, 18, 45, 12, 0, time.UTC)

	assert.Equal(t, generic.Date(2024, time.January, 31), generic.StartOfDay(ts))

	end := generic.EndOfDay(ts)
	assert.Equal(t, 31, end.Day())
	assert.Equal(t, generic.Date(2024, time.February, 1), end.Add(time.Nanosecond))
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01", generic.Date(2024, time.March, 1)},
		{" 2024-03-01 ", generic.Date(2024, time.March, 1)},
		{"2024-03-01T08:30:00Z", time.Date(2024, time.March, 1, 8, 30, 0, 0, time.UTC)},
		{"2024-03-01 08:30:00", time.Date(2024, time.March, 1, 8, 30, 0, 0, time.UTC)},
		{"01/03/2024", generic.Date(2024, time.March, 1)},
		{"01-03-2024", generic.Date(2024, time.March, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := generic.ParseDate(tt.in)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", *got)
		})
	}

	assert.Nil(t, generic.ParseDate(""))
	assert.Nil(t, generic.ParseDate("yesterday"))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "", generic.FormatDate(nil))
	assert.Equal(t, "2024-12-31", generic.FormatDate(generic.DatePtr(2024, time.December, 31)))
}
