package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nottoday/nottoday/internal/domain"
)

// weekdaysOnly builds a Mon-Fri week with the given ranges on each
// enabled day.
func weekdaysOnly(ranges ...domain.TimeRange) domain.WeekSchedule {
	week := make(domain.WeekSchedule, 7)
	for _, day := range domain.DisplayOrder {
		enabled := day != domain.Saturday && day != domain.Sunday
		rs := make([]domain.TimeRange, len(ranges))
		copy(rs, ranges)
		week[day] = domain.DaySchedule{Enabled: enabled, Ranges: rs}
	}
	return week
}

// at builds a local time on a fixed reference week.
// 2024-01-03 is a Wednesday.
func at(weekday time.Weekday, hour, minute int) time.Time {
	base := time.Date(2024, 1, 3, 0, 0, 0, 0, time.Local) // Wednesday
	offset := int(weekday) - int(base.Weekday())
	return base.AddDate(0, 0, offset).Add(
		time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestTimeRangeContainsBoundaries(t *testing.T) {
	r := domain.NewTimeRange(9, 0, 19, 0)

	assert.True(t, r.Contains(9*60), "start minute is inside")
	assert.True(t, r.Contains(9*60+1))
	assert.True(t, r.Contains(19*60-1))
	assert.False(t, r.Contains(19*60), "end minute is outside")
	assert.False(t, r.Contains(9*60-1))
}

func TestIsActiveNow_WeekdaySchedule(t *testing.T) {
	week := weekdaysOnly(domain.NewTimeRange(9, 0, 19, 0))

	tests := []struct {
		name   string
		now    time.Time
		active bool
	}{
		{"wednesday mid-morning", at(time.Wednesday, 10, 0), true},
		{"wednesday before start", at(time.Wednesday, 8, 59), false},
		{"wednesday at end", at(time.Wednesday, 19, 0), false},
		{"saturday disabled day", at(time.Saturday, 10, 0), false},
		{"monday at start", at(time.Monday, 9, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.active, IsActiveNow(tt.now, week))
		})
	}
}

func TestIsActiveNow_DisabledWeek(t *testing.T) {
	week := weekdaysOnly(domain.NewTimeRange(9, 0, 19, 0))
	for day, ds := range week {
		ds.Enabled = false
		week[day] = ds
	}

	assert.False(t, IsActiveNow(at(time.Wednesday, 10, 0), week))

	_, ok := NextActivation(at(time.Wednesday, 10, 0), week)
	assert.False(t, ok, "fully disabled schedule has no next activation")
}

func TestNextDeactivation_ActiveWednesday(t *testing.T) {
	week := weekdaysOnly(domain.NewTimeRange(9, 0, 19, 0))
	now := at(time.Wednesday, 10, 0)

	end, ok := NextDeactivation(now, week)
	require.True(t, ok)
	assert.Equal(t, at(time.Wednesday, 19, 0), end)
}

func TestNextDeactivation_InactiveIsNone(t *testing.T) {
	week := weekdaysOnly(domain.NewTimeRange(9, 0, 19, 0))

	_, ok := NextDeactivation(at(time.Saturday, 10, 0), week)
	assert.False(t, ok)

	_, ok = NextDeactivation(at(time.Wednesday, 20, 0), week)
	assert.False(t, ok, "no forward search across midnight when inactive")
}

func TestNextActivation_SkipsWeekend(t *testing.T) {
	week := weekdaysOnly(domain.NewTimeRange(9, 0, 19, 0))
	now := at(time.Saturday, 10, 0)

	next, ok := NextActivation(now, week)
	require.True(t, ok)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(now))
}

func TestNextActivation_LaterRangeSameDay(t *testing.T) {
	week := weekdaysOnly(
		domain.NewTimeRange(9, 0, 12, 0),
		domain.NewTimeRange(14, 0, 18, 0),
	)
	now := at(time.Wednesday, 13, 0)

	next, ok := NextActivation(now, week)
	require.True(t, ok)
	assert.Equal(t, at(time.Wednesday, 14, 0), next)
}

func TestCurrentActiveRange_MultiRangeDay(t *testing.T) {
	week := weekdaysOnly(
		domain.NewTimeRange(9, 0, 12, 0),
		domain.NewTimeRange(14, 0, 18, 0),
	)

	_, ok := CurrentActiveRange(at(time.Wednesday, 13, 0), week)
	assert.False(t, ok, "gap between ranges is inactive")

	r, ok := CurrentActiveRange(at(time.Wednesday, 15, 0), week)
	require.True(t, ok)
	assert.Equal(t, "14:00-18:00", r.String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ranges  []domain.TimeRange
		wantDay domain.Weekday
		wantErr bool
	}{
		{
			name:   "single valid range",
			ranges: []domain.TimeRange{domain.NewTimeRange(9, 0, 17, 0)},
		},
		{
			name: "back-to-back boundary allowed",
			ranges: []domain.TimeRange{
				domain.NewTimeRange(9, 0, 12, 0),
				domain.NewTimeRange(12, 0, 14, 0),
			},
		},
		{
			name: "overlapping ranges",
			ranges: []domain.TimeRange{
				domain.NewTimeRange(9, 0, 12, 0),
				domain.NewTimeRange(11, 0, 14, 0),
			},
			wantDay: domain.Monday,
			wantErr: true,
		},
		{
			name: "overlap detected after sorting",
			ranges: []domain.TimeRange{
				domain.NewTimeRange(11, 0, 14, 0),
				domain.NewTimeRange(9, 0, 12, 0),
			},
			wantDay: domain.Monday,
			wantErr: true,
		},
		{
			name:    "inverted range",
			ranges:  []domain.TimeRange{domain.NewTimeRange(17, 0, 9, 0)},
			wantDay: domain.Monday,
			wantErr: true,
		},
		{
			name:    "zero-length range",
			ranges:  []domain.TimeRange{domain.NewTimeRange(9, 0, 9, 0)},
			wantDay: domain.Monday,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			week := weekdaysOnly(tt.ranges...)
			err := Validate(week)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantDay, verr.Day, "first offending day in display order")
		})
	}
}

func TestValidate_FirstOffendingDayWins(t *testing.T) {
	week := weekdaysOnly(domain.NewTimeRange(9, 0, 17, 0))

	// Break Friday and Tuesday; Tuesday comes first in display order.
	broken := []domain.TimeRange{domain.NewTimeRange(17, 0, 9, 0)}
	week[domain.Friday] = domain.DaySchedule{Enabled: true, Ranges: broken}
	week[domain.Tuesday] = domain.DaySchedule{Enabled: true, Ranges: broken}

	var verr *domain.ValidationError
	require.ErrorAs(t, Validate(week), &verr)
	assert.Equal(t, domain.Tuesday, verr.Day)
}

func TestSummary(t *testing.T) {
	week := weekdaysOnly(domain.NewTimeRange(9, 0, 17, 0))
	s := Summary(week)

	assert.Contains(t, s, "Monday")
	assert.Contains(t, s, "09:00-17:00")
	assert.Contains(t, s, "Saturday")
	assert.Contains(t, s, "off")
}
