// Package schedule evaluates the weekly blocking schedule. Pure
// computation, no I/O: both the application and the privileged enforcer
// run the same evaluation against their own copy of the schedule so the
// two paths converge on the same answer.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/nottoday/nottoday/internal/domain"
)

// IsActiveNow reports whether blocking should be active at the given
// instant. A disabled day is never active.
func IsActiveNow(now time.Time, week domain.WeekSchedule) bool {
	_, ok := CurrentActiveRange(now, week)
	return ok
}

// CurrentActiveRange returns the range containing the given instant, if
// any. Ranges are half-open: an instant exactly at a range's end minute
// is outside it.
func CurrentActiveRange(now time.Time, week domain.WeekSchedule) (domain.TimeRange, bool) {
	day, ok := week[domain.WeekdayOf(now)]
	if !ok || !day.Enabled {
		return domain.TimeRange{}, false
	}
	minute := domain.MinuteOfDay(now)
	for _, r := range day.Ranges {
		if r.Contains(minute) {
			return r, true
		}
	}
	return domain.TimeRange{}, false
}

// NextActivation scans the next 7 calendar days, today included, and
// returns the first range start strictly after now. Returns false when no
// enabled range exists in the horizon (schedule fully disabled).
func NextActivation(now time.Time, week domain.WeekSchedule) (time.Time, bool) {
	for offset := 0; offset < 7; offset++ {
		date := now.AddDate(0, 0, offset)
		day, ok := week[domain.WeekdayOf(date)]
		if !ok || !day.Enabled {
			continue
		}

		ranges := sortedByStart(day.Ranges)
		for _, r := range ranges {
			candidate := atMinute(date, r.Start)
			if candidate.After(now) {
				return candidate, true
			}
		}
	}
	return time.Time{}, false
}

// NextDeactivation returns today's date combined with the end of the
// currently active range. When nothing is active there is nothing to
// deactivate, so it does not search forward across midnight.
func NextDeactivation(now time.Time, week domain.WeekSchedule) (time.Time, bool) {
	r, ok := CurrentActiveRange(now, week)
	if !ok {
		return time.Time{}, false
	}
	return atMinute(now, r.End), true
}

// Validate checks every day in canonical display order and returns an
// error for the first one with an inverted range or overlapping ranges.
// Back-to-back ranges sharing a boundary minute are allowed.
func Validate(week domain.WeekSchedule) error {
	for _, dayKey := range domain.DisplayOrder {
		day, ok := week[dayKey]
		if !ok {
			continue
		}

		for _, r := range day.Ranges {
			if !r.Valid() {
				return &domain.ValidationError{
					Day:    dayKey,
					Reason: fmt.Sprintf("range %s ends at or before it starts", r),
				}
			}
		}

		ranges := sortedByStart(day.Ranges)
		for i := 0; i+1 < len(ranges); i++ {
			if ranges[i].End > ranges[i+1].Start {
				return &domain.ValidationError{
					Day:    dayKey,
					Reason: fmt.Sprintf("ranges %s and %s overlap", ranges[i], ranges[i+1]),
				}
			}
		}
	}
	return nil
}

// Summary renders a one-line-per-day description of the week in display
// order, for the schedule CLI command.
func Summary(week domain.WeekSchedule) string {
	out := ""
	for _, dayKey := range domain.DisplayOrder {
		day := week[dayKey]
		out += fmt.Sprintf("%-9s ", dayKey.String())
		if !day.Enabled {
			out += "off"
		} else {
			for i, r := range sortedByStart(day.Ranges) {
				if i > 0 {
					out += ", "
				}
				out += r.String()
			}
		}
		out += "\n"
	}
	return out
}

func sortedByStart(ranges []domain.TimeRange) []domain.TimeRange {
	out := make([]domain.TimeRange, len(ranges))
	copy(out, ranges)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// atMinute combines a date with a minute-of-day in the date's location.
func atMinute(date time.Time, minute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(),
		minute/60, minute%60, 0, 0, date.Location())
}
