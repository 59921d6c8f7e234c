// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Weekday uses calendar numbering: 1=Sunday .. 7=Saturday.
// This matches the numbering used for date arithmetic when scanning
// forward through calendar days.
type Weekday int

const (
	Sunday Weekday = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// DisplayOrder lists days Monday..Sunday, the order used for summaries
// and for deterministic serialization.
var DisplayOrder = [7]Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayNames = map[Weekday]string{
	Sunday:    "sunday",
	Monday:    "monday",
	Tuesday:   "tuesday",
	Wednesday: "wednesday",
	Thursday:  "thursday",
	Friday:    "friday",
	Saturday:  "saturday",
}

// WeekdayOf converts a time.Time's day-of-week (0=Sunday..6=Saturday)
// to calendar numbering.
func WeekdayOf(t time.Time) Weekday {
	return Weekday(int(t.Weekday()) + 1)
}

// Key returns the lowercase day name used as the JSON object key.
func (d Weekday) Key() string {
	return weekdayNames[d]
}

// String returns the capitalized day name.
func (d Weekday) String() string {
	name := weekdayNames[d]
	if name == "" {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return string(name[0]-'a'+'A') + name[1:]
}

// WeekdayFromKey resolves a lowercase day name back to a Weekday.
func WeekdayFromKey(key string) (Weekday, bool) {
	for d, name := range weekdayNames {
		if name == key {
			return d, true
		}
	}
	return 0, false
}

// TimeRange is a half-open [Start, End) span of minutes within one day.
// End must be strictly greater than Start; overnight wraparound is not
// supported.
type TimeRange struct {
	ID    string
	Start int // minute of day, 0..1439
	End   int // minute of day, 0..1439
}

// NewTimeRange builds a range from hour/minute components with a fresh
// opaque identifier.
func NewTimeRange(startHour, startMinute, endHour, endMinute int) TimeRange {
	return TimeRange{
		ID:    uuid.NewString(),
		Start: startHour*60 + startMinute,
		End:   endHour*60 + endMinute,
	}
}

// Contains reports whether the given minute-of-day falls inside the
// half-open range. The end minute itself is outside.
func (r TimeRange) Contains(minute int) bool {
	return minute >= r.Start && minute < r.End
}

// Valid reports whether the range is well-formed (End strictly after Start,
// both within a single day).
func (r TimeRange) Valid() bool {
	return r.Start >= 0 && r.End <= 24*60 && r.End > r.Start
}

func (r TimeRange) StartHour() int   { return r.Start / 60 }
func (r TimeRange) StartMinute() int { return r.Start % 60 }
func (r TimeRange) EndHour() int     { return r.End / 60 }
func (r TimeRange) EndMinute() int   { return r.End % 60 }

// String renders the range as "09:00-17:00".
func (r TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		r.StartHour(), r.StartMinute(), r.EndHour(), r.EndMinute())
}

// MinuteOfDay returns the minute-of-day for a wall-clock instant.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DaySchedule is one day's blocking windows. Ranges may be edited into an
// invalid state (overlap, inverted); validity is a checkable property, not
// a construction invariant. A DaySchedule always holds at least one range.
type DaySchedule struct {
	Enabled bool
	Ranges  []TimeRange
}

// FirstRange returns the first range, the legacy single-range accessor.
func (d DaySchedule) FirstRange() TimeRange {
	if len(d.Ranges) == 0 {
		return DefaultRange()
	}
	return d.Ranges[0]
}

// WeekSchedule maps each calendar day to its DaySchedule.
type WeekSchedule map[Weekday]DaySchedule

// Clone returns a deep copy so callers can edit without aliasing.
func (w WeekSchedule) Clone() WeekSchedule {
	out := make(WeekSchedule, len(w))
	for day, ds := range w {
		ranges := make([]TimeRange, len(ds.Ranges))
		copy(ranges, ds.Ranges)
		out[day] = DaySchedule{Enabled: ds.Enabled, Ranges: ranges}
	}
	return out
}

// DefaultRange is the stock 09:00-17:00 window.
func DefaultRange() TimeRange {
	return NewTimeRange(9, 0, 17, 0)
}

// Configuration is the primary application's persisted state, the single
// source of truth. Mutations go through the coordinator which re-saves
// after each change.
type Configuration struct {
	BlockedSites []string
	Schedule     WeekSchedule
	Enabled      bool
}

// AddSite appends a hostname, de-duplicating on add. Reports whether the
// list changed.
func (c *Configuration) AddSite(site string) bool {
	for _, s := range c.BlockedSites {
		if s == site {
			return false
		}
	}
	c.BlockedSites = append(c.BlockedSites, site)
	return true
}

// RemoveSite drops a hostname. Reports whether the list changed.
func (c *Configuration) RemoveSite(site string) bool {
	for i, s := range c.BlockedSites {
		if s == site {
			c.BlockedSites = append(c.BlockedSites[:i], c.BlockedSites[i+1:]...)
			return true
		}
	}
	return false
}

// HelperConfiguration is the reduced, transfer-only projection of
// Configuration owned by the privileged enforcer. It is written only via
// the RPC update operation and persisted independently so the enforcer
// survives primary-app restarts and can act without it.
type HelperConfiguration struct {
	DaySchedules WeekSchedule
	Enabled      bool
	BlockedSites []string
}

// HelperProjection reduces a Configuration to the transfer shape.
func (c *Configuration) HelperProjection() HelperConfiguration {
	sites := make([]string, len(c.BlockedSites))
	copy(sites, c.BlockedSites)
	return HelperConfiguration{
		DaySchedules: c.Schedule.Clone(),
		Enabled:      c.Enabled,
		BlockedSites: sites,
	}
}

// DefaultConfiguration is the fallback when no config exists or a stored
// one cannot be decoded: Mon-Fri 09:00-17:00 with a stock site list.
func DefaultConfiguration() *Configuration {
	schedule := make(WeekSchedule, 7)
	for _, day := range DisplayOrder {
		enabled := day != Saturday && day != Sunday
		schedule[day] = DaySchedule{
			Enabled: enabled,
			Ranges:  []TimeRange{DefaultRange()},
		}
	}
	return &Configuration{
		BlockedSites: []string{
			"facebook.com",
			"www.facebook.com",
			"twitter.com",
			"www.twitter.com",
			"x.com",
			"www.x.com",
			"reddit.com",
			"www.reddit.com",
			"youtube.com",
			"www.youtube.com",
			"instagram.com",
			"www.instagram.com",
		},
		Schedule: schedule,
		Enabled:  true,
	}
}
