package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire shapes for the persisted configuration files and the RPC payloads.
// The timeRanges form is the only shape ever written; the flat
// startHour/startMinute/endHour/endMinute form is a legacy day entry that
// must stay decodable forever so old config files never become unreadable.

type timeRangeJSON struct {
	StartHour   int `json:"startHour"`
	StartMinute int `json:"startMinute"`
	EndHour     int `json:"endHour"`
	EndMinute   int `json:"endMinute"`
}

type dayScheduleJSON struct {
	Enabled    bool            `json:"enabled"`
	TimeRanges []timeRangeJSON `json:"timeRanges,omitempty"`

	// Legacy single-range fields. Pointers so absence is distinguishable
	// from midnight zeros.
	StartHour   *int `json:"startHour,omitempty"`
	StartMinute *int `json:"startMinute,omitempty"`
	EndHour     *int `json:"endHour,omitempty"`
	EndMinute   *int `json:"endMinute,omitempty"`
}

// MarshalJSON emits the current timeRanges shape only.
func (d DaySchedule) MarshalJSON() ([]byte, error) {
	out := dayScheduleJSON{Enabled: d.Enabled}
	for _, r := range d.Ranges {
		out.TimeRanges = append(out.TimeRanges, timeRangeJSON{
			StartHour:   r.StartHour(),
			StartMinute: r.StartMinute(),
			EndHour:     r.EndHour(),
			EndMinute:   r.EndMinute(),
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both the timeRanges shape and the legacy flat
// shape. Precedence: a non-empty timeRanges list wins; an empty or absent
// list falls back to the legacy fields when any of them is present; with
// neither, the stock default range is synthesized so a DaySchedule is
// never left without a range.
func (d *DaySchedule) UnmarshalJSON(data []byte) error {
	var raw dayScheduleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Enabled = raw.Enabled
	d.Ranges = nil

	if len(raw.TimeRanges) > 0 {
		for _, tr := range raw.TimeRanges {
			d.Ranges = append(d.Ranges, NewTimeRange(tr.StartHour, tr.StartMinute, tr.EndHour, tr.EndMinute))
		}
		return nil
	}

	if raw.StartHour != nil || raw.StartMinute != nil || raw.EndHour != nil || raw.EndMinute != nil {
		get := func(p *int) int {
			if p == nil {
				return 0
			}
			return *p
		}
		d.Ranges = []TimeRange{NewTimeRange(
			get(raw.StartHour), get(raw.StartMinute),
			get(raw.EndHour), get(raw.EndMinute),
		)}
		return nil
	}

	d.Ranges = []TimeRange{DefaultRange()}
	return nil
}

// MarshalJSON writes the week as an object keyed by lowercase day name,
// in display order, so output is deterministic and diff-friendly.
func (w WeekSchedule) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, day := range DisplayOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		ds, ok := w[day]
		if !ok {
			ds = DaySchedule{Ranges: []TimeRange{DefaultRange()}}
		}
		keyBytes, err := json.Marshal(day.Key())
		if err != nil {
			return nil, err
		}
		valBytes, err := json.Marshal(ds)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads day-name keys, ignoring unknown ones. Missing days
// are filled with a disabled default entry so the week is always total.
func (w *WeekSchedule) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(WeekSchedule, 7)
	for key, val := range raw {
		day, ok := WeekdayFromKey(key)
		if !ok {
			continue
		}
		var ds DaySchedule
		if err := json.Unmarshal(val, &ds); err != nil {
			return fmt.Errorf("day %q: %w", key, err)
		}
		out[day] = ds
	}
	for _, day := range DisplayOrder {
		if _, ok := out[day]; !ok {
			out[day] = DaySchedule{Ranges: []TimeRange{DefaultRange()}}
		}
	}
	*w = out
	return nil
}

type configurationJSON struct {
	BlockedSites []string     `json:"blockedSites"`
	Schedule     WeekSchedule `json:"schedule"`
	Enabled      bool         `json:"enabled"`
}

func (c Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(configurationJSON{
		BlockedSites: c.BlockedSites,
		Schedule:     c.Schedule,
		Enabled:      c.Enabled,
	})
}

func (c *Configuration) UnmarshalJSON(data []byte) error {
	var raw configurationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.BlockedSites = raw.BlockedSites
	c.Schedule = raw.Schedule
	c.Enabled = raw.Enabled
	if c.Schedule == nil {
		c.Schedule = DefaultConfiguration().Schedule
	}
	return nil
}

type helperConfigurationJSON struct {
	DaySchedules WeekSchedule `json:"daySchedules"`
	Enabled      bool         `json:"enabled"`
	BlockedSites []string     `json:"blockedSites"`
}

func (h HelperConfiguration) MarshalJSON() ([]byte, error) {
	return json.Marshal(helperConfigurationJSON{
		DaySchedules: h.DaySchedules,
		Enabled:      h.Enabled,
		BlockedSites: h.BlockedSites,
	})
}

func (h *HelperConfiguration) UnmarshalJSON(data []byte) error {
	var raw helperConfigurationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.DaySchedules = raw.DaySchedules
	h.Enabled = raw.Enabled
	h.BlockedSites = raw.BlockedSites
	return nil
}
