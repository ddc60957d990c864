package scheduler

import (
	"sort"
	"time"

	"github.com/pathakanu/carely/internal/model"
)

// Occurrences returns the dose instants of med on the local calendar day containing now, in
// UTC and ascending. Inactive and as-needed medications have none, weekly medications recur on
// the weekday of their start date, and instants before the medication started are dropped.
func Occurrences(med model.Medication, now time.Time, loc *time.Location) []time.Time {
	if !med.Active || med.Frequency == model.FrequencyAsNeeded {
		return nil
	}

	start := med.StartDate
	if start.IsZero() {
		start = med.CreatedAt
	}

	local := now.In(loc)
	if med.Frequency == model.FrequencyWeekly && !start.IsZero() && start.In(loc).Weekday() != local.Weekday() {
		return nil
	}

	seen := make(map[int64]bool, len(med.ScheduleTimes))
	var out []time.Time
	for _, clock := range med.ScheduleTimes {
		hour, minute, err := model.ParseClock(clock)
		if err != nil {
			continue
		}
		at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc).UTC()
		if !start.IsZero() && at.Before(start) {
			continue
		}
		if seen[at.Unix()] {
			continue
		}
		seen[at.Unix()] = true
		out = append(out, at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
