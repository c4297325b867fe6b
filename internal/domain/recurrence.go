package domain

import (
	"fmt"
	"time"
)

// Frequency is the repeat cadence of a recurring series.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly:
		return true
	}
	return false
}

// MaxSeriesOccurrences caps eager series materialization.
const MaxSeriesOccurrences = 365

// RecurrenceRule describes a recurring publishing series.
type RecurrenceRule struct {
	Frequency Frequency      `json:"frequency"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	TimeOfDay string         `json:"timeOfDay"`
	Until     *time.Time     `json:"until,omitempty"`
}

func (r *RecurrenceRule) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: recurrence rule is required", ErrValidation)
	}
	if !r.Frequency.IsValid() {
		return fmt.Errorf("%w: invalid frequency %q", ErrValidation, r.Frequency)
	}
	if _, err := time.Parse("15:04", r.TimeOfDay); err != nil {
		return fmt.Errorf("%w: invalid time of day %q", ErrValidation, r.TimeOfDay)
	}
	if r.Frequency == FreqWeekly && len(r.Weekdays) == 0 {
		return fmt.Errorf("%w: weekly recurrence requires at least one weekday", ErrValidation)
	}
	for _, wd := range r.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: invalid weekday %d", ErrValidation, wd)
		}
	}
	return nil
}

// Expand materializes the occurrence datetimes of the rule, starting at the
// later of start and now. Occurrences already in the past at expansion time
// are skipped rather than generated late. The sequence ends at Until
// (inclusive) and is hard-capped at MaxSeriesOccurrences.
func (r *RecurrenceRule) Expand(start, now time.Time) ([]time.Time, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	tod, _ := time.Parse("15:04", r.TimeOfDay)

	floor := start
	if now.After(floor) {
		floor = now
	}

	day := time.Date(floor.Year(), floor.Month(), floor.Day(), 0, 0, 0, 0, floor.Location())
	firstMonthDay := start.Day()

	occurrences := make([]time.Time, 0, 32)
	for len(occurrences) < MaxSeriesOccurrences {
		at := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, day.Location())

		if r.Until != nil && at.After(*r.Until) {
			break
		}
		// Monthly series align to the series' day-of-month; months without
		// that day (e.g. the 31st in February) are skipped entirely.
		if r.Frequency == FreqMonthly && day.Day() != firstMonthDay {
			candidate := time.Date(day.Year(), day.Month(), firstMonthDay, 0, 0, 0, 0, day.Location())
			if candidate.Month() == day.Month() && candidate.After(day) {
				day = candidate
			} else {
				day = nextMonthlyDay(day, firstMonthDay)
			}
			continue
		}

		if at.After(floor) && r.matchesWeekday(at.Weekday()) {
			if r.Frequency != FreqMonthly || at.Day() == firstMonthDay {
				occurrences = append(occurrences, at)
			}
		}

		switch r.Frequency {
		case FreqMonthly:
			day = nextMonthlyDay(day, firstMonthDay)
		default:
			day = day.AddDate(0, 0, 1)
		}

		// Unbounded daily/weekly rules stop generating a year out.
		if r.Until == nil && day.Sub(floor) > 366*24*time.Hour {
			break
		}
	}

	return occurrences, nil
}

func (r *RecurrenceRule) matchesWeekday(wd time.Weekday) bool {
	if r.Frequency != FreqWeekly {
		return true
	}
	for _, want := range r.Weekdays {
		if want == wd {
			return true
		}
	}
	return false
}

func nextMonthlyDay(day time.Time, wantDay int) time.Time {
	next := time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, day.Location())
	candidate := time.Date(next.Year(), next.Month(), wantDay, 0, 0, 0, 0, day.Location())
	// Normalization rolled into the following month: the target day does not
	// exist in this month.
	if candidate.Month() != next.Month() {
		return next
	}
	return candidate
}
