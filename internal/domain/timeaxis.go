package domain

import (
	"fmt"
	"time"
)

// TimeRange is an inclusive [Start, End] interval at daily resolution.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Days returns every day in the range, in chronological order.
func (tr TimeRange) Days() []time.Time {
	var days []time.Time
	for t := tr.Start; !t.After(tr.End); t = t.AddDate(0, 0, 1) {
		days = append(days, t)
	}
	return days
}

// Years returns the length of the range in (fractional) years.
func (tr TimeRange) Years() float64 {
	days := tr.End.Sub(tr.Start).Hours()/24 + 1
	return days / 365.25
}

// timestepMonths lists the first month of each interval for the sub-daily
// subdivisions of the year.
var timestepMonths = map[int][]time.Month{
	1:  {time.January},
	2:  {time.January, time.July},
	3:  {time.January, time.May, time.September},
	4:  {time.January, time.April, time.July, time.October},
	6:  {time.January, time.March, time.May, time.July, time.September, time.November},
	12: {time.January, time.February, time.March, time.April, time.May, time.June, time.July, time.August, time.September, time.October, time.November, time.December},
}

// ValidTimestepsPerYear reports whether n is a supported subdivision of the year.
func ValidTimestepsPerYear(n int) bool {
	switch n {
	case 1, 2, 3, 4, 6, 12, 24, 36, 365:
		return true
	}
	return false
}

// Timesteps returns the scoring timesteps between start and end inclusive for
// the given subdivision of the year. In daily mode February 29 is skipped so
// every year carries the same calendar slots.
func Timesteps(start, end time.Time, perYear int) ([]time.Time, error) {
	if !ValidTimestepsPerYear(perYear) {
		return nil, fmt.Errorf("invalid timesteps per year %d: must be one of 1, 2, 3, 4, 6, 12, 24, 36, 365", perYear)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("timestep range ends (%s) before it starts (%s)", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	var steps []time.Time
	if perYear == 365 {
		for t := start; !t.After(end); t = t.AddDate(0, 0, 1) {
			if t.Month() == time.February && t.Day() == 29 {
				continue
			}
			steps = append(steps, t)
		}
		return steps, nil
	}

	var days []int
	switch perYear {
	case 24:
		days = []int{1, 16}
	case 36:
		days = []int{1, 11, 21}
	default:
		days = []int{1}
	}
	months := timestepMonths[perYear]
	if perYear == 24 || perYear == 36 {
		months = timestepMonths[12]
	}

	for year := start.Year(); year <= end.Year(); year++ {
		for _, m := range months {
			for _, d := range days {
				t := time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
				if !t.Before(start) && !t.After(end) {
					steps = append(steps, t)
				}
			}
		}
	}
	return steps, nil
}

// Slot is a calendar position (month and day) without a year. Climatology
// artifacts (fitted distribution parameters and thresholds) are keyed by
// slot, never by a full date.
type Slot struct {
	Month time.Month
	Day   int
}

// SlotOf returns the calendar slot a timestep falls on.
func SlotOf(t time.Time) Slot { return Slot{Month: t.Month(), Day: t.Day()} }

// Date places the slot in a concrete year.
func (s Slot) Date(year int) time.Time {
	return time.Date(year, s.Month, s.Day, 0, 0, 0, 0, time.UTC)
}

// String renders the slot as MMDD, the form used in artifact names.
func (s Slot) String() string { return fmt.Sprintf("%02d%02d", int(s.Month), s.Day) }

// Slots returns the calendar slots of one full year at the given subdivision.
func Slots(perYear int) ([]Slot, error) {
	// The year is fictitious; 1987 is a non-leap year so daily mode yields
	// exactly 365 slots.
	steps, err := Timesteps(
		time.Date(1987, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1987, time.December, 31, 0, 0, 0, 0, time.UTC),
		perYear,
	)
	if err != nil {
		return nil, err
	}
	slots := make([]Slot, len(steps))
	for i, t := range steps {
		slots[i] = SlotOf(t)
	}
	return slots, nil
}

// WindowUnit is the calendar unit of an aggregation window.
type WindowUnit string

const (
	WindowDays   WindowUnit = "days"
	WindowMonths WindowUnit = "months"
	WindowDekads WindowUnit = "dekads"
)

// Window describes a rolling aggregation lookback: the most recent Size
// units ending the day before a timestep.
type Window struct {
	Size int
	Unit WindowUnit
}

// Validate checks the window descriptor.
func (w Window) Validate() error {
	if w.Size <= 0 {
		return fmt.Errorf("window size %d: must be positive", w.Size)
	}
	switch w.Unit {
	case WindowDays, WindowMonths, WindowDekads:
		return nil
	}
	return fmt.Errorf("window unit %q: must be days, months or dekads", w.Unit)
}

// Range returns the inclusive daily range covered by the window ending at
// timestep t. The window ends the day before t, so a 1-month window at
// February 1 covers January 1 through January 31.
func (w Window) Range(t time.Time) (TimeRange, error) {
	if err := w.Validate(); err != nil {
		return TimeRange{}, err
	}
	end := t.AddDate(0, 0, -1)
	var start time.Time
	switch w.Unit {
	case WindowDays:
		start = t.AddDate(0, 0, -w.Size)
	case WindowMonths:
		start = t.AddDate(0, -w.Size, 0)
	case WindowDekads:
		if end.Equal(dekadEnd(end)) {
			// Aligned: walk back whole dekads, which vary in length at the
			// end of the month.
			tmp := end
			for i := 0; i < w.Size; i++ {
				tmp = dekadStart(tmp).AddDate(0, 0, -1)
			}
			start = tmp.AddDate(0, 0, 1)
		} else {
			start = t.AddDate(0, 0, -10*w.Size)
		}
	}
	return TimeRange{Start: start, End: end}, nil
}

// dekadStart returns the first day of the dekad containing t (day 1, 11 or 21).
func dekadStart(t time.Time) time.Time {
	day := 1
	switch {
	case t.Day() >= 21:
		day = 21
	case t.Day() >= 11:
		day = 11
	}
	return time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC)
}

// dekadEnd returns the last day of the dekad containing t; the third dekad
// runs to the end of the month.
func dekadEnd(t time.Time) time.Time {
	switch {
	case t.Day() <= 10:
		return time.Date(t.Year(), t.Month(), 10, 0, 0, 0, 0, time.UTC)
	case t.Day() <= 20:
		return time.Date(t.Year(), t.Month(), 20, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
}
