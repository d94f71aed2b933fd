// Package review computes mandatory review dates for governed records.
package review

import (
	"errors"
	"fmt"
	"time"
)

const DefaultIntervalMonths = 12

var ErrInvalidInterval = errors.New("review interval must be a positive number of months")

type Frequency string

const (
	Weekly    Frequency = "WEEKLY"
	Monthly   Frequency = "MONTHLY"
	Quarterly Frequency = "QUARTERLY"
	Annual    Frequency = "ANNUAL"
	Biennial  Frequency = "BIENNIAL"
)

var Frequencies = []Frequency{Weekly, Monthly, Quarterly, Annual, Biennial}

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, Quarterly, Annual, Biennial:
		return true
	}
	return false
}

// NextReviewDate adds intervalMonths calendar months to effectiveFrom.
// Day overflow rolls into the following month (Jan 31 + 1 month = Mar 3 or 2).
func NextReviewDate(effectiveFrom time.Time, intervalMonths int) (time.Time, error) {
	if intervalMonths <= 0 {
		return time.Time{}, fmt.Errorf("%d: %w", intervalMonths, ErrInvalidInterval)
	}
	return effectiveFrom.AddDate(0, intervalMonths, 0), nil
}

// NextFromFrequency maps a named frequency to the next review date after now.
// Unknown frequencies fall back to twelve months.
func NextFromFrequency(now time.Time, f Frequency) time.Time {
	switch f {
	case Weekly:
		return now.AddDate(0, 0, 7)
	case Monthly:
		return now.AddDate(0, 1, 0)
	case Quarterly:
		return now.AddDate(0, 3, 0)
	case Annual:
		return now.AddDate(0, 12, 0)
	case Biennial:
		return now.AddDate(0, 24, 0)
	default:
		return now.AddDate(0, DefaultIntervalMonths, 0)
	}
}

// IsDue reports whether a record whose next review falls on next must be
// reviewed by the given instant. Records without a date are never due.
func IsDue(next *time.Time, by time.Time) bool {
	return next != nil && !next.After(by)
}
