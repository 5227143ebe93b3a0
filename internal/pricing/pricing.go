// Package pricing computes booking totals from a listing's rate tiers.
//
// Hourly and daily totals are based on elapsed time between start and end.
// Monthly totals count calendar months inclusively, so 15 Jan to 10 Mar is
// three months regardless of the number of days in between. Amounts are plain
// float64 and are not rounded.
package pricing

import (
	"math"
	"strings"
	"time"

	"rentmarket/api/internal/models"
)

const (
	hoursPerDay   = 24
	daysPerMonth  = 30
	hoursPerMonth = hoursPerDay * daysPerMonth
)

// NormalizeType maps a requested booking type onto a known one, defaulting to daily.
func NormalizeType(s string) models.BookingType {
	switch models.BookingType(strings.ToLower(strings.TrimSpace(s))) {
	case models.BookingHourly:
		return models.BookingHourly
	case models.BookingMonthly:
		return models.BookingMonthly
	default:
		return models.BookingDaily
	}
}

// ComputePrice returns the total for renting from start to end at tier t.
// The requested tier is preferred; otherwise the price is derived from another
// tier. It returns 0 when no usable tier is set.
func ComputePrice(p models.Pricing, legacyPerDay *float64, start, end time.Time, t models.BookingType) float64 {
	switch t {
	case models.BookingHourly:
		hours := Hours(start, end)
		switch {
		case p.Hourly != nil:
			return *p.Hourly * float64(hours)
		case p.Daily != nil:
			return *p.Daily * ceilDiv(hours, hoursPerDay)
		case p.Monthly != nil:
			return *p.Monthly * ceilDiv(hours, hoursPerMonth)
		}
	case models.BookingMonthly:
		months := float64(Months(start, end))
		switch {
		case p.Monthly != nil:
			return *p.Monthly * months
		case p.Daily != nil:
			return *p.Daily * daysPerMonth * months
		case p.Hourly != nil:
			return *p.Hourly * hoursPerMonth * months
		}
	default:
		days := Days(start, end)
		switch {
		case p.Daily != nil:
			return *p.Daily * float64(days)
		case p.Hourly != nil:
			return *p.Hourly * hoursPerDay * float64(days)
		case p.Monthly != nil:
			return *p.Monthly * ceilDiv(days, daysPerMonth)
		case legacyPerDay != nil:
			return *legacyPerDay * float64(days)
		}
	}
	return 0
}

// Hours is the elapsed time rounded up to whole hours, at least 1.
func Hours(start, end time.Time) int64 {
	return ceilUnits(end.Sub(start), time.Hour)
}

// Days is the elapsed time rounded up to whole days, at least 1.
func Days(start, end time.Time) int64 {
	return ceilUnits(end.Sub(start), hoursPerDay*time.Hour)
}

// Months is the inclusive calendar-month span, at least 1.
func Months(start, end time.Time) int64 {
	m := int64(end.Year()-start.Year())*12 + int64(end.Month()-start.Month()) + 1
	if m < 1 {
		return 1
	}
	return m
}

func ceilUnits(d, unit time.Duration) int64 {
	n := int64(math.Ceil(float64(d) / float64(unit)))
	if n < 1 {
		return 1
	}
	return n
}

func ceilDiv(n, by int64) float64 {
	return math.Ceil(float64(n) / float64(by))
}
