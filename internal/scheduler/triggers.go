package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/kernel/pkg/kernelerrors"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronFire returns the first fire time strictly after 'after' for
// the given 5-field (min hour dom month dow) cron expression,
// evaluated in UTC.
func nextCronFire(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, kernelerrors.Wrap(kernelerrors.CodeParameterInvalid, "invalid cron expression", err)
	}
	return sched.Next(after.UTC()).UTC(), nil
}

// nextIntervalFire advances last by amount units of unit, in UTC.
// Months are calendar-wise: same day of month, clamped to the last
// day of the target month when the source day doesn't exist there
// (e.g. 2024-01-31 + 1 month -> 2024-02-29).
func nextIntervalFire(last time.Time, unit IntervalUnit, amount int) (time.Time, error) {
	last = last.UTC()
	switch unit {
	case UnitMinutes:
		return last.Add(time.Duration(amount) * time.Minute), nil
	case UnitHours:
		return last.Add(time.Duration(amount) * time.Hour), nil
	case UnitDays:
		return last.AddDate(0, 0, amount), nil
	case UnitWeeks:
		return last.AddDate(0, 0, amount*7), nil
	case UnitMonths:
		return addMonthsClamped(last, amount), nil
	default:
		return time.Time{}, kernelerrors.New(kernelerrors.CodeParameterInvalid,
			fmt.Sprintf("unknown interval unit %q", unit))
	}
}

// addMonthsClamped adds months calendar-months to t, clamping the day
// of month to the last valid day of the target month when t's day
// doesn't exist there.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetMonthIndex := int(month) - 1 + months
	targetYear := year + targetMonthIndex/12
	targetMonth := time.Month(targetMonthIndex%12 + 1)
	if targetMonthIndex%12 < 0 {
		targetMonth += 12
		targetYear--
	}

	firstOfTarget := time.Date(targetYear, targetMonth, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(targetYear, targetMonth, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// advancePastDue advances next repeatedly until it is strictly greater
// than 'after', counting how many intervals were skipped. Used by
// crash recovery to fast-forward a recurring event's next_fire_at past
// the restart instant.
func advancePastDue(next time.Time, after time.Time, step func(time.Time) (time.Time, error)) (time.Time, int, error) {
	skipped := 0
	for !next.After(after) {
		advanced, err := step(next)
		if err != nil {
			return time.Time{}, skipped, err
		}
		if !advanced.After(next) {
			return time.Time{}, skipped, kernelerrors.New(kernelerrors.CodeParameterInvalid, "trigger does not advance")
		}
		next = advanced
		skipped++
	}
	return next, skipped, nil
}
