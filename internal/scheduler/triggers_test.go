package scheduler

import (
	"testing"
	"time"
)

func TestNextCronFireMatchesDailySchedule(t *testing.T) {
	after := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	got, err := nextCronFire("0 3 * * *", after)
	if err != nil {
		t.Fatalf("nextCronFire: %v", err)
	}
	want := time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextCronFireRejectsMalformedExpression(t *testing.T) {
	if _, err := nextCronFire("not a cron expr", time.Now()); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestAddMonthsClampedHandlesShorterTargetMonth(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	got := addMonthsClamped(jan31, 1)
	want := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC) // 2024 is a leap year
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAddMonthsClampedHandlesYearRollover(t *testing.T) {
	nov30 := time.Date(2023, 11, 30, 6, 0, 0, 0, time.UTC)
	got := addMonthsClamped(nov30, 3)
	want := time.Date(2024, 2, 29, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextIntervalFireMonthsDelegatesToClampedAdd(t *testing.T) {
	last := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	got, err := nextIntervalFire(last, UnitMonths, 1)
	if err != nil {
		t.Fatalf("nextIntervalFire: %v", err)
	}
	want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextIntervalFireRejectsUnknownUnit(t *testing.T) {
	if _, err := nextIntervalFire(time.Now(), IntervalUnit("fortnights"), 1); err == nil {
		t.Fatal("expected an error for an unknown interval unit")
	}
}

func TestAdvancePastDueSkipsEveryMissedFire(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC)
	step := func(t time.Time) (time.Time, error) { return t.AddDate(0, 0, 1), nil }

	next, skipped, err := advancePastDue(start, after, step)
	if err != nil {
		t.Fatalf("advancePastDue: %v", err)
	}
	if skipped != 4 {
		t.Fatalf("got %d skipped fires, want 4", skipped)
	}
	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got next=%v, want %v", next, want)
	}
	if !next.After(after) {
		t.Fatalf("next %v must be strictly after %v", next, after)
	}
}

func TestAdvancePastDueRejectsNonAdvancingStep(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	step := func(t time.Time) (time.Time, error) { return t, nil }

	if _, _, err := advancePastDue(start, after, step); err == nil {
		t.Fatal("expected an error when step does not advance time")
	}
}
