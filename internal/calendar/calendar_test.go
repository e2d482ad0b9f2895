package calendar

import (
	"testing"
	"time"
)

func TestDayBounds_UTC(t *testing.T) {
	at := time.Date(2030, time.March, 15, 17, 45, 0, 0, time.UTC)
	start, end := DayBounds(at, time.UTC)

	want := time.Date(2030, time.March, 15, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("start got %v want %v", start, want)
	}
	if !end.Equal(want.AddDate(0, 0, 1)) {
		t.Fatalf("end got %v want %v", end, want.AddDate(0, 0, 1))
	}
	if !Within(at, start, end) {
		t.Fatalf("%v should be within [%v, %v)", at, start, end)
	}
	if Within(end, start, end) {
		t.Fatalf("end must be exclusive")
	}
}

func TestDayBounds_ZoneShiftsDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 20:00 UTC on the 15th is already the 16th at UTC+10.
	at := time.Date(2030, time.March, 15, 20, 0, 0, 0, time.UTC)
	start, _ := DayBounds(at, loc)

	if start.Day() != 16 {
		t.Fatalf("start day got %d want 16", start.Day())
	}
	if got := DayKey(at, loc); got != "2030-03-16" {
		t.Fatalf("DayKey got %s want 2030-03-16", got)
	}
	if DayKey(at.Add(-21*time.Hour), loc) == DayKey(at, loc) {
		t.Fatalf("expected different days in %s", loc)
	}
}

func TestDayBounds_DST(t *testing.T) {
	loc, err := LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	// 2030-03-10 is a 23h day in New York.
	at := time.Date(2030, time.March, 10, 12, 0, 0, 0, loc)
	start, end := DayBounds(at, loc)
	if got := end.Sub(start); got != 23*time.Hour {
		t.Fatalf("day length got %v want 23h", got)
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	if err != nil || loc != time.UTC {
		t.Fatalf("empty name: got %v, %v", loc, err)
	}
	if _, err := LoadLocation("Not/AZone"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
