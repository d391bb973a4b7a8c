package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func newTestLedger(t *testing.T) *MemoryLedger {
	t.Helper()

	window := NewWindow(mustDate(t, "2024-08-05"))
	schedule := map[string]map[string]SlotStatus{
		"2024-08-06": {
			"9am": SlotOpen,
			"1pm": SlotBooked,
			"7am": SlotClosed,
		},
		"2024-08-08": {
			"2pm": SlotOpen,
		},
	}
	patients := []PatientRecord{
		{
			Name:            "Laura Diaz",
			Age:             44,
			Phone:           "555-010-2021",
			Insurance:       "Kaiser Permanente",
			LastAppointment: "2022-05-11",
		},
		{
			Name:            "Patrick Gray",
			Age:             61,
			Phone:           "555-010-3344",
			Insurance:       "Aetna",
			LastAppointment: "2023-03-02",
		},
	}

	l, err := NewMemoryLedger(window, schedule, patients)
	if err != nil {
		t.Fatalf("NewMemoryLedger() error = %v", err)
	}
	return l
}

func TestWindowContains(t *testing.T) {
	t.Parallel()

	w := NewWindow(mustDate(t, "2024-08-05"))

	cases := []struct {
		date string
		want bool
	}{
		{"2024-08-05", false}, // same day is excluded
		{"2024-08-06", true},
		{"2024-08-10", true}, // start+5 is the last legal day
		{"2024-08-11", false},
		{"2024-07-30", false},
		{"not-a-date", false},
	}
	for _, tc := range cases {
		if got := w.Contains(tc.date); got != tc.want {
			t.Errorf("Contains(%q) = %v, want %v", tc.date, got, tc.want)
		}
	}
}

func TestWindowAnchorsOnLocalCalendarDay(t *testing.T) {
	t.Parallel()

	// 01:00 east of UTC is still the previous day in absolute time; the
	// window must anchor on the local calendar day regardless.
	zones := []*time.Location{
		time.FixedZone("UTC+9", 9*60*60),
		time.FixedZone("UTC-7", -7*60*60),
	}
	for _, zone := range zones {
		for _, hour := range []int{1, 23} {
			start := time.Date(2024, 8, 5, hour, 0, 0, 0, zone)
			w := NewWindow(start)

			if got := w.Start.Format(time.DateOnly); got != "2024-08-05" {
				t.Errorf("NewWindow(%v).Start day = %s, want 2024-08-05", start, got)
			}
			if w.Contains("2024-08-05") {
				t.Errorf("zone %v hour %d: creation day must not be bookable", zone, hour)
			}
			if !w.Contains("2024-08-06") {
				t.Errorf("zone %v hour %d: first day after creation must be bookable", zone, hour)
			}
			if !w.Contains("2024-08-10") {
				t.Errorf("zone %v hour %d: last legal day must be bookable", zone, hour)
			}
			if w.Contains("2024-08-11") {
				t.Errorf("zone %v hour %d: day past the window must be rejected", zone, hour)
			}
		}
	}
}

func TestBookOpenSlot(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	ctx := context.Background()

	if err := l.Book(ctx, "2024-08-06", "9am", "Laura Diaz"); err != nil {
		t.Fatalf("Book() error = %v", err)
	}

	status, err := l.ReadSlot(ctx, "2024-08-06", "9am")
	if err != nil {
		t.Fatalf("ReadSlot() error = %v", err)
	}
	if status != SlotBooked {
		t.Fatalf("slot status = %s, want %s", status, SlotBooked)
	}

	p, err := l.ReadPatient(ctx, "laura diaz")
	if err != nil {
		t.Fatalf("ReadPatient() error = %v", err)
	}
	if p.NextAppointment != "2024-08-06" {
		t.Fatalf("next appointment = %s, want 2024-08-06", p.NextAppointment)
	}
}

func TestBookRejections(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		date      string
		timeLabel string
		patient   string
		wantErr   error
	}{
		{"closed slot", "2024-08-06", "7am", "Laura Diaz", ErrSlotClosed},
		{"already booked", "2024-08-06", "1pm", "Laura Diaz", ErrAlreadyBooked},
		{"out of window", "2024-08-20", "9am", "Laura Diaz", ErrOutOfWindow},
		{"on the reference date", "2024-08-05", "9am", "Laura Diaz", ErrOutOfWindow},
		{"no schedule for date", "2024-08-07", "9am", "Laura Diaz", ErrUnknownSlot},
		{"unknown time label", "2024-08-06", "3pm", "Laura Diaz", ErrUnknownSlot},
		{"unknown patient", "2024-08-06", "9am", "Bob", ErrUnknownPatient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := l.Book(ctx, tc.date, tc.timeLabel, tc.patient); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Book() error = %v, want %v", err, tc.wantErr)
			}
		})
	}

	// None of the rejections may have mutated patient state.
	p, err := l.ReadPatient(ctx, "Laura Diaz")
	if err != nil {
		t.Fatalf("ReadPatient() error = %v", err)
	}
	if p.NextAppointment != NoAppointment {
		t.Fatalf("next appointment = %s, want %s", p.NextAppointment, NoAppointment)
	}
}

func TestBookSameSlotTwice(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	ctx := context.Background()

	if err := l.Book(ctx, "2024-08-08", "2pm", "Laura Diaz"); err != nil {
		t.Fatalf("first Book() error = %v", err)
	}
	if err := l.Book(ctx, "2024-08-08", "2pm", "Patrick Gray"); !errors.Is(err, ErrAlreadyBooked) {
		t.Fatalf("second Book() error = %v, want ErrAlreadyBooked", err)
	}

	p, err := l.ReadPatient(ctx, "Patrick Gray")
	if err != nil {
		t.Fatalf("ReadPatient() error = %v", err)
	}
	if p.NextAppointment != NoAppointment {
		t.Fatalf("losing caller's record mutated: next appointment = %s", p.NextAppointment)
	}
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	names := []string{"Laura Diaz", "Patrick Gray"}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Book(ctx, "2024-08-08", "2pm", names[i])
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyBooked):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want exactly one of each", wins, conflicts)
	}
}

func TestSeedScheduleShape(t *testing.T) {
	t.Parallel()

	start := mustDate(t, "2024-08-05")
	rng := rand.New(rand.NewSource(1))
	schedule := SeedSchedule(start, rng)

	if len(schedule) != ScheduleDays {
		t.Fatalf("len(schedule) = %d, want %d", len(schedule), ScheduleDays)
	}
	for i := 0; i < ScheduleDays; i++ {
		date := start.AddDate(0, 0, i).Format(time.DateOnly)
		day, ok := schedule[date]
		if !ok {
			t.Fatalf("missing schedule for %s", date)
		}
		if len(day) != 24 {
			t.Fatalf("day %s has %d slots, want 24", date, len(day))
		}
		if day["7am"] != SlotClosed || day["11pm"] != SlotClosed {
			t.Fatalf("hours outside clinic hours must be Closed, got %s/%s", day["7am"], day["11pm"])
		}
		if day["9am"] == SlotClosed || day["4pm"] == SlotClosed {
			t.Fatalf("clinic hours must not be Closed")
		}
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	ctx := context.Background()

	snap, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	snap.Schedule["2024-08-06"]["9am"] = SlotBooked

	status, err := l.ReadSlot(ctx, "2024-08-06", "9am")
	if err != nil {
		t.Fatalf("ReadSlot() error = %v", err)
	}
	if status != SlotOpen {
		t.Fatalf("snapshot mutation leaked into ledger: status = %s", status)
	}
}
