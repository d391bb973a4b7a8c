package ledger

import (
	"context"
	"errors"
	"time"
)

// SlotStatus is the booking state of one (date, time-label) pair.
type SlotStatus string

const (
	SlotClosed SlotStatus = "Closed"
	SlotOpen   SlotStatus = "Open"
	SlotBooked SlotStatus = "Booked"
)

// PatientRecord is the ledger-side view of one patient. Dates use the
// YYYY-MM-DD layout; NextAppointment is "None" until a booking succeeds.
type PatientRecord struct {
	Name            string `json:"name"`
	Age             int    `json:"age"`
	Phone           string `json:"phone"`
	Insurance       string `json:"insurance"`
	LastAppointment string `json:"last_appointment"`
	NextAppointment string `json:"next_appointment"`
}

const NoAppointment = "None"

var (
	ErrAlreadyBooked  = errors.New("slot is already booked")
	ErrSlotClosed     = errors.New("slot is outside clinic hours")
	ErrOutOfWindow    = errors.New("date is outside the booking window")
	ErrUnknownSlot    = errors.New("no schedule published for slot")
	ErrUnknownPatient = errors.New("patient not found")
)

// ScheduleDays is how many consecutive dates, starting at the reference
// date, carry a published schedule.
const ScheduleDays = 5

// Window is the legal booking horizon: strictly after Start, at most End.
type Window struct {
	Start time.Time
	End   time.Time
}

// CalendarDay returns midnight of t's calendar day in t's location.
// Truncating in absolute time would shift the day near midnight in any
// non-UTC zone.
func CalendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NewWindow builds the booking window for a conversation created on start:
// bookable dates satisfy start < d <= start+ScheduleDays.
func NewWindow(start time.Time) Window {
	day := CalendarDay(start)
	return Window{Start: day, End: day.AddDate(0, 0, ScheduleDays)}
}

// Contains reports whether the date (YYYY-MM-DD) falls inside the window.
// Malformed dates are outside every window. The comparison is by calendar
// date, so the window's zone never bleeds into it.
func (w Window) Contains(date string) bool {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return false
	}
	return date > w.Start.Format(time.DateOnly) && date <= w.End.Format(time.DateOnly)
}

// Snapshot is a point-in-time copy of the whole ledger, used to build the
// retrieval corpus. Mutating it does not touch the ledger.
type Snapshot struct {
	Schedule map[string]map[string]SlotStatus `json:"doctor_schedule"`
	Patients map[string]PatientRecord         `json:"patient_data"`
}

// Ledger is the single source of truth for doctor availability and patient
// state. Book is atomic with respect to the open-slot check: two racing
// bookings for one slot yield exactly one success and one ErrAlreadyBooked.
type Ledger interface {
	ReadSlot(ctx context.Context, date, timeLabel string) (SlotStatus, error)
	ReadPatient(ctx context.Context, name string) (PatientRecord, error)
	Book(ctx context.Context, date, timeLabel, name string) error
	Snapshot(ctx context.Context) (Snapshot, error)
}
