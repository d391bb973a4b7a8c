package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MemoryLedger keeps the schedule and patient roster in process memory.
// A single mutex serializes every mutation, which makes Book's
// check-then-set atomic across conversations sharing the ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	window   Window
	schedule map[string]map[string]SlotStatus
	patients map[string]*PatientRecord
}

// NewMemoryLedger builds a ledger over a prepared schedule and roster.
// Patient names are matched case-insensitively on read and write.
func NewMemoryLedger(window Window, schedule map[string]map[string]SlotStatus, patients []PatientRecord) (*MemoryLedger, error) {
	if len(schedule) == 0 {
		return nil, errors.New("schedule is required")
	}

	byName := make(map[string]*PatientRecord, len(patients))
	for i := range patients {
		p := patients[i]
		key := patientKey(p.Name)
		if key == "" {
			return nil, fmt.Errorf("patient %d has an empty name", i)
		}
		if p.NextAppointment == "" {
			p.NextAppointment = NoAppointment
		}
		byName[key] = &p
	}

	copied := make(map[string]map[string]SlotStatus, len(schedule))
	for date, day := range schedule {
		slots := make(map[string]SlotStatus, len(day))
		for label, status := range day {
			slots[label] = status
		}
		copied[date] = slots
	}

	return &MemoryLedger{
		window:   window,
		schedule: copied,
		patients: byName,
	}, nil
}

func (l *MemoryLedger) ReadSlot(_ context.Context, date, timeLabel string) (SlotStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day, ok := l.schedule[date]
	if !ok {
		return "", fmt.Errorf("%w: date=%s", ErrUnknownSlot, date)
	}
	status, ok := day[timeLabel]
	if !ok {
		return "", fmt.Errorf("%w: date=%s time=%s", ErrUnknownSlot, date, timeLabel)
	}
	return status, nil
}

func (l *MemoryLedger) ReadPatient(_ context.Context, name string) (PatientRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.patients[patientKey(name)]
	if !ok {
		return PatientRecord{}, fmt.Errorf("%w: %s", ErrUnknownPatient, name)
	}
	return *p, nil
}

// Book transitions one Open slot to Booked and stamps the patient's next
// appointment, all under the ledger lock. Precondition failures come back
// as sentinel errors and leave both the slot and the record untouched.
func (l *MemoryLedger) Book(_ context.Context, date, timeLabel, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.window.Contains(date) {
		return fmt.Errorf("%w: date=%s", ErrOutOfWindow, date)
	}

	day, ok := l.schedule[date]
	if !ok {
		return fmt.Errorf("%w: date=%s", ErrUnknownSlot, date)
	}
	status, ok := day[timeLabel]
	if !ok {
		return fmt.Errorf("%w: date=%s time=%s", ErrUnknownSlot, date, timeLabel)
	}

	switch status {
	case SlotClosed:
		return fmt.Errorf("%w: date=%s time=%s", ErrSlotClosed, date, timeLabel)
	case SlotBooked:
		return fmt.Errorf("%w: date=%s time=%s", ErrAlreadyBooked, date, timeLabel)
	}

	p, ok := l.patients[patientKey(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPatient, name)
	}

	day[timeLabel] = SlotBooked
	p.NextAppointment = date
	return nil
}

func (l *MemoryLedger) Snapshot(_ context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		Schedule: make(map[string]map[string]SlotStatus, len(l.schedule)),
		Patients: make(map[string]PatientRecord, len(l.patients)),
	}
	for date, day := range l.schedule {
		slots := make(map[string]SlotStatus, len(day))
		for label, status := range day {
			slots[label] = status
		}
		snap.Schedule[date] = slots
	}
	for _, p := range l.patients {
		snap.Patients[p.Name] = *p
	}
	return snap, nil
}

func patientKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
