package ledger

import (
	"fmt"
	"math/rand"
	"time"
)

var seedPatientNames = []string{"Laura Diaz", "Rose Jackson", "Julia Robinson", "Patrick Gray"}

var seedInsuranceProviders = []string{
	"United Healthcare",
	"Blue Cross Blue Shield",
	"Aetna",
	"Kaiser Permanente",
}

// clinic hours: first and last bookable hour of the day (24h clock)
const (
	clinicOpensAt  = 9
	clinicClosesAt = 16
)

// TimeLabel renders an hour of the day as the schedule's time-of-day label
// (12am, 1am, ..., 12pm, 1pm, ...).
func TimeLabel(hour int) string {
	switch {
	case hour == 0:
		return "12am"
	case hour == 12:
		return "12pm"
	case hour < 12:
		return fmt.Sprintf("%dam", hour)
	default:
		return fmt.Sprintf("%dpm", hour%12)
	}
}

// SeedSchedule builds a randomized schedule for ScheduleDays consecutive
// dates beginning at start. Hours outside clinic hours are Closed; the rest
// are randomly Open or Booked.
func SeedSchedule(start time.Time, rng *rand.Rand) map[string]map[string]SlotStatus {
	schedule := make(map[string]map[string]SlotStatus, ScheduleDays)
	for i := 0; i < ScheduleDays; i++ {
		day := make(map[string]SlotStatus, 24)
		for hour := 0; hour < 24; hour++ {
			label := TimeLabel(hour)
			if hour < clinicOpensAt || hour > clinicClosesAt {
				day[label] = SlotClosed
				continue
			}
			if rng.Intn(2) == 0 {
				day[label] = SlotBooked
			} else {
				day[label] = SlotOpen
			}
		}
		date := start.AddDate(0, 0, i).Format(time.DateOnly)
		schedule[date] = day
	}
	return schedule
}

// SeedPatients builds the demo roster with randomized ages, phone numbers,
// insurance providers, and last appointment dates.
func SeedPatients(rng *rand.Rand) []PatientRecord {
	patients := make([]PatientRecord, 0, len(seedPatientNames))
	for _, name := range seedPatientNames {
		patients = append(patients, PatientRecord{
			Name:      name,
			Age:       18 + rng.Intn(73),
			Phone:     fmt.Sprintf("%d-%03d-%04d", 100+rng.Intn(900), rng.Intn(1000), rng.Intn(10000)),
			Insurance: seedInsuranceProviders[rng.Intn(len(seedInsuranceProviders))],
			LastAppointment: fmt.Sprintf("%d-%02d-%02d",
				2020+rng.Intn(4), 1+rng.Intn(11), 1+rng.Intn(28)),
			NextAppointment: NoAppointment,
		})
	}
	return patients
}

// SeedMemoryLedger assembles a randomized in-memory ledger anchored at the
// reference date.
func SeedMemoryLedger(referenceDate time.Time, rng *rand.Rand) (*MemoryLedger, error) {
	window := NewWindow(referenceDate)
	return NewMemoryLedger(window, SeedSchedule(window.Start, rng), SeedPatients(rng))
}
