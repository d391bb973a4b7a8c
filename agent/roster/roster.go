// Package roster decides which patients of the clinic are due for an
// outbound scheduling call.
package roster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/malachide2/CareWallet-Chatbot/agent/ledger"
)

// Policy controls when a patient counts as overdue relative to a reference
// date. The default matches clinic practice: anyone whose last visit was in
// an earlier year and whose visit month has already come around again.
type Policy struct {
	// YearGap is the number of whole calendar years after which a patient
	// is overdue regardless of month.
	YearGap int `envconfig:"YEAR_GAP" split_words:"true" default:"1"`
	// MonthInclusive counts the anniversary month itself as overdue.
	MonthInclusive bool `envconfig:"MONTH_INCLUSIVE" split_words:"true" default:"true"`
}

// Due reports whether a patient last seen on last is overdue at ref.
func (p Policy) Due(last, ref time.Time) bool {
	if ref.Year()-last.Year() > p.YearGap {
		return true
	}
	if ref.Year() <= last.Year() {
		return false
	}
	if p.MonthInclusive {
		return ref.Month() >= last.Month()
	}
	return ref.Month() > last.Month()
}

// Select returns the names of patients due for a call at ref, in stable
// alphabetical order. Patients with an appointment already on the books are
// skipped, as are records whose last-appointment date cannot be parsed.
func Select(ctx context.Context, led ledger.Ledger, p Policy, ref time.Time) ([]string, error) {
	snap, err := led.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var due []string
	for name, record := range snap.Patients {
		if record.NextAppointment != ledger.NoAppointment {
			continue
		}
		last, err := time.Parse(time.DateOnly, record.LastAppointment)
		if err != nil {
			log.Warn().Str("patient", name).Str("last_appointment", record.LastAppointment).
				Msg("unparseable last appointment, skipping")
			continue
		}
		if p.Due(last, ref) {
			due = append(due, record.Name)
		}
	}
	sort.Strings(due)
	return due, nil
}
