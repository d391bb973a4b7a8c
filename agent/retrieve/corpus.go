package retrieve

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/malachide2/CareWallet-Chatbot/agent/ledger"
)

// BuildCorpus flattens a ledger snapshot into one document per schedule day
// and one per patient record. Document text is stable labeled prose so that
// exact tokens (dates, names, insurance providers) are retrievable.
func BuildCorpus(snap ledger.Snapshot) []Document {
	docs := make([]Document, 0, len(snap.Schedule)+len(snap.Patients))

	dates := make([]string, 0, len(snap.Schedule))
	for date := range snap.Schedule {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		docs = append(docs, Document{
			ID:   "schedule:" + date,
			Text: scheduleDocText(date, snap.Schedule[date]),
		})
	}

	names := make([]string, 0, len(snap.Patients))
	for name := range snap.Patients {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		docs = append(docs, Document{
			ID:   "patient:" + name,
			Text: PatientDocText(snap.Patients[name]),
		})
	}
	return docs
}

func scheduleDocText(date string, day map[string]ledger.SlotStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "doctor schedule for %s", date)
	if d, err := time.Parse(time.DateOnly, date); err == nil {
		fmt.Fprintf(&b, " (%s)", d.Weekday())
	}
	b.WriteString(":")

	// hour order, not map order
	for hour := 0; hour < 24; hour++ {
		label := ledger.TimeLabel(hour)
		status, ok := day[label]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, " %s: %s;", label, status)
	}
	return b.String()
}

// PatientDocText renders a patient record as the labeled fragment the
// retriever serves and the disclosure guard parses.
func PatientDocText(p ledger.PatientRecord) string {
	return fmt.Sprintf(
		"patient record for %s: age: %d; phone: %s; insurance: %s; last appointment: %s; next appointment: %s",
		p.Name, p.Age, p.Phone, p.Insurance, p.LastAppointment, p.NextAppointment,
	)
}
