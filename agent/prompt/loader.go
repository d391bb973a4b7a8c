package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/malachide2/CareWallet-Chatbot/agent/ledger"
)

var (
	//go:embed template/receptionist.txt
	receptionistRaw string

	receptionistTmpl = template.Must(template.New("receptionist").Parse(strings.TrimSpace(receptionistRaw)))
)

// receptionistVars holds the per-conversation values substituted into the
// receptionist template.
type receptionistVars struct {
	PatientName string
	Date        string
	DayOfWeek   string
	EndDate     string
}

// Receptionist renders the system prompt for an outbound scheduling call.
// The reference date anchors the booking window: today and earlier are
// rejected, and so is anything past the window's end.
func Receptionist(patient string, referenceDate time.Time) (string, error) {
	day := ledger.CalendarDay(referenceDate)
	vars := receptionistVars{
		PatientName: patient,
		Date:        day.Format(time.DateOnly),
		DayOfWeek:   day.Weekday().String(),
		EndDate:     day.AddDate(0, 0, ledger.ScheduleDays).Format(time.DateOnly),
	}

	var sb strings.Builder
	if err := receptionistTmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render receptionist prompt: %w", err)
	}
	return sb.String(), nil
}
