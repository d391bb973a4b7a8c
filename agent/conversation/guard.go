package conversation

import (
	"regexp"
	"strings"
)

var (
	insuranceFieldPattern = regexp.MustCompile(`(?i)insurance:\s*([^;]+)`)
	lastApptFieldPattern  = regexp.MustCompile(`(?i)last appointment:\s*(\d{4}-\d{2}-\d{2})`)
)

// ScanResult is the outcome of screening an outbound agent reply.
type ScanResult struct {
	Leaked  bool
	Reasons []string
}

// Guard screens agent replies for patient-record disclosures before the
// caller's identity is verified. It learns the sensitive values (insurance
// provider, historical appointment dates) from the patient-information
// observations folded into the transcript, so the screen matches the actual
// record values rather than guessing at phrasing.
type Guard struct {
	insurers map[string]struct{}
	dates    map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{
		insurers: make(map[string]struct{}),
		dates:    make(map[string]struct{}),
	}
}

// LearnPatientRecord extracts sensitive values from a patient-record
// fragment. The fragment layout is the retriever's labeled form, so field
// extraction is deterministic.
func (g *Guard) LearnPatientRecord(observation string) {
	for _, m := range insuranceFieldPattern.FindAllStringSubmatch(observation, -1) {
		value := strings.ToLower(strings.TrimSpace(m[1]))
		if value != "" {
			g.insurers[value] = struct{}{}
		}
	}
	for _, m := range lastApptFieldPattern.FindAllStringSubmatch(observation, -1) {
		g.dates[m[1]] = struct{}{}
	}
}

// Scan reports whether the reply contains any learned sensitive value.
func (g *Guard) Scan(reply string) ScanResult {
	lowered := strings.ToLower(reply)

	var reasons []string
	for insurer := range g.insurers {
		if strings.Contains(lowered, insurer) {
			reasons = append(reasons, "disclosure:insurance")
			break
		}
	}
	for date := range g.dates {
		if strings.Contains(reply, date) {
			reasons = append(reasons, "disclosure:appointment_history")
			break
		}
	}

	return ScanResult{
		Leaked:  len(reasons) > 0,
		Reasons: reasons,
	}
}
