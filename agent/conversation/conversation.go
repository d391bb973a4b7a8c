// Package conversation drives the per-session scheduling dialogue: it owns
// the transcript, the turn loop, and the protocol invariants that hold no
// matter what the turn generator or the patient says.
package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/malachide2/CareWallet-Chatbot/agent/contract"
	"github.com/malachide2/CareWallet-Chatbot/agent/ledger"
)

// Phase is the orchestration state of one conversation.
type Phase string

const (
	PhaseInit            Phase = "init"
	PhaseAwaitingPatient Phase = "awaiting_patient"
	PhaseGenerating      Phase = "generating"
	PhaseDispatching     Phase = "dispatching"
	PhaseTerminated      Phase = "terminated"
)

// Conversation is the session state for one patient call. It is owned by a
// single orchestrator and is not safe for concurrent use; separate
// conversations run independently and share only the ledger and retriever.
type Conversation struct {
	SessionID string
	Patient   string
	CreatedAt time.Time
	Window    ledger.Window

	history     []contract.DialogueTurn
	nextOrdinal int
	phase       Phase

	// verification preconditions, tracked explicitly so a hallucinated
	// confirmation in generated text can never unlock disclosure
	nameAffirmed  bool
	infoRetrieved bool

	guard *Guard
}

// NewConversation freezes the reference date and booking window for the
// session and assigns a fresh session ID.
func NewConversation(patient string, referenceDate time.Time) *Conversation {
	day := ledger.CalendarDay(referenceDate)
	return &Conversation{
		SessionID: uuid.NewString(),
		Patient:   strings.TrimSpace(patient),
		CreatedAt: day,
		Window:    ledger.NewWindow(day),
		phase:     PhaseInit,
		guard:     NewGuard(),
	}
}

func (c *Conversation) Phase() Phase { return c.phase }

func (c *Conversation) Terminated() bool { return c.phase == PhaseTerminated }

// Verified reports whether disclosure is allowed: the patient has stated the
// expected name and a patient-information observation is in the transcript.
func (c *Conversation) Verified() bool {
	return c.nameAffirmed && c.infoRetrieved
}

// History returns a copy of the transcript in turn order.
func (c *Conversation) History() []contract.DialogueTurn {
	return append([]contract.DialogueTurn(nil), c.history...)
}

// append adds one turn with the next ordinal. Ordinals are unique and
// strictly increasing; callers never pick them.
func (c *Conversation) append(speaker contract.Speaker, content string) contract.DialogueTurn {
	turn := contract.DialogueTurn{
		Speaker: speaker,
		Content: content,
		Ordinal: c.nextOrdinal,
	}
	c.nextOrdinal++
	c.history = append(c.history, turn)
	return turn
}

// noteUtterance inspects a patient turn for the expected full name. The
// match is against the transcript, not generated text.
func (c *Conversation) noteUtterance(text string) {
	if c.Patient == "" {
		return
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(c.Patient)) {
		c.nameAffirmed = true
	}
}

// noteObservation folds tool-result side effects into verification state:
// a non-empty patient-information observation both satisfies the retrieval
// precondition and teaches the guard which values are sensitive.
func (c *Conversation) noteObservation(toolName, observation string) {
	if toolName != patientInfoToolName || observation == "" {
		return
	}
	c.infoRetrieved = true
	c.guard.LearnPatientRecord(observation)
}
