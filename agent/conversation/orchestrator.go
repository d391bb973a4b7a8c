package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/malachide2/CareWallet-Chatbot/agent/contract"
	"github.com/malachide2/CareWallet-Chatbot/agent/tool"
)

var (
	ErrTerminated           = errors.New("conversation is terminated")
	ErrEmptyUtterance       = errors.New("patient utterance is empty")
	ErrGenerationExhausted  = errors.New("turn generator kept returning empty replies")
	ErrToolRoundsExceeded   = errors.New("tool dispatch rounds exceeded")
	errNoUsableReply        = errors.New("empty or malformed generator reply")
	patientInfoToolName     = tool.ToolRetrievePatientInfo
	correctiveInstruction   = "Respond with a real output."
	disclosureSubstituteFmt = "I'm sorry, before I can go over any record details I need to confirm I'm speaking with %s. Could you confirm your full name?"
)

const (
	defaultClosingToken         = "bye"
	defaultMaxGenerationRetries = 2
	defaultMaxToolRounds        = 8
)

// Orchestrator runs the turn loop for conversations: generate, dispatch any
// requested tools, fold observations, and re-generate until the generator
// settles on a natural-language reply.
type Orchestrator struct {
	generator contract.TurnGenerator
	tools     contract.ToolGateway
	logger    zerolog.Logger

	closingToken  string
	maxRetries    int
	maxToolRounds int
	now           func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClosingToken overrides the termination token scanned for in agent
// replies.
func WithClosingToken(token string) Option {
	return func(o *Orchestrator) {
		trimmed := strings.TrimSpace(token)
		if trimmed != "" {
			o.closingToken = trimmed
		}
	}
}

// WithMaxGenerationRetries bounds how many corrective re-generations are
// attempted after an empty or failed generator reply.
func WithMaxGenerationRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(generator contract.TurnGenerator, tools contract.ToolGateway, opts ...Option) (*Orchestrator, error) {
	if generator == nil {
		return nil, errors.New("turn generator is required")
	}
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}

	o := &Orchestrator{
		generator:     generator,
		tools:         tools,
		logger:        log.With().Str("component", "orchestrator").Logger(),
		closingToken:  defaultClosingToken,
		maxRetries:    defaultMaxGenerationRetries,
		maxToolRounds: defaultMaxToolRounds,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Start creates a conversation anchored at the reference date and produces
// the opening greeting. The greeting is generated, screened, and appended
// like any other agent turn, so a greeting that already carries the closing
// token terminates the conversation before any patient input.
func (o *Orchestrator) Start(ctx context.Context, patient string, referenceDate time.Time) (*Conversation, string, error) {
	patient = strings.TrimSpace(patient)
	if patient == "" {
		return nil, "", fmt.Errorf("%w: patient name is required", contract.ErrValidation)
	}
	if referenceDate.IsZero() {
		referenceDate = o.now()
	}

	conv := NewConversation(patient, referenceDate)
	greeting, err := o.runTurnCycle(ctx, conv)
	if err != nil {
		return nil, "", err
	}
	return conv, greeting, nil
}

// Submit appends one patient utterance and runs the loop to the next agent
// reply. After termination it returns ErrTerminated.
func (o *Orchestrator) Submit(ctx context.Context, conv *Conversation, text string) (string, error) {
	if conv == nil {
		return "", fmt.Errorf("%w: conversation is nil", contract.ErrValidation)
	}
	if conv.Terminated() {
		return "", ErrTerminated
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyUtterance
	}

	conv.append(contract.SpeakerPatient, text)
	conv.noteUtterance(text)
	return o.runTurnCycle(ctx, conv)
}

// runTurnCycle drives Generating/Dispatching until a natural-language reply
// lands, then screens and appends it and decides termination.
func (o *Orchestrator) runTurnCycle(ctx context.Context, conv *Conversation) (string, error) {
	for round := 0; ; round++ {
		conv.phase = PhaseGenerating
		reply, err := o.generateWithRetry(ctx, conv)
		if err != nil {
			// Aborting kills only this conversation; nothing was booked by
			// the generator itself, so there are no side effects to undo.
			conv.phase = PhaseTerminated
			return "", err
		}

		if len(reply.ToolRequests) > 0 {
			if round >= o.maxToolRounds {
				conv.phase = PhaseTerminated
				return "", fmt.Errorf("%w: %d rounds", ErrToolRoundsExceeded, round)
			}
			if err := o.dispatch(ctx, conv, reply.ToolRequests); err != nil {
				conv.phase = PhaseTerminated
				return "", err
			}
			continue
		}

		msg := o.vetDisclosure(conv, strings.TrimSpace(reply.Message))
		conv.append(contract.SpeakerAgent, msg)

		if o.containsClosingToken(msg) {
			conv.phase = PhaseTerminated
			o.logger.Info().Str("session_id", conv.SessionID).Msg("conversation terminated")
		} else {
			conv.phase = PhaseAwaitingPatient
		}
		return msg, nil
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, conv *Conversation, reqs []contract.ToolRequest) error {
	conv.phase = PhaseDispatching
	results, err := o.tools.Execute(ctx, reqs)
	if err != nil {
		return fmt.Errorf("tool gateway: %w", err)
	}

	for _, res := range results {
		obs := observationText(res)
		conv.append(contract.SpeakerTool, obs)
		conv.noteObservation(res.Tool, res.Observation)
	}
	return nil
}

// generateWithRetry invokes the generator; on an empty reply or an invoke
// failure it injects a corrective user-role turn and tries again, up to the
// retry bound.
func (o *Orchestrator) generateWithRetry(ctx context.Context, conv *Conversation) (contract.GeneratorReply, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		reply, err := o.generator.Generate(ctx, conv.History())
		if err == nil {
			reply.Message = strings.TrimSpace(reply.Message)
			if !reply.Empty() {
				return reply, nil
			}
			err = errNoUsableReply
		}

		lastErr = err
		o.logger.Warn().
			Err(err).
			Str("session_id", conv.SessionID).
			Int("attempt", attempt+1).
			Msg("generation failed, re-prompting")
		conv.append(contract.SpeakerPatient, correctiveInstruction)
	}
	return contract.GeneratorReply{}, fmt.Errorf("%w: %v", ErrGenerationExhausted, lastErr)
}

// vetDisclosure suppresses record details in pre-verification replies. The
// substituted re-prompt is what the patient sees; the original reply is
// logged, never shown.
func (o *Orchestrator) vetDisclosure(conv *Conversation, msg string) string {
	if conv.Verified() {
		return msg
	}
	scan := conv.guard.Scan(msg)
	if !scan.Leaked {
		return msg
	}

	o.logger.Warn().
		Str("session_id", conv.SessionID).
		Strs("reasons", scan.Reasons).
		Msg("disclosure before verification suppressed")
	return fmt.Sprintf(disclosureSubstituteFmt, conv.Patient)
}

func (o *Orchestrator) containsClosingToken(msg string) bool {
	return strings.Contains(strings.ToLower(msg), strings.ToLower(o.closingToken))
}

// observationText renders a tool result as transcript content. Failures are
// folded in as text so the next generation pass can recover.
func observationText(res contract.ToolResult) string {
	switch {
	case res.Error != "":
		return fmt.Sprintf("%s: error: %s", res.Tool, res.Error)
	case res.Observation != "":
		return fmt.Sprintf("%s: %s", res.Tool, res.Observation)
	default:
		return fmt.Sprintf("%s: no results", res.Tool)
	}
}
