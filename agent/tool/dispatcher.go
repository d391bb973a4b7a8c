package tool

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/malachide2/CareWallet-Chatbot/agent/contract"
	"github.com/malachide2/CareWallet-Chatbot/agent/ledger"
)

var timeLabelPattern = regexp.MustCompile(`^(1[0-2]|[1-9])(am|pm)$`)

// Dispatcher resolves tool requests into observations. Lookups go through
// the retriever; bookings go through the ledger, whose Book re-checks the
// slot state atomically so no observation is based on a stale read.
type Dispatcher struct {
	retriever contract.Retriever
	book      ledger.Ledger
	logger    zerolog.Logger
}

func NewDispatcher(retriever contract.Retriever, book ledger.Ledger) (*Dispatcher, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if book == nil {
		return nil, errors.New("ledger is required")
	}
	return &Dispatcher{
		retriever: retriever,
		book:      book,
		logger:    log.With().Str("component", "tool_dispatcher").Logger(),
	}, nil
}

var _ contract.ToolGateway = (*Dispatcher)(nil)

// Execute runs every request in order and returns one result per request.
// Tool-level failures (bad arguments, booking conflicts, unknown patients)
// are folded into the result so the dialogue can recover; only retriever
// transport errors surface as empty observations with the error recorded.
func (d *Dispatcher) Execute(ctx context.Context, reqs []contract.ToolRequest) ([]contract.ToolResult, error) {
	results := make([]contract.ToolResult, 0, len(reqs))
	for _, req := range reqs {
		res := d.dispatch(ctx, req)
		d.logger.Debug().
			Str("tool", req.Tool).
			Str("error", res.Error).
			Msg("tool dispatched")
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req contract.ToolRequest) contract.ToolResult {
	switch req.Tool {
	case ToolRetrievePatientInfo:
		return d.retrievePatientInfo(ctx, req)
	case ToolFindSchedule:
		return d.findSchedule(ctx, req)
	case ToolScheduleAppointment:
		return d.scheduleAppointment(ctx, req)
	default:
		return contract.ToolResult{
			Tool:  req.Tool,
			Error: fmt.Sprintf("tool=%s is not available", req.Tool),
		}
	}
}

func (d *Dispatcher) retrievePatientInfo(ctx context.Context, req contract.ToolRequest) contract.ToolResult {
	name, err := stringArg(req.Args, "name")
	if err != nil {
		return contract.ToolResult{Tool: req.Tool, Error: err.Error()}
	}

	frags, err := d.retriever.Query(ctx, name)
	if err != nil {
		// Degraded, not fatal: the conversation continues on an empty observation.
		d.logger.Warn().Err(err).Str("tool", req.Tool).Msg("retrieval failed")
		return contract.ToolResult{Tool: req.Tool}
	}

	// An unknown name matches nothing exactly; that is an empty observation,
	// not an error.
	return contract.ToolResult{Tool: req.Tool, Observation: joinExactMatches(frags)}
}

func (d *Dispatcher) findSchedule(ctx context.Context, req contract.ToolRequest) contract.ToolResult {
	date, err := stringArg(req.Args, "date")
	if err != nil {
		return contract.ToolResult{Tool: req.Tool, Error: err.Error()}
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return contract.ToolResult{
			Tool:  req.Tool,
			Error: fmt.Sprintf("date %q is not in YYYY-MM-DD format", date),
		}
	}

	frags, err := d.retriever.Query(ctx, date)
	if err != nil {
		d.logger.Warn().Err(err).Str("tool", req.Tool).Msg("retrieval failed")
		return contract.ToolResult{Tool: req.Tool}
	}
	return contract.ToolResult{Tool: req.Tool, Observation: joinExactMatches(frags)}
}

func (d *Dispatcher) scheduleAppointment(ctx context.Context, req contract.ToolRequest) contract.ToolResult {
	date, err := stringArg(req.Args, "date")
	if err != nil {
		return contract.ToolResult{Tool: req.Tool, Error: err.Error()}
	}
	timeLabel, err := stringArg(req.Args, "time")
	if err != nil {
		return contract.ToolResult{Tool: req.Tool, Error: err.Error()}
	}
	name, err := stringArg(req.Args, "name")
	if err != nil {
		return contract.ToolResult{Tool: req.Tool, Error: err.Error()}
	}

	// Format rejections never reach the ledger.
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return contract.ToolResult{
			Tool:  req.Tool,
			Error: fmt.Sprintf("date %q is not in YYYY-MM-DD format", date),
		}
	}
	timeLabel = strings.ToLower(strings.TrimSpace(timeLabel))
	if !timeLabelPattern.MatchString(timeLabel) {
		return contract.ToolResult{
			Tool:  req.Tool,
			Error: fmt.Sprintf("time %q is not a valid time-of-day label like 1pm or 12am", timeLabel),
		}
	}

	if err := d.book.Book(ctx, date, timeLabel, name); err != nil {
		return contract.ToolResult{Tool: req.Tool, Error: bookingFailureText(err, date, timeLabel)}
	}
	return contract.ToolResult{
		Tool:        req.Tool,
		Observation: fmt.Sprintf("Appointment booked for %s on %s at %s.", name, date, timeLabel),
	}
}

// bookingFailureText names the precondition that failed so the next
// generated reply can propose an alternative slot.
func bookingFailureText(err error, date, timeLabel string) string {
	switch {
	case errors.Is(err, ledger.ErrAlreadyBooked):
		return fmt.Sprintf("the %s slot on %s is already booked; propose another time", timeLabel, date)
	case errors.Is(err, ledger.ErrSlotClosed):
		return fmt.Sprintf("the clinic is closed at %s on %s; propose a time during clinic hours", timeLabel, date)
	case errors.Is(err, ledger.ErrOutOfWindow):
		return fmt.Sprintf("%s is outside the allowed booking window; propose a date within the window", date)
	case errors.Is(err, ledger.ErrUnknownSlot):
		return fmt.Sprintf("no schedule is published for %s at %s", date, timeLabel)
	case errors.Is(err, ledger.ErrUnknownPatient):
		return "no patient record matches that name"
	default:
		return fmt.Sprintf("booking failed: %v", err)
	}
}

// joinExactMatches concatenates fragments that matched at least one query
// token exactly. Score >= 1 means an exact-token hit in the index's scoring.
func joinExactMatches(frags []contract.Fragment) string {
	var parts []string
	for _, f := range frags {
		if f.Score >= 1 {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%s is empty", key)
	}
	return s, nil
}
