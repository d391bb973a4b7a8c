package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/malachide2/CareWallet-Chatbot/agent/contract"
	"github.com/malachide2/CareWallet-Chatbot/agent/tool"
)

type scriptedGenerator struct {
	replies   []contract.GeneratorReply
	errs      []error
	calls     int
	histories [][]contract.DialogueTurn
}

func (g *scriptedGenerator) Generate(_ context.Context, turns []contract.DialogueTurn) (contract.GeneratorReply, error) {
	idx := g.calls
	g.calls++
	g.histories = append(g.histories, append([]contract.DialogueTurn(nil), turns...))

	if idx < len(g.errs) && g.errs[idx] != nil {
		return contract.GeneratorReply{}, g.errs[idx]
	}
	if idx < len(g.replies) {
		return g.replies[idx], nil
	}
	return contract.GeneratorReply{}, fmt.Errorf("no scripted reply at call=%d", g.calls)
}

type fakeGateway struct {
	results map[string]contract.ToolResult
	err     error
	calls   [][]contract.ToolRequest
}

func (f *fakeGateway) Execute(_ context.Context, reqs []contract.ToolRequest) ([]contract.ToolResult, error) {
	f.calls = append(f.calls, append([]contract.ToolRequest(nil), reqs...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]contract.ToolResult, 0, len(reqs))
	for _, req := range reqs {
		if res, ok := f.results[req.Tool]; ok {
			out = append(out, res)
			continue
		}
		out = append(out, contract.ToolResult{Tool: req.Tool, Error: "unscripted tool"})
	}
	return out, nil
}

func reference(t *testing.T) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, "2024-08-05")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}

func message(text string) contract.GeneratorReply {
	return contract.GeneratorReply{Message: text}
}

func toolCall(name string, args map[string]any) contract.GeneratorReply {
	return contract.GeneratorReply{ToolRequests: []contract.ToolRequest{{Tool: name, Args: args}}}
}

const lauraRecord = "patient record for Laura Diaz: age: 44; phone: 555-010-2021; " +
	"insurance: Kaiser Permanente; last appointment: 2022-05-11; next appointment: None"

func TestStartEmitsGreeting(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Hello, this is the clinic calling about a checkup for Laura Diaz."),
	}}
	o, err := New(gen, &fakeGateway{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, greeting, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !strings.Contains(greeting, "clinic") {
		t.Fatalf("unexpected greeting: %q", greeting)
	}
	if conv.Phase() != PhaseAwaitingPatient {
		t.Fatalf("phase = %s, want %s", conv.Phase(), PhaseAwaitingPatient)
	}

	history := conv.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Speaker != contract.SpeakerAgent || history[0].Ordinal != 0 {
		t.Fatalf("unexpected first turn: %+v", history[0])
	}
}

func TestStartGreetingWithClosingTokenTerminates(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Sorry to bother you, goodbye!"),
	}}
	o, err := New(gen, &fakeGateway{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !conv.Terminated() {
		t.Fatal("conversation must terminate on a closing-token greeting")
	}

	if _, err := o.Submit(context.Background(), conv, "wait"); !errors.Is(err, ErrTerminated) {
		t.Fatalf("Submit() after termination error = %v, want ErrTerminated", err)
	}
}

func TestSubmitToolRoundFoldsObservation(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Hello, am I speaking with Laura Diaz?"),
		toolCall(tool.ToolFindSchedule, map[string]any{"date": "2024-08-08"}),
		message("The doctor is free at 2pm on 2024-08-08. Does that work?"),
	}}
	gateway := &fakeGateway{results: map[string]contract.ToolResult{
		tool.ToolFindSchedule: {
			Tool:        tool.ToolFindSchedule,
			Observation: "doctor schedule for 2024-08-08: 2pm: Open;",
		},
	}}
	o, err := New(gen, gateway)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	reply, err := o.Submit(context.Background(), conv, "Can I come in on 2024-08-08?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !strings.Contains(reply, "2pm") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(gateway.calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gateway.calls))
	}

	history := conv.History()
	// greeting, patient, tool observation, agent reply
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if history[2].Speaker != contract.SpeakerTool {
		t.Fatalf("turn 2 speaker = %s, want tool", history[2].Speaker)
	}
	if !strings.Contains(history[2].Content, "2pm: Open") {
		t.Fatalf("observation not folded: %q", history[2].Content)
	}
	for i := 1; i < len(history); i++ {
		if history[i].Ordinal <= history[i-1].Ordinal {
			t.Fatalf("ordinals not strictly increasing: %+v", history)
		}
	}
}

func TestEmptyReplyTriggersCorrectiveRetry(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Hello, am I speaking with Laura Diaz?"),
		{}, // empty -> corrective re-prompt
		message("Sorry, could you repeat that?"),
	}}
	o, err := New(gen, &fakeGateway{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	reply, err := o.Submit(context.Background(), conv, "hello?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reply != "Sorry, could you repeat that?" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	var corrective bool
	for _, turn := range conv.History() {
		if turn.Speaker == contract.SpeakerPatient && turn.Content == correctiveInstruction {
			corrective = true
		}
	}
	if !corrective {
		t.Fatal("corrective instruction was not injected into the transcript")
	}
}

func TestGenerationExhaustionAbortsConversation(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Hello, am I speaking with Laura Diaz?"),
		{}, {}, {}, {}, // stays empty past the retry bound
	}}
	gateway := &fakeGateway{}
	o, err := New(gen, gateway, WithMaxGenerationRetries(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, err = o.Submit(context.Background(), conv, "hello?")
	if !errors.Is(err, ErrGenerationExhausted) {
		t.Fatalf("Submit() error = %v, want ErrGenerationExhausted", err)
	}
	if !conv.Terminated() {
		t.Fatal("aborted conversation must be terminated")
	}
	if len(gateway.calls) != 0 {
		t.Fatal("no tool may run during an aborted cycle")
	}
}

func TestTransportFailureRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		replies: []contract.GeneratorReply{
			message("Hello, am I speaking with Laura Diaz?"),
			{}, // slot consumed by the scripted error below
			message("As I was saying, is this Laura Diaz?"),
		},
		errs: []error{nil, contract.ErrModelInvoke},
	}
	o, err := New(gen, &fakeGateway{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	reply, err := o.Submit(context.Background(), conv, "who is this?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !strings.Contains(reply, "Laura Diaz") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDisclosureSuppressedBeforeVerification(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Hello, am I speaking with Laura Diaz?"),
		toolCall(tool.ToolRetrievePatientInfo, map[string]any{"name": "Laura Diaz"}),
		message("Your insurance on file is Kaiser Permanente."),
	}}
	gateway := &fakeGateway{results: map[string]contract.ToolResult{
		tool.ToolRetrievePatientInfo: {
			Tool:        tool.ToolRetrievePatientInfo,
			Observation: lauraRecord,
		},
	}}
	o, err := New(gen, gateway)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The caller never states the name, so verification cannot complete.
	reply, err := o.Submit(context.Background(), conv, "What insurance do you have for me?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if strings.Contains(reply, "Kaiser Permanente") {
		t.Fatalf("insurance leaked before verification: %q", reply)
	}
	if !strings.Contains(reply, "confirm") {
		t.Fatalf("expected a re-prompt substitution, got %q", reply)
	}

	// The suppressed model output must not appear in any agent turn either.
	for _, turn := range conv.History() {
		if turn.Speaker == contract.SpeakerAgent && strings.Contains(turn.Content, "Kaiser Permanente") {
			t.Fatalf("insurance leaked into transcript: %q", turn.Content)
		}
	}
}

func TestDisclosureAllowedAfterVerification(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Hello, am I speaking with Laura Diaz?"),
		message("Thanks for confirming. How can I help?"),
		toolCall(tool.ToolRetrievePatientInfo, map[string]any{"name": "Laura Diaz"}),
		message("Your insurance on file is Kaiser Permanente."),
	}}
	gateway := &fakeGateway{results: map[string]contract.ToolResult{
		tool.ToolRetrievePatientInfo: {
			Tool:        tool.ToolRetrievePatientInfo,
			Observation: lauraRecord,
		},
	}}
	o, err := New(gen, gateway)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := o.Submit(context.Background(), conv, "Yes, this is Laura Diaz."); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	reply, err := o.Submit(context.Background(), conv, "What insurance do you have for me?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !conv.Verified() {
		t.Fatal("conversation should be verified after name + record retrieval")
	}
	if !strings.Contains(reply, "Kaiser Permanente") {
		t.Fatalf("verified disclosure was wrongly suppressed: %q", reply)
	}
}

func TestSubmitEmptyUtterance(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []contract.GeneratorReply{
		message("Hello, am I speaking with Laura Diaz?"),
	}}
	o, err := New(gen, &fakeGateway{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	conv, _, err := o.Start(context.Background(), "Laura Diaz", reference(t))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := o.Submit(context.Background(), conv, "   "); !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("Submit() error = %v, want ErrEmptyUtterance", err)
	}
}
