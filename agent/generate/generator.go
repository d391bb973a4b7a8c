package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/malachide2/CareWallet-Chatbot/agent/contract"
	"github.com/malachide2/CareWallet-Chatbot/agent/tool"
)

// Generator turns a dialogue transcript into the next receptionist reply by
// calling a chat-completion model with the scheduling tools bound. One
// Generator serves one conversation: the system prompt carries the patient
// name and booking window, so it cannot be shared across calls to different
// patients.
type Generator struct {
	client       *openaisdk.Client
	systemPrompt string
	model        string
	temperature  float64
	maxTokens    int
	logger       zerolog.Logger
}

var _ contract.TurnGenerator = (*Generator)(nil)

func New(client *openaisdk.Client, systemPrompt string, cfg Config) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil openai client", contract.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: empty system prompt", contract.ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		client:       client,
		systemPrompt: systemPrompt,
		model:        strings.TrimSpace(cfg.Model),
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxCompletionToken,
		logger:       log.With().Str("component", "generator").Logger(),
	}, nil
}

func (g *Generator) Generate(ctx context.Context, turns []contract.DialogueTurn) (contract.GeneratorReply, error) {
	params := openaisdk.ChatCompletionNewParams{
		Messages:    buildMessages(g.systemPrompt, turns),
		Model:       openaisdk.ChatModel(g.model),
		Temperature: openaisdk.Float(g.temperature),
		Tools:       toolParams(),
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(g.maxTokens))
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contract.GeneratorReply{}, fmt.Errorf("%w: chat completion: %v", contract.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return contract.GeneratorReply{}, fmt.Errorf("%w: completion returned no choices", contract.ErrModelInvoke)
	}

	msg := resp.Choices[0].Message
	reply := contract.GeneratorReply{Message: strings.TrimSpace(msg.Content)}
	for _, call := range msg.ToolCalls {
		args, err := decodeArgs(call.Function.Arguments)
		if err != nil {
			return contract.GeneratorReply{}, fmt.Errorf(
				"%w: tool %s arguments: %v", contract.ErrSchemaViolation, call.Function.Name, err)
		}
		reply.ToolRequests = append(reply.ToolRequests, contract.ToolRequest{
			Tool: call.Function.Name,
			Args: args,
		})
	}

	g.logger.Debug().
		Int("turns", len(turns)).
		Int("tool_requests", len(reply.ToolRequests)).
		Msg("completion received")
	return reply, nil
}

// buildMessages maps the transcript onto chat roles. Tool observations are
// folded in as user-role messages: the transcript is the single source of
// truth, so no tool-call identifiers survive across turns.
func buildMessages(systemPrompt string, turns []contract.DialogueTurn) []openaisdk.ChatCompletionMessageParamUnion {
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	msgs = append(msgs, openaisdk.SystemMessage(systemPrompt))
	for _, turn := range turns {
		switch turn.Speaker {
		case contract.SpeakerAgent:
			msgs = append(msgs, openaisdk.AssistantMessage(turn.Content))
		case contract.SpeakerTool:
			msgs = append(msgs, openaisdk.UserMessage("[observation] "+turn.Content))
		default:
			msgs = append(msgs, openaisdk.UserMessage(turn.Content))
		}
	}
	return msgs
}

func decodeArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func toolParams() []openaisdk.ChatCompletionToolParam {
	specs := tool.Specs()
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		properties := map[string]any{}
		required := []string{}
		for _, p := range spec.Params {
			properties[p.Name] = map[string]any{
				"type":        "string",
				"description": p.Desc,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openaisdk.String(spec.Desc),
				Parameters: openaisdk.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return out
}
