package contract

import "context"

// TurnGenerator produces the next agent turn for a transcript. It is an
// external capability: the orchestrator only depends on this contract, never
// on how the reply is produced.
type TurnGenerator interface {
	Generate(ctx context.Context, turns []DialogueTurn) (GeneratorReply, error)
}

// Retriever answers a free-text query with stored fragments, most relevant
// first. An exact date or name token in the query must surface the fragment
// carrying that token when one exists.
type Retriever interface {
	Query(ctx context.Context, text string) ([]Fragment, error)
}

// ToolGateway executes a batch of tool requests and returns one result per
// request, in order. Execution failures are reported inside ToolResult so the
// dialogue can recover; an error return means the gateway itself is unusable.
type ToolGateway interface {
	Execute(ctx context.Context, reqs []ToolRequest) ([]ToolResult, error)
}
