package contract

// Speaker identifies who authored a dialogue turn.
type Speaker string

const (
	SpeakerPatient Speaker = "patient"
	SpeakerAgent   Speaker = "agent"
	SpeakerTool    Speaker = "tool"
)

// DialogueTurn is one entry in a conversation transcript. Turns are
// append-only and ordinals are strictly increasing within a conversation.
type DialogueTurn struct {
	Speaker Speaker `json:"speaker"`
	Content string  `json:"content"`
	Ordinal int     `json:"ordinal"`
}

// GeneratorReply is the turn generator's answer for one generation pass:
// either a natural-language message or a batch of tool requests.
type GeneratorReply struct {
	Message      string        `json:"message,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
}

// Empty reports whether the reply carries neither a message nor tool requests.
func (r GeneratorReply) Empty() bool {
	return r.Message == "" && len(r.ToolRequests) == 0
}

type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	Tool        string `json:"tool"`
	Observation string `json:"observation,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Fragment is one retrieved document, most relevant first in query results.
type Fragment struct {
	DocID string  `json:"doc_id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}
