package schema

// ToolTrace records one executed tool invocation within a turn.
// The conversation layer serialises traces as distinct messages in the chat
// history so tool activity can be replayed and displayed later.
type ToolTrace struct {
	CallID string `json:"callId"`
	Name   string `json:"name"`
	Args   string `json:"args"`
	Result string `json:"result"`
}
