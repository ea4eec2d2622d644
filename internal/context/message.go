package context

// Roles stored in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a model-agnostic chat message used across the context pipeline.
// System-role messages in history are long-term notes, not prompts.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
