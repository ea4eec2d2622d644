package context

import "strings"

// NotesHeading introduces the rendered long-term notes in the system prompt.
const NotesHeading = "长期记忆："

// PromptAssembler splits stored history into a system prompt and the
// user/assistant turns sent to a backend.
type PromptAssembler struct{}

// Assemble returns persona followed by every retained system-role note, and
// all user/assistant entries in their stored order.
func (a *PromptAssembler) Assemble(persona string, history []Message) (string, []Message) {
	var notes []string
	turns := make([]Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			notes = append(notes, m.Content)
		case RoleUser, RoleAssistant:
			turns = append(turns, m)
		}
	}
	system := strings.TrimSpace(persona)
	if len(notes) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\n")
		b.WriteString(NotesHeading)
		for _, n := range notes {
			b.WriteString("\n- ")
			b.WriteString(n)
		}
		system = b.String()
	}
	return system, turns
}
