package context

// Compressor reduces a list of messages to fit within constraints.
type Compressor interface {
	Compress(messages []Message) []Message
}

// Assembler turns persona and stored history into a system prompt plus the
// ordered turns for a completion call.
type Assembler interface {
	Assemble(persona string, history []Message) (system string, turns []Message)
}
