package context

// WindowCompressor keeps only the last MaxMessages messages. Eviction is
// strictly oldest-first regardless of role.
type WindowCompressor struct {
	MaxMessages int
}

// Compress truncates messages to the most recent MaxMessages entries. The
// result never aliases the input's dropped prefix.
func (c *WindowCompressor) Compress(messages []Message) []Message {
	if c.MaxMessages <= 0 || len(messages) <= c.MaxMessages {
		return messages
	}
	kept := make([]Message, c.MaxMessages)
	copy(kept, messages[len(messages)-c.MaxMessages:])
	return kept
}
