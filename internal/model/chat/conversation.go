package chat

// PlaceholderTitle labels a conversation that has no messages yet.
const PlaceholderTitle = "New Chat"

// Conversation is an ordered transcript, oldest first.
type Conversation []Message

// Preview derives a title from the first message, cut to max runes.
// It returns false for an empty conversation.
func (c Conversation) Preview(max int) (string, bool) {
	if len(c) == 0 {
		return "", false
	}
	runes := []rune(c[0].Content)
	if max > 0 && len(runes) > max {
		runes = runes[:max]
	}
	return string(runes), true
}

// Title returns the preview or PlaceholderTitle.
func (c Conversation) Title(max int) string {
	if preview, ok := c.Preview(max); ok {
		return preview
	}
	return PlaceholderTitle
}

// Clone copies the transcript so callers can't mutate the original.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return Conversation{}
	}
	copied := make(Conversation, len(c))
	copy(copied, c)
	return copied
}
