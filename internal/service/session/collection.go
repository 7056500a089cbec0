package session

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/faustus/internal/model/chat"
)

// PreviewLength is the number of runes of the opening message shown in a label.
const PreviewLength = 30

var (
	ErrOutOfRange  = errors.New("conversation index out of range")
	ErrInvalidRole = errors.New("message role is invalid")
)

// Snapshot is the serializable form of a Collection.
type Snapshot struct {
	Conversations []chat.Conversation `json:"conversations"`
	ActiveIndex   int                 `json:"activeIndex"`
}

// Summary describes one conversation for a sidebar listing.
type Summary struct {
	Index  int    `json:"index"`
	Label  string `json:"label"`
	Length int    `json:"length"`
	Active bool   `json:"active"`
}

// Collection owns every conversation kept in memory and tracks the active one.
// It always holds at least one conversation. It is not safe for concurrent use.
type Collection struct {
	conversations []chat.Conversation
	active        int
}

// New starts a collection with a single empty conversation.
func New() *Collection {
	return &Collection{conversations: []chat.Conversation{{}}}
}

// Restore rebuilds a collection from a snapshot. An empty snapshot yields a
// single empty conversation and an out-of-range index is clamped.
func Restore(snapshot Snapshot) (*Collection, error) {
	c := &Collection{conversations: make([]chat.Conversation, 0, len(snapshot.Conversations))}
	for i, conv := range snapshot.Conversations {
		for j, msg := range conv {
			if !msg.Role.Valid() {
				return nil, fmt.Errorf("conversation %d message %d: %w: %q", i, j, ErrInvalidRole, msg.Role)
			}
		}
		c.conversations = append(c.conversations, conv.Clone())
	}
	if len(c.conversations) == 0 {
		c.conversations = append(c.conversations, chat.Conversation{})
	}
	c.active = clamp(snapshot.ActiveIndex, len(c.conversations))
	return c, nil
}

// Serialize copies the collection into a snapshot. Restore(Serialize()) reproduces it.
func (c *Collection) Serialize() Snapshot {
	conversations := make([]chat.Conversation, len(c.conversations))
	for i, conv := range c.conversations {
		conversations[i] = conv.Clone()
	}
	return Snapshot{Conversations: conversations, ActiveIndex: c.active}
}

// Len returns the number of conversations.
func (c *Collection) Len() int {
	return len(c.conversations)
}

// ActiveIndex returns the position of the active conversation.
func (c *Collection) ActiveIndex() int {
	return c.active
}

// Active returns a copy of the active conversation.
func (c *Collection) Active() chat.Conversation {
	return c.conversations[c.active].Clone()
}

// Create appends an empty conversation and makes it active.
func (c *Collection) Create() int {
	c.conversations = append(c.conversations, chat.Conversation{})
	c.active = len(c.conversations) - 1
	return c.active
}

// SwitchTo activates the conversation at index and returns it for replay.
func (c *Collection) SwitchTo(index int) (chat.Conversation, error) {
	if index < 0 || index >= len(c.conversations) {
		return nil, ErrOutOfRange
	}
	c.active = index
	return c.conversations[index].Clone(), nil
}

// Delete removes the conversation at index and activates the previous one.
// Deleting the only conversation is a no-op and reports false.
func (c *Collection) Delete(index int) (bool, error) {
	if index < 0 || index >= len(c.conversations) {
		return false, ErrOutOfRange
	}
	if len(c.conversations) == 1 {
		return false, nil
	}
	c.conversations = append(c.conversations[:index], c.conversations[index+1:]...)
	c.active = clamp(index-1, len(c.conversations))
	return true, nil
}

// AppendMessage adds msg to the active conversation. It does not persist.
func (c *Collection) AppendMessage(msg chat.Message) {
	c.conversations[c.active] = append(c.conversations[c.active], msg)
}

// RemoveLastMessage drops the newest message of the active conversation.
func (c *Collection) RemoveLastMessage() (chat.Message, bool) {
	conv := c.conversations[c.active]
	if len(conv) == 0 {
		return chat.Message{}, false
	}
	last := conv[len(conv)-1]
	c.conversations[c.active] = conv[:len(conv)-1]
	return last, true
}

// Summaries lists every conversation with its sidebar label.
func (c *Collection) Summaries() []Summary {
	summaries := make([]Summary, len(c.conversations))
	for i, conv := range c.conversations {
		summaries[i] = Summary{
			Index:  i,
			Label:  fmt.Sprintf("Chat %d: %s...", i+1, conv.Title(PreviewLength)),
			Length: len(conv),
			Active: i == c.active,
		}
	}
	return summaries
}

func clamp(index, length int) int {
	if index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}
