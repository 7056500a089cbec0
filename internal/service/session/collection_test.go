package session_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/faustus/internal/model/chat"
	"github.com/zhouzirui/faustus/internal/service/session"
)

func TestNewCollectionHasOneEmptyConversation(t *testing.T) {
	c := session.New()
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.ActiveIndex())
	assert.Empty(t, c.Active())
}

func TestCreateActivatesNewConversation(t *testing.T) {
	c := session.New()
	c.AppendMessage(chat.UserMessage("first"))

	idx := c.Create()
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1, c.ActiveIndex())
	assert.Empty(t, c.Active())

	c.AppendMessage(chat.UserMessage("second"))
	assert.Equal(t, chat.Conversation{chat.UserMessage("first")}, c.Serialize().Conversations[0])
}

func TestSwitchTo(t *testing.T) {
	c := session.New()
	c.AppendMessage(chat.UserMessage("zero"))
	c.Create()

	conv, err := c.SwitchTo(0)
	require.NoError(t, err)
	assert.Equal(t, 0, c.ActiveIndex())
	assert.Equal(t, "zero", conv[0].Content)

	_, err = c.SwitchTo(2)
	assert.ErrorIs(t, err, session.ErrOutOfRange)
	_, err = c.SwitchTo(-1)
	assert.ErrorIs(t, err, session.ErrOutOfRange)
	assert.Equal(t, 0, c.ActiveIndex())
}

func TestDeleteLastRemainingIsNoop(t *testing.T) {
	c := session.New()
	c.AppendMessage(chat.UserMessage("keep me"))
	before := c.Serialize()

	deleted, err := c.Delete(0)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, before, c.Serialize())
}

func TestDeleteActivatesPrevious(t *testing.T) {
	c := session.New()
	c.Create()
	c.Create()
	c.AppendMessage(chat.UserMessage("third"))

	deleted, err := c.Delete(2)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, c.ActiveIndex())

	deleted, err = c.Delete(0)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, c.ActiveIndex())

	_, err = c.Delete(5)
	assert.ErrorIs(t, err, session.ErrOutOfRange)
}

func TestCreateDeleteKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := session.New()
	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			c.Create()
		case 1:
			_, err := c.Delete(c.ActiveIndex())
			require.NoError(t, err)
		case 2:
			_, _ = c.SwitchTo(rng.Intn(c.Len() + 1))
		}
		require.GreaterOrEqual(t, c.Len(), 1)
		require.GreaterOrEqual(t, c.ActiveIndex(), 0)
		require.Less(t, c.ActiveIndex(), c.Len())
	}
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 5; n++ {
		c := session.New()
		for i := 0; i < n; i++ {
			if i > 0 {
				c.Create()
			}
			for m := 0; m < rng.Intn(4); m++ {
				c.AppendMessage(chat.UserMessage("question"))
				c.AppendMessage(chat.AssistantMessage("answer"))
			}
		}
		if c.Len() > 1 {
			_, err := c.SwitchTo(rng.Intn(c.Len()))
			require.NoError(t, err)
		}

		snapshot := c.Serialize()
		restored, err := session.Restore(snapshot)
		require.NoError(t, err)
		assert.Equal(t, snapshot, restored.Serialize())
		assert.Equal(t, c.ActiveIndex(), restored.ActiveIndex())
	}
}

func TestRestoreNormalizesSnapshot(t *testing.T) {
	restored, err := session.Restore(session.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())
	assert.Equal(t, 0, restored.ActiveIndex())

	restored, err = session.Restore(session.Snapshot{
		Conversations: []chat.Conversation{{}, {}},
		ActiveIndex:   9,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, restored.ActiveIndex())

	_, err = session.Restore(session.Snapshot{
		Conversations: []chat.Conversation{{{Role: "system", Content: "x"}}},
	})
	assert.ErrorIs(t, err, session.ErrInvalidRole)
}

func TestRemoveLastMessage(t *testing.T) {
	c := session.New()
	_, ok := c.RemoveLastMessage()
	assert.False(t, ok)

	c.AppendMessage(chat.UserMessage("oops"))
	msg, ok := c.RemoveLastMessage()
	assert.True(t, ok)
	assert.Equal(t, "oops", msg.Content)
	assert.Empty(t, c.Active())
}

func TestSummaries(t *testing.T) {
	c := session.New()
	c.AppendMessage(chat.UserMessage("What is the meaning of life, the universe and everything?"))
	c.Create()

	summaries := c.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "Chat 1: What is the meaning of life, t...", summaries[0].Label)
	assert.False(t, summaries[0].Active)
	assert.Equal(t, "Chat 2: New Chat...", summaries[1].Label)
	assert.True(t, summaries[1].Active)
}
