package repl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/faustus/internal/client"
	"github.com/zhouzirui/faustus/internal/service/conversation"
	"github.com/zhouzirui/faustus/internal/store"
)

func newController(t *testing.T, r *REPL, handler http.HandlerFunc) (*conversation.Controller, *store.Persistence) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	persistence := store.NewPersistence(store.NewMemoryKV())
	ctrl := conversation.New(nil, client.New(server.URL), persistence, conversation.WithSink(r.Sink()))
	return ctrl, persistence
}

func streamReply(records ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, record := range records {
			fmt.Fprint(w, record)
			w.(http.Flusher).Flush()
		}
	}
}

func TestRunStreamsReply(t *testing.T) {
	var out bytes.Buffer
	r := New(strings.NewReader("hello\n/quit\n"), &out)
	ctrl, persistence := newController(t, r, streamReply("data: Hel\n", "data: lo there\n", "data: [DONE]\n"))

	require.NoError(t, r.Run(context.Background(), ctrl))

	assert.Contains(t, out.String(), Welcome)
	assert.Contains(t, out.String(), "Hello there\n")

	snapshot, found, err := persistence.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, snapshot.Conversations[0], 2)
}

func TestRunReportsFailure(t *testing.T) {
	var out bytes.Buffer
	r := New(strings.NewReader("hello\n"), &out)
	ctrl, _ := newController(t, r, streamReply("data: Error:model overloaded\n"))

	require.NoError(t, r.Run(context.Background(), ctrl))

	assert.Contains(t, out.String(), conversation.ErrorPrefix)
	assert.Contains(t, out.String(), "model overloaded")
	_, conv := ctrl.Active()
	assert.Empty(t, conv)
}

func TestSessionCommands(t *testing.T) {
	var out bytes.Buffer
	input := strings.Join([]string{
		"hello",
		"/new",
		"/list",
		"/switch 1",
		"/switch 9",
		"/switch x",
		"/delete",
		"/delete",
		"/bogus",
		"/help",
	}, "\n") + "\n"
	r := New(strings.NewReader(input), &out)
	ctrl, _ := newController(t, r, streamReply("data: Hi\n", "data: [DONE]\n"))

	require.NoError(t, r.Run(context.Background(), ctrl))

	text := out.String()
	assert.Contains(t, text, "* Chat 2: New Chat... (0 messages)")
	assert.Contains(t, text, "  Chat 1: hello... (2 messages)")
	assert.Contains(t, text, "you: hello")
	assert.Contains(t, text, "index out of range")
	assert.Contains(t, text, `not a conversation number: "x"`)
	assert.Contains(t, text, "the last conversation cannot be deleted")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "/switch N")

	assert.Len(t, ctrl.Summaries(), 1)
}

func TestRunRendersMarkdownOnceFinished(t *testing.T) {
	var out bytes.Buffer
	r := New(strings.NewReader("hello\n"), &out, WithMarkdown("notty", 80))
	require.NotNil(t, r.renderer)
	ctrl, _ := newController(t, r, streamReply("data: Hel\n", "data: lo there\n", "data: [DONE]\n"))

	require.NoError(t, r.Run(context.Background(), ctrl))

	text := out.String()
	assert.Contains(t, text, "...\n")
	assert.Equal(t, 1, strings.Count(text, "Hello there"))
}
