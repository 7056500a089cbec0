package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/faustus/internal/client"
	"github.com/zhouzirui/faustus/internal/events"
	"github.com/zhouzirui/faustus/internal/service/conversation"
	"github.com/zhouzirui/faustus/internal/store"
)

const topic = "faustus.events"

func chatServer(t *testing.T, records ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, record := range records {
			fmt.Fprint(w, record)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type fixture struct {
	router *chi.Mux
	ctrl   *conversation.Controller
	pubSub *gochannel.GoChannel
}

func setupRouter(t *testing.T, records ...string) fixture {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64, BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctrl := conversation.New(nil,
		client.New(chatServer(t, records...).URL),
		store.NewPersistence(store.NewMemoryKV()),
		conversation.WithSink(events.NewWatermillSink(pubSub, topic)),
	)

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		New(ctrl).RegisterRoutes(api)
	})
	NewWebSocketHandler(pubSub, topic, ctrl).RegisterWebSocketRoutes(r)
	return fixture{router: r, ctrl: ctrl, pubSub: pubSub}
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSendMessageReturnsReply(t *testing.T) {
	f := setupRouter(t, "data: Hi\n", "data: [DONE]\n")

	resp := do(f.router, http.MethodPost, "/api/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"message":{"role":"assistant","content":"Hi"}}`, resp.Body.String())

	resp = do(f.router, http.MethodGet, "/api/sessions/active", "")
	assert.JSONEq(t, `{"index":0,"messages":[{"role":"user","content":"hello"},{"role":"assistant","content":"Hi"}]}`, resp.Body.String())
}

func TestSendMessageErrorsMapToStatus(t *testing.T) {
	f := setupRouter(t, "data: [DONE]\n")

	resp := do(f.router, http.MethodPost, "/api/messages", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(f.router, http.MethodPost, "/api/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Contains(t, resp.Body.String(), conversation.ErrorPrefix)

	resp = do(f.router, http.MethodGet, "/api/sessions/active", "")
	assert.JSONEq(t, `{"index":0,"messages":[]}`, resp.Body.String())
}

func TestSessionRoutes(t *testing.T) {
	f := setupRouter(t)

	resp := do(f.router, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, resp.Code)
	var listed sessionsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.ActiveIndex)
	assert.Len(t, listed.Sessions, 2)
	assert.Equal(t, "idle", listed.State)

	resp = do(f.router, http.MethodPut, "/api/sessions/active", `{"index":0}`)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = do(f.router, http.MethodPut, "/api/sessions/active", `{"index":4}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(f.router, http.MethodPut, "/api/sessions/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(f.router, http.MethodDelete, "/api/sessions/active", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listed))
	assert.Len(t, listed.Sessions, 1)
	assert.Empty(t, listed.Warning)

	resp = do(f.router, http.MethodDelete, "/api/sessions/active", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listed))
	assert.Len(t, listed.Sessions, 1)
	assert.NotEmpty(t, listed.Warning)

	resp = do(f.router, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Chat 1: New Chat...")
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := setupRouter(t, "data: Hel\n", "data: lo\n", "data: [DONE]\n")
	server := httptest.NewServer(f.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello events.Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, events.TypeSessions, hello.Type)

	_, err = f.ctrl.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	var fragments []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var e events.Event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Type == events.TypeFragment {
			fragments = append(fragments, e.Content)
		}
		if e.Type == events.TypeCommitted {
			assert.Equal(t, "Hello", e.Content)
			break
		}
	}
	assert.Equal(t, []string{"Hel", "Hello"}, fragments)
}
