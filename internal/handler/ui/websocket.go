package ui

import (
	"context"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/faustus/internal/events"
)

const writeWait = 10 * time.Second

// WebSocketHandler forwards controller events from a watermill topic to browsers.
type WebSocketHandler struct {
	subscriber message.Subscriber
	topic      string
	ctrl       Controller
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket事件推送处理器
func NewWebSocketHandler(subscriber message.Subscriber, topic string, ctrl Controller) *WebSocketHandler {
	return &WebSocketHandler{
		subscriber: subscriber,
		topic:      topic,
		ctrl:       ctrl,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	logger := log.With().Str("client_id", clientID).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := h.subscriber.Subscribe(ctx, h.topic)
	if err != nil {
		logger.Error().Err(err).Msg("failed to subscribe to events")
		return
	}

	// The browser only sends close frames; reading notices them.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	index, _ := h.ctrl.Active()
	hello := events.Event{Type: events.TypeSessions, ActiveIndex: index, State: h.ctrl.State().String()}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		logger.Debug().Err(err).Msg("failed to greet websocket client")
		return
	}
	logger.Debug().Msg("websocket client connected")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("websocket client disconnected")
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, msg.Payload)
			msg.Ack()
			if err != nil {
				logger.Debug().Err(err).Msg("failed to forward event")
				return
			}
		}
	}
}
