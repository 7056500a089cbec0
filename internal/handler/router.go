package handler

import (
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/faustus/internal/handler/chat"
	"github.com/zhouzirui/faustus/internal/handler/ui"
	middlewarePkg "github.com/zhouzirui/faustus/internal/middleware"
	"github.com/zhouzirui/faustus/pkg/utils"
)

func newBaseRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// NewChatRouter serves the chat endpoint the front-ends talk to.
func NewChatRouter(ai chat.Responder) http.Handler {
	r := newBaseRouter()

	chatHandler := chat.New(ai)
	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	return r
}

// NewUIRouter exposes a conversation controller to a browser: REST calls for
// the capabilities and a websocket carrying the controller's events.
func NewUIRouter(ctrl ui.Controller, subscriber message.Subscriber, topic string) http.Handler {
	r := newBaseRouter()

	uiHandler := ui.New(ctrl)
	r.Route("/api", func(api chi.Router) {
		uiHandler.RegisterRoutes(api)
	})

	if subscriber != nil {
		ui.NewWebSocketHandler(subscriber, topic, ctrl).RegisterWebSocketRoutes(r)
	}

	return r
}
