package ui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/faustus/internal/client"
	"github.com/zhouzirui/faustus/internal/model/chat"
	"github.com/zhouzirui/faustus/internal/service/conversation"
	"github.com/zhouzirui/faustus/internal/service/session"
	"github.com/zhouzirui/faustus/internal/store"
	"github.com/zhouzirui/faustus/internal/stream"
	"github.com/zhouzirui/faustus/pkg/utils"
)

// Controller is the capability surface a presentation layer drives.
type Controller interface {
	SendMessage(ctx context.Context, text string) (chat.Message, error)
	CreateSession(ctx context.Context) (int, error)
	SwitchSession(index int) (chat.Conversation, error)
	DeleteSession(ctx context.Context) (bool, error)
	Summaries() []session.Summary
	Active() (int, chat.Conversation)
	State() conversation.State
}

// Handler exposes the controller to a browser front-end.
type Handler struct {
	ctrl Controller
}

// New 创建界面桥接处理器
func New(ctrl Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

// RegisterRoutes 注册会话与消息路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/active", h.handleActiveSession)
	r.Put("/sessions/active", h.handleSwitchSession)
	r.Delete("/sessions/active", h.handleDeleteSession)
	r.Post("/messages", h.handleSendMessage)
}

type sessionsResponse struct {
	ActiveIndex int               `json:"activeIndex"`
	State       string            `json:"state"`
	Sessions    []session.Summary `json:"sessions"`
	Warning     string            `json:"warning,omitempty"`
}

type transcriptResponse struct {
	Index    int            `json:"index"`
	Messages []chat.Message `json:"messages"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sessions(""))
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	_, err := h.ctrl.CreateSession(r.Context())
	warning, err := storageWarning(err)
	if err != nil {
		respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, h.sessions(warning))
}

func (h *Handler) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	index, conv := h.ctrl.Active()
	utils.RespondJSON(w, http.StatusOK, transcriptResponse{Index: index, Messages: conv})
}

func (h *Handler) handleSwitchSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Index == nil {
		utils.RespondError(w, http.StatusBadRequest, "index is required")
		return
	}

	conv, err := h.ctrl.SwitchSession(*payload.Index)
	if err != nil {
		respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, transcriptResponse{Index: *payload.Index, Messages: conv})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.ctrl.DeleteSession(r.Context())
	warning, err := storageWarning(err)
	if err != nil {
		respondControllerError(w, err)
		return
	}
	resp := h.sessions(warning)
	if !deleted {
		resp.Warning = "the last conversation cannot be deleted"
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The exchange outlives an impatient caller; progress is on the event stream.
	reply, err := h.ctrl.SendMessage(context.WithoutCancel(r.Context()), payload.Text)
	warning, err := storageWarning(err)
	if err != nil {
		respondControllerError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, struct {
		Message chat.Message `json:"message"`
		Warning string       `json:"warning,omitempty"`
	}{Message: reply, Warning: warning})
}

func (h *Handler) sessions(warning string) sessionsResponse {
	index, _ := h.ctrl.Active()
	return sessionsResponse{
		ActiveIndex: index,
		State:       h.ctrl.State().String(),
		Sessions:    h.ctrl.Summaries(),
		Warning:     warning,
	}
}

// storageWarning turns a storage failure into a warning; other errors pass through.
func storageWarning(err error) (string, error) {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return "History may not survive a reload: " + storageErr.Error(), nil
	}
	return "", err
}

func respondControllerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var httpErr *client.HTTPError
	var serverErr *stream.ServerError
	switch {
	case errors.Is(err, conversation.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, conversation.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, session.ErrOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, conversation.ErrTimeout):
		status = http.StatusGatewayTimeout
		message = conversation.UserNotice(err)
	case errors.As(err, &httpErr), errors.As(err, &serverErr),
		errors.Is(err, stream.ErrEmptyResponse), errors.Is(err, client.ErrNetwork):
		status = http.StatusBadGateway
		message = conversation.UserNotice(err)
	default:
		log.Error().Err(err).Msg("unexpected controller failure")
		message = conversation.UserNotice(err)
	}
	utils.RespondError(w, status, message)
}
