package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/faustus/internal/client"
	"github.com/zhouzirui/faustus/internal/model/chat"
	"github.com/zhouzirui/faustus/pkg/utils"
)

// Responder produces model answers for a transcript.
type Responder interface {
	StreamingEnabled() bool
	GenerateResponse(ctx context.Context, messages []chat.Message) (*schema.Message, error)
	StreamResponse(ctx context.Context, messages []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// Handler 聊天接口的HTTP处理器
type Handler struct {
	ai Responder
}

// New 创建聊天处理器
func New(ai Responder) *Handler {
	return &Handler{ai: ai}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// handleChat answers POST /api/chat with a data: stream or a whole JSON body.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		utils.RespondError(w, http.StatusBadRequest, "Expected JSON data")
		return
	}

	var payload client.Request
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Expected JSON data")
		return
	}
	if len(payload.Messages) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "No messages provided")
		return
	}
	for _, msg := range payload.Messages {
		if !msg.Role.Valid() {
			utils.RespondError(w, http.StatusBadRequest, "invalid message role: "+string(msg.Role))
			return
		}
	}

	if h.ai == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
		return
	}

	logger := log.With().Str("request_id", middleware.GetReqID(r.Context())).Int("messages", len(payload.Messages)).Logger()

	if !h.ai.StreamingEnabled() {
		response, err := h.ai.GenerateResponse(r.Context(), payload.Messages)
		if err != nil {
			logger.Error().Err(err).Msg("chat generation failed")
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		utils.RespondJSON(w, http.StatusOK, client.Response{Content: response.Content})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.ai.StreamResponse(r.Context(), payload.Messages)
	if err != nil {
		logger.Error().Err(err).Msg("chat stream failed to start")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	chunks := 0
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			logger.Warn().Err(recvErr).Int("chunks", chunks).Msg("chat stream aborted")
			_ = utils.SendDataError(w, flusher, recvErr.Error())
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		chunks++
		if err := utils.SendDataRecord(w, flusher, chunk.Content); err != nil {
			logger.Debug().Err(err).Msg("client went away")
			return
		}
	}

	_ = utils.SendDataDone(w, flusher)
	logger.Debug().Int("chunks", chunks).Msg("chat stream completed")
}
