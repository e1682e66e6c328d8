package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/middleware"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/internal/service"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	maxImageBytes  int64
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, maxImageBytes int64, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		maxImageBytes:  maxImageBytes,
		logger:         logger.OrGlobal(log),
	}
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messageService.SendText(ctx, userID, conversationID, req.Text)
	if err != nil {
		h.logger.Warn("failed to send message",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}

// SendImage handles POST /api/v1/conversations/:id/images. The request body
// is the raw image.
func (h *MessageHandler) SendImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxImageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds maximum size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messageService.SendImage(ctx, userID, conversationID, blob)
	if err != nil {
		h.logger.Warn("failed to send image",
			zap.String("conversation_id", conversationID),
			zap.Int("bytes", len(blob)),
			zap.Error(err),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}
