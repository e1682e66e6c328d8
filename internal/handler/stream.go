package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/middleware"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/internal/service"
	"github.com/capitalize-ai/queuechat/pkg/logger"
	"github.com/capitalize-ai/queuechat/pkg/metrics"
)

// DefaultHeartbeat is the interval between keep-alive events.
const DefaultHeartbeat = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	conversationService *service.ConversationService
	heartbeat           time.Duration
	logger              *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(convSvc *service.ConversationService, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		conversationService: convSvc,
		heartbeat:           heartbeat,
		logger:              logger.OrGlobal(log),
	}
}

// Stream handles GET /api/v1/conversations/:id/stream. Every event carries
// the complete snapshot, so a client only ever renders the latest one.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	snapshots, err := h.conversationService.Subscribe(ctx, userID, conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// Track active connection
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", conversationID))
			return

		case snap, ok := <-snapshots:
			if !ok {
				sendSSEEvent(w, flusher, "closed", map[string]string{
					"conversation_id": conversationID,
				})
				return
			}
			if err := sendSSEEvent(w, flusher, "snapshot", snap); err != nil {
				h.logger.Error("failed to write snapshot",
					zap.String("conversation_id", conversationID),
					zap.Error(err),
				)
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "encode_error",
					Message: "Failed to encode snapshot",
				})
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
