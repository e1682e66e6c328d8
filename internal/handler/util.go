package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/queuechat/internal/conversation"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/internal/service"
	"github.com/capitalize-ai/queuechat/internal/transport"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps a service error to a status and the user-facing notice.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, service.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
	case errors.Is(err, conversation.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "content cannot be empty")
	case errors.Is(err, conversation.ErrNoImage):
		writeError(w, http.StatusBadRequest, model.NoticeNoImage)
	case errors.Is(err, conversation.ErrUpload):
		writeError(w, http.StatusBadGateway, model.NoticeUploadFailed)
	case errors.Is(err, transport.ErrNoMessageID):
		writeError(w, http.StatusBadGateway, model.NoticeSendRejected)
	case errors.Is(err, transport.ErrTransport):
		writeError(w, http.StatusBadGateway, model.NoticeSendFailed)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
