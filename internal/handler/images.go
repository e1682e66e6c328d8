package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/middleware"
	natsclient "github.com/capitalize-ai/queuechat/internal/nats"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

// ImageSource reads stored images by object name.
type ImageSource interface {
	Get(ctx context.Context, name string) ([]byte, string, error)
}

// ImageHandler serves uploaded images. Links travel inside envelopes to other
// participants, so this route is public.
type ImageHandler struct {
	source ImageSource
	logger *logger.Logger
}

// NewImageHandler creates a new image handler.
func NewImageHandler(source ImageSource, log *logger.Logger) *ImageHandler {
	return &ImageHandler{
		source: source,
		logger: logger.OrGlobal(log),
	}
}

// Get handles GET /images/:name
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := middleware.ValidateImageName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, contentType, err := h.source.Get(r.Context(), name)
	if errors.Is(err, natsclient.ErrImageNotFound) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to read image", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read image")
		return
	}

	// Object names embed the upload time, so content never changes.
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
