package nats

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/pkg/logger"
	"github.com/capitalize-ai/queuechat/pkg/metrics"
)

// DefaultImageBucket is the object store bucket holding uploaded images.
const DefaultImageBucket = "chat-images"

// ImagePath is the route prefix images are served under.
const ImagePath = "/images/"

// ErrImageNotFound is returned by Get for an unknown object.
var ErrImageNotFound = errors.New("image not found")

// ImageStoreConfig configures the image bucket.
type ImageStoreConfig struct {
	Bucket string
	// BaseURL is the public https origin images are linked from.
	BaseURL string
	MaxAge  time.Duration
	Storage jetstream.StorageType
}

// ImageStore keeps uploaded images in a JetStream object store bucket and
// links them under BaseURL.
type ImageStore struct {
	store   jetstream.ObjectStore
	bucket  string
	baseURL string
	logger  *logger.Logger
}

// OpenImageStore opens the image bucket, creating it if needed.
func OpenImageStore(ctx context.Context, js jetstream.JetStream, cfg ImageStoreConfig, log *logger.Logger) (*ImageStore, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultImageBucket
	}
	if !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("image base url must be https: %q", cfg.BaseURL)
	}

	store, err := js.ObjectStore(ctx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      cfg.Bucket,
			Description: "Uploaded chat images",
			TTL:         cfg.MaxAge,
			Storage:     cfg.Storage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	return &ImageStore{
		store:   store,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger.OrGlobal(log).Named("images"),
	}, nil
}

// ObjectName returns the object name for an image uploaded by owner at at.
func ObjectName(owner string, at time.Time) string {
	return fmt.Sprintf("%s-%d", owner, at.UnixMilli())
}

// URL returns the public link for an object.
func (s *ImageStore) URL(name string) string {
	return s.baseURL + ImagePath + url.PathEscape(name)
}

// Upload stores blob and returns its public https URL.
func (s *ImageStore) Upload(ctx context.Context, owner string, at time.Time, blob []byte) (string, error) {
	name := ObjectName(owner, at)

	_, err := s.store.Put(ctx, jetstream.ObjectMeta{
		Name:    name,
		Headers: nats.Header{"Content-Type": []string{http.DetectContentType(blob)}},
	}, bytes.NewReader(blob))
	metrics.RecordQueueCall(backendName, "upload", err)
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	s.logger.Debug("stored image",
		zap.String("bucket", s.bucket),
		zap.String("name", name),
		zap.Int("bytes", len(blob)),
	)
	return s.URL(name), nil
}

// Get returns an object's bytes and content type.
func (s *ImageStore) Get(ctx context.Context, name string) ([]byte, string, error) {
	result, err := s.store.Get(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, "", ErrImageNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object: %w", err)
	}
	defer result.Close()

	data, err := io.ReadAll(result)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object: %w", err)
	}

	contentType := ""
	if info, err := result.Info(); err == nil && info.Headers != nil {
		contentType = info.Headers.Get("Content-Type")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
