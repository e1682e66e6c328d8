// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/config"
	"github.com/capitalize-ai/queuechat/internal/conversation"
	"github.com/capitalize-ai/queuechat/internal/handler"
	natsclient "github.com/capitalize-ai/queuechat/internal/nats"
	"github.com/capitalize-ai/queuechat/internal/service"
	sqsqueue "github.com/capitalize-ai/queuechat/internal/sqs"
	"github.com/capitalize-ai/queuechat/internal/transport"
	"github.com/capitalize-ai/queuechat/pkg/logger"
	"github.com/capitalize-ai/queuechat/pkg/tracing"
)

// backend is the queue and optional image store selected by configuration.
type backend struct {
	opener   transport.Opener
	uploader conversation.Uploader
	images   handler.ImageSource
	checks   []handler.ReadinessCheck
	close    func()
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting API server", zap.String("queue_backend", cfg.QueueBackend))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "queuechat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open queue backend", zap.Error(err))
	}
	defer be.close()

	// Initialize services
	conversationSvc := service.NewConversationService(be.opener, be.uploader, conversation.Options{
		Interval:    cfg.PollInterval,
		MaxMessages: cfg.ReceiveMaxMessages,
		ReceiveWait: cfg.ReceiveWait,
		CallGrace:   cfg.CallGrace,
		SendTimeout: cfg.SendTimeout,
	}, log)
	messageSvc := service.NewMessageService(conversationSvc, log)

	// Initialize handlers
	routes := handler.Routes{
		Health:            handler.NewHealthHandler(be.checks...),
		Conversations:     handler.NewConversationHandler(conversationSvc, log),
		Messages:          handler.NewMessageHandler(messageSvc, cfg.MaxImageBytes, log),
		Stream:            handler.NewStreamHandler(conversationSvc, handler.DefaultHeartbeat, log),
		JWTSecret:         cfg.JWTSecret,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	}
	if be.images != nil {
		routes.Images = handler.NewImageHandler(be.images, log)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(routes),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Closing the views ends their event streams, which lets the server drain.
	conversationSvc.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	switch cfg.QueueBackend {
	case config.BackendSQS:
		client, err := sqsqueue.NewClient(ctx, sqsConfig(cfg))
		if err != nil {
			return nil, err
		}
		queue, err := sqsqueue.NewQueue(client, sqsConfig(cfg), log)
		if err != nil {
			return nil, err
		}
		return &backend{opener: queue, close: func() {}}, nil

	case config.BackendMemory:
		log.Warn("using in-process queue; messages are not shared with other processes")
		return &backend{opener: transport.NewMemory(), close: func() {}}, nil

	default:
		return openJetStream(ctx, cfg, log)
	}
}

func openJetStream(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "queuechat",
	}, log)
	if err != nil {
		return nil, err
	}

	queue := natsclient.NewQueue(natsClient.JetStream(), natsclient.QueueConfig{
		Stream:  cfg.QueueStream,
		Subject: cfg.QueueSubject,
		MaxAge:  cfg.QueueMaxAge,
	}, log)
	if err := queue.EnsureStream(ctx); err != nil {
		natsClient.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	be := &backend{
		opener: queue,
		checks: []handler.ReadinessCheck{{Name: "NATS", Ready: natsClient.IsConnected}},
		close:  natsClient.Close,
	}

	if cfg.ImagesEnabled() {
		store, err := natsclient.OpenImageStore(ctx, natsClient.JetStream(), natsclient.ImageStoreConfig{
			Bucket:  cfg.ImageBucket,
			BaseURL: cfg.PublicBaseURL,
		}, log)
		if err != nil {
			natsClient.Close()
			return nil, err
		}
		be.uploader = store
		be.images = store
	} else {
		log.Warn("PUBLIC_BASE_URL not set; image messages disabled")
	}

	return be, nil
}

func sqsConfig(cfg *config.Config) sqsqueue.Config {
	return sqsqueue.Config{
		Region:            cfg.AWSRegion,
		QueueURL:          cfg.SQSQueueURL,
		AccessKeyID:       cfg.AWSAccessKeyID,
		SecretAccessKey:   cfg.AWSSecretAccessKey,
		SessionToken:      cfg.AWSSessionToken,
		Endpoint:          cfg.SQSEndpoint,
		VisibilityTimeout: cfg.SQSVisibilityTimeout,
	}
}
