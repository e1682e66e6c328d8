package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/conversation"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

// MessageService handles sends into open views.
type MessageService struct {
	conversationService *ConversationService
	logger              *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(conversationService *ConversationService, log *logger.Logger) *MessageService {
	return &MessageService{
		conversationService: conversationService,
		logger:              logger.OrGlobal(log).Named("messages"),
	}
}

// SendText sends a text message from the view's owner to its counterpart.
func (s *MessageService) SendText(ctx context.Context, owner, conversationID, text string) (*model.Message, error) {
	v, err := s.conversationService.lookup(owner, conversationID)
	if err != nil {
		return nil, err
	}

	msg, err := v.sync.SendText(ctx, text)
	if err != nil {
		return nil, s.translate(conversationID, err)
	}
	return &msg, nil
}

// SendImage uploads blob and sends its link from the view's owner.
func (s *MessageService) SendImage(ctx context.Context, owner, conversationID string, blob []byte) (*model.Message, error) {
	v, err := s.conversationService.lookup(owner, conversationID)
	if err != nil {
		return nil, err
	}

	msg, err := v.sync.SendImage(ctx, blob)
	if err != nil {
		return nil, s.translate(conversationID, err)
	}
	return &msg, nil
}

// translate maps a view that closed mid-send to ErrNotFound.
func (s *MessageService) translate(conversationID string, err error) error {
	if errors.Is(err, conversation.ErrStopped) {
		return ErrNotFound
	}
	s.logger.Debug("send rejected",
		zap.String("conversation_id", conversationID),
		zap.Error(err),
	)
	return err
}
