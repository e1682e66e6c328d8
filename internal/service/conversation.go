// Package service provides the conversation view boundary used by the HTTP layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/codec"
	"github.com/capitalize-ai/queuechat/internal/conversation"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/internal/transport"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

var (
	// ErrNotFound is returned for unknown handles and handles owned by another identity.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidIdentity is returned when a participant id cannot appear in an envelope.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrShuttingDown is returned by Open after Shutdown.
	ErrShuttingDown = errors.New("service is shutting down")
)

type view struct {
	handle    model.Handle
	sync      *conversation.Sync
	transport transport.Transport
}

// ConversationService owns the open conversation views.
type ConversationService struct {
	opener   transport.Opener
	uploader conversation.Uploader
	opts     conversation.Options
	logger   *logger.Logger

	views  map[string]*view
	closed bool
	mu     sync.RWMutex
}

// NewConversationService creates a new conversation service. uploader may be
// nil, in which case image sends fail with an upload error.
func NewConversationService(opener transport.Opener, uploader conversation.Uploader, opts conversation.Options, log *logger.Logger) *ConversationService {
	return &ConversationService{
		opener:   opener,
		uploader: uploader,
		opts:     opts,
		logger:   logger.OrGlobal(log).Named("conversations"),
		views:    make(map[string]*view),
	}
}

// Open starts a view of the conversation between localUser and remoteUser.
func (s *ConversationService) Open(ctx context.Context, localUser, remoteUser string) (*model.Handle, error) {
	if !codec.ValidIdentity(localUser) {
		return nil, fmt.Errorf("%w: local user %q", ErrInvalidIdentity, localUser)
	}
	if !codec.ValidIdentity(remoteUser) {
		return nil, fmt.Errorf("%w: remote user %q", ErrInvalidIdentity, remoteUser)
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrShuttingDown
	}

	tr, err := s.opener.Open(ctx, localUser)
	if err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}

	handle := model.Handle{
		ID:         uuid.Must(uuid.NewV7()).String(),
		LocalUser:  localUser,
		RemoteUser: remoteUser,
		OpenedAt:   time.Now(),
	}
	cs := conversation.New(handle.ID, localUser, remoteUser, tr, s.uploader, s.opts, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		closeTransport(ctx, tr, s.logger)
		return nil, ErrShuttingDown
	}
	s.views[handle.ID] = &view{handle: handle, sync: cs, transport: tr}
	s.mu.Unlock()

	if err := cs.Start(); err != nil {
		s.remove(handle.ID)
		closeTransport(ctx, tr, s.logger)
		return nil, fmt.Errorf("failed to start conversation: %w", err)
	}

	s.logger.Info("conversation opened",
		zap.String("conversation_id", handle.ID),
		zap.String("local_user", localUser),
		zap.String("remote_user", remoteUser),
	)

	return &handle, nil
}

// Get returns the handle of an open view.
func (s *ConversationService) Get(owner, conversationID string) (*model.Handle, error) {
	v, err := s.lookup(owner, conversationID)
	if err != nil {
		return nil, err
	}
	handle := v.handle
	return &handle, nil
}

// List returns the views owned by owner, oldest first.
func (s *ConversationService) List(owner string) []model.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := make([]model.Handle, 0)
	for _, v := range s.views {
		if v.handle.LocalUser == owner {
			handles = append(handles, v.handle)
		}
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].OpenedAt.Before(handles[j].OpenedAt)
	})
	return handles
}

// Snapshot returns the current state of a view.
func (s *ConversationService) Snapshot(owner, conversationID string) (model.Snapshot, error) {
	v, err := s.lookup(owner, conversationID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return v.sync.Snapshot(), nil
}

// Subscribe streams snapshots of a view until ctx ends or the view closes.
func (s *ConversationService) Subscribe(ctx context.Context, owner, conversationID string) (<-chan model.Snapshot, error) {
	v, err := s.lookup(owner, conversationID)
	if err != nil {
		return nil, err
	}
	ch, err := v.sync.Subscribe(ctx)
	if errors.Is(err, conversation.ErrStopped) {
		return nil, ErrNotFound
	}
	return ch, err
}

// Retarget opens a view for the same owner with remoteUser as the counterpart
// and then closes the old one. The old view's log is not carried over. If the
// new view cannot be opened the old one stays open.
func (s *ConversationService) Retarget(ctx context.Context, owner, conversationID, remoteUser string) (*model.Handle, error) {
	if !codec.ValidIdentity(remoteUser) {
		return nil, fmt.Errorf("%w: remote user %q", ErrInvalidIdentity, remoteUser)
	}
	if _, err := s.lookup(owner, conversationID); err != nil {
		return nil, err
	}

	next, err := s.Open(ctx, owner, remoteUser)
	if err != nil {
		return nil, err
	}
	if err := s.Close(ctx, owner, conversationID); err != nil {
		// Closed concurrently; the new view is still valid.
		s.logger.Debug("retargeted view already closed", zap.String("conversation_id", conversationID))
	}
	return next, nil
}

// Close stops a view and releases its transport.
func (s *ConversationService) Close(ctx context.Context, owner, conversationID string) error {
	v, err := s.lookup(owner, conversationID)
	if err != nil {
		return err
	}
	if !s.remove(conversationID) {
		return ErrNotFound
	}

	v.sync.Stop()
	closeTransport(ctx, v.transport, s.logger)

	s.logger.Info("conversation closed", zap.String("conversation_id", conversationID))
	return nil
}

// Shutdown closes every view and rejects further opens.
func (s *ConversationService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	views := make([]*view, 0, len(s.views))
	for id, v := range s.views {
		views = append(views, v)
		delete(s.views, id)
	}
	s.mu.Unlock()

	for _, v := range views {
		v.sync.Stop()
		closeTransport(ctx, v.transport, s.logger)
	}

	s.logger.Info("conversation service shut down", zap.Int("closed", len(views)))
}

// Count returns the number of open views.
func (s *ConversationService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}

func (s *ConversationService) lookup(owner, conversationID string) (*view, error) {
	s.mu.RLock()
	v, exists := s.views[conversationID]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	if v.handle.LocalUser != owner {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *ConversationService) remove(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[conversationID]; !ok {
		return false
	}
	delete(s.views, conversationID)
	return true
}

func closeTransport(ctx context.Context, tr transport.Transport, log *logger.Logger) {
	closer, ok := tr.(transport.Closer)
	if !ok {
		return
	}
	if err := closer.Close(ctx); err != nil {
		log.Warn("failed to release transport", zap.Error(err))
	}
}
