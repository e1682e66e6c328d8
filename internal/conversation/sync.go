// Package conversation keeps one two-party conversation view in step with the
// shared queue: a fixed-interval poll loop merges what the queue delivers, and
// sends are appended optimistically so the echo never shows up twice.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/codec"
	"github.com/capitalize-ai/queuechat/internal/dedup"
	"github.com/capitalize-ai/queuechat/internal/filter"
	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/internal/transport"
	"github.com/capitalize-ai/queuechat/pkg/logger"
	"github.com/capitalize-ai/queuechat/pkg/metrics"
	"github.com/capitalize-ai/queuechat/pkg/tracing"
)

const (
	// DefaultInterval is the time between scheduled polls.
	DefaultInterval = 7 * time.Second
	// DefaultMaxMessages is the receive batch size.
	DefaultMaxMessages = 10
	// DefaultReceiveWait is the long-poll wait handed to the transport.
	DefaultReceiveWait = 5 * time.Second
	// DefaultCallGrace is added to the receive wait to bound the whole call.
	DefaultCallGrace = 2 * time.Second
	// DefaultSendTimeout bounds a single upload or send.
	DefaultSendTimeout = 10 * time.Second

	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 8
)

var (
	// ErrStopped is returned by operations on a stopped conversation.
	ErrStopped = errors.New("conversation stopped")
	// ErrPollInFlight is returned by Poll when another poll has not finished.
	ErrPollInFlight = errors.New("poll already in flight")
	// ErrEmptyText rejects blank text sends.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrNoImage rejects image sends without data.
	ErrNoImage = errors.New("no image selected")
	// ErrUpload is matched by every *UploadError.
	ErrUpload = errors.New("image upload failed")
)

// UploadError reports a failed image upload. The send was not attempted.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return "image upload failed: " + e.Err.Error()
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUpload, e.Err}
}

// Uploader stores an image blob and returns its public https URL.
type Uploader interface {
	Upload(ctx context.Context, owner string, at time.Time, blob []byte) (string, error)
}

// Options tunes the sync loop. Zero or negative fields take the defaults, so a
// receive always long-polls for a positive wait.
type Options struct {
	Interval    time.Duration
	MaxMessages int
	ReceiveWait time.Duration
	CallGrace   time.Duration
	SendTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.ReceiveWait <= 0 {
		o.ReceiveWait = DefaultReceiveWait
	}
	if o.CallGrace <= 0 {
		o.CallGrace = DefaultCallGrace
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	return o
}

// Sync owns the log and dedup state of one conversation between LocalUser and
// RemoteUser. Every mutation of the log, the dedup store and the notice
// happens under mu.
type Sync struct {
	id        string
	local     string
	remote    string
	transport transport.Transport
	uploader  Uploader
	opts      Options
	logger    *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu       sync.Mutex
	messages []model.Message
	seen     *dedup.Store
	notice   string
	stopped  bool
	subs     map[string]chan model.Snapshot

	polling atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	halted  chan struct{}
}

// New creates a stopped conversation. Call Start to begin polling.
func New(id, localUser, remoteUser string, tr transport.Transport, up Uploader, opts Options, log *logger.Logger) *Sync {
	return &Sync{
		id:        id,
		local:     localUser,
		remote:    remoteUser,
		transport: tr,
		uploader:  up,
		opts:      opts.withDefaults(),
		logger:    logger.OrGlobal(log).WithConversation(id, localUser, remoteUser),
		tracer:    tracing.Tracer("queuechat/conversation"),
		now:       time.Now,
		seen:      dedup.New(),
		subs:      make(map[string]chan model.Snapshot),
		halted:    make(chan struct{}),
	}
}

// ID returns the conversation view id.
func (s *Sync) ID() string { return s.id }

// LocalUser returns the identity this view sends as.
func (s *Sync) LocalUser() string { return s.local }

// RemoteUser returns the counterpart identity.
func (s *Sync) RemoteUser() string { return s.remote }

// Start polls once immediately and then on every interval tick until Stop.
func (s *Sync) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	metrics.ConversationsActive.Inc()

	go s.run(ctx)

	s.logger.Info("conversation sync started", zap.Duration("interval", s.opts.Interval))
	return nil
}

// Stop cancels the poll loop and closes all subscriptions. A poll already in
// flight finishes on its own but its result is discarded. Stop is idempotent.
func (s *Sync) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.halted)
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		metrics.ConversationsActive.Dec()
	}

	s.logger.Info("conversation sync stopped")
}

// State reports Stopped, Polling or Idle.
func (s *Sync) State() model.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Sync) stateLocked() model.SyncState {
	if s.stopped || s.cancel == nil {
		return model.StateStopped
	}
	if s.polling.Load() {
		return model.StatePolling
	}
	return model.StateIdle
}

func (s *Sync) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a poll unless one is still running, in which case the tick is skipped.
func (s *Sync) tick(ctx context.Context) {
	if !s.polling.CompareAndSwap(false, true) {
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug("poll still in flight, skipping tick")
		return
	}

	// The in-flight poll outlives Stop; its own timeout bounds it.
	pollCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.polling.Store(false)
		_ = s.poll(pollCtx)
	}()
}

// Poll runs one receive/filter/merge cycle now. It returns ErrPollInFlight if
// the loop is already polling and the transport error, if any, after
// recording it as the notice.
func (s *Sync) Poll(ctx context.Context) error {
	if !s.polling.CompareAndSwap(false, true) {
		return ErrPollInFlight
	}
	defer s.polling.Store(false)
	return s.poll(ctx)
}

func (s *Sync) poll(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "conversation.poll",
		trace.WithAttributes(attribute.String("conversation.id", s.id)))
	defer span.End()

	rctx, cancel := context.WithTimeout(ctx, s.opts.ReceiveWait+s.opts.CallGrace)
	defer cancel()

	start := time.Now()
	batch, err := s.transport.Receive(rctx, s.opts.MaxMessages, s.opts.ReceiveWait)
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	var incoming []model.Message
	if err != nil {
		err = transport.Wrap("receive", err)
	} else {
		incoming = filter.Select(batch, s.local, s.remote, s.logger)
		receivedAt := s.now()
		for i := range incoming {
			incoming[i].ReceivedAt = receivedAt
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		metrics.PollsTotal.WithLabelValues("discarded").Inc()
		return ErrStopped
	}

	if err != nil {
		metrics.PollsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "receive failed")
		s.logger.Warn("poll failed", zap.Error(err))
		s.setNoticeLocked(model.NoticeReceiveFailed)
		return err
	}

	if len(incoming) == 0 {
		metrics.PollsTotal.WithLabelValues("empty").Inc()
		s.setNoticeLocked(model.NoticeNoMessages)
		return nil
	}

	var admitted int
	s.messages, admitted = s.seen.Merge(s.messages, incoming)

	metrics.PollsTotal.WithLabelValues("messages").Inc()
	metrics.MessagesAdmitted.WithLabelValues(string(model.OriginRemote)).Add(float64(admitted))
	metrics.MessagesDuplicate.Add(float64(len(incoming) - admitted))
	span.SetAttributes(
		attribute.Int("poll.delivered", len(batch)),
		attribute.Int("poll.admitted", admitted),
	)
	s.logger.Debug("poll merged",
		zap.Int("delivered", len(batch)),
		zap.Int("matched", len(incoming)),
		zap.Int("admitted", admitted),
	)

	if admitted > 0 || s.notice != "" {
		s.notice = ""
		s.publishLocked()
	}
	return nil
}

// SendText sends text to the remote user and appends it to the log.
func (s *Sync) SendText(ctx context.Context, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyText
	}
	return s.send(ctx, "text", text, model.Message{Text: text})
}

// SendImage uploads blob and sends its URL. An upload failure aborts the send
// before anything reaches the transport.
func (s *Sync) SendImage(ctx context.Context, blob []byte) (model.Message, error) {
	if s.isStopped() {
		return model.Message{}, ErrStopped
	}
	if len(blob) == 0 {
		s.setNotice(model.NoticeNoImage)
		return model.Message{}, ErrNoImage
	}

	url, err := s.upload(ctx, blob)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		metrics.SendsTotal.WithLabelValues("image", "upload_failed").Inc()
		s.logger.Warn("image upload failed", zap.Error(err))
		s.setNotice(model.NoticeUploadFailed)
		return model.Message{}, &UploadError{Err: err}
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()

	return s.send(ctx, "image", url, model.Message{ImageURL: url})
}

func (s *Sync) upload(ctx context.Context, blob []byte) (string, error) {
	if s.uploader == nil {
		return "", errors.New("no object store configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	return s.uploader.Upload(ctx, s.local, s.now(), blob)
}

func (s *Sync) send(ctx context.Context, kind, content string, msg model.Message) (model.Message, error) {
	if s.isStopped() {
		return model.Message{}, ErrStopped
	}

	ctx, span := s.tracer.Start(ctx, "conversation.send",
		trace.WithAttributes(
			attribute.String("conversation.id", s.id),
			attribute.String("message.kind", kind),
		))
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	id, err := s.transport.Send(sctx, codec.Encode(s.local, s.remote, content))
	if err == nil && id == "" {
		err = transport.ErrNoMessageID
	}
	if err != nil {
		notice := model.NoticeSendFailed
		if errors.Is(err, transport.ErrNoMessageID) {
			notice = model.NoticeSendRejected
		}
		err = transport.Wrap("send", err)
		metrics.SendsTotal.WithLabelValues(kind, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		s.logger.Warn("send failed", zap.String("kind", kind), zap.Error(err))
		s.setNotice(notice)
		return model.Message{}, err
	}
	metrics.SendsTotal.WithLabelValues(kind, "ok").Inc()

	msg.ID = id
	msg.Sender = s.local
	msg.Recipient = s.remote
	msg.Origin = model.OriginLocal
	msg.ReceivedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return msg, nil
	}

	// A poll may already have admitted the echo of this send.
	if s.seen.CheckAndAdmit(id) {
		s.logger.Debug("send echo already admitted", zap.String("id", id))
		if existing, ok := s.findLocked(id); ok {
			msg = existing
		}
		s.setNoticeLocked("")
		return msg, nil
	}

	s.messages = append(s.messages, msg)
	metrics.MessagesAdmitted.WithLabelValues(string(model.OriginLocal)).Inc()
	s.notice = ""
	s.publishLocked()

	return msg, nil
}

// Snapshot returns a copy of the current view state.
func (s *Sync) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe delivers the current snapshot, then a new one after every change
// until ctx ends or the conversation stops. A slow subscriber only misses
// intermediate snapshots; the latest one is always delivered.
func (s *Sync) Subscribe(ctx context.Context) (<-chan model.Snapshot, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}

	subID := uuid.New().String()
	ch := make(chan model.Snapshot, subscriberBufferSize)
	ch <- s.snapshotLocked()
	s.subs[subID] = ch
	s.mu.Unlock()

	s.logger.Debug("subscriber added", zap.String("sub_id", subID))

	go func() {
		select {
		case <-ctx.Done():
			s.unsubscribe(subID)
		case <-s.halted:
		}
	}()

	return ch, nil
}

func (s *Sync) unsubscribe(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subs[subID]
	if !ok {
		return
	}
	delete(s.subs, subID)
	close(ch)

	s.logger.Debug("subscriber removed", zap.String("sub_id", subID))
}

func (s *Sync) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest pending snapshot to make room for this one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Sync) snapshotLocked() model.Snapshot {
	messages := make([]model.Message, len(s.messages))
	copy(messages, s.messages)
	return model.Snapshot{
		ConversationID: s.id,
		LocalUser:      s.local,
		RemoteUser:     s.remote,
		Messages:       messages,
		Notice:         s.notice,
		State:          s.stateLocked(),
	}
}

func (s *Sync) findLocked(id string) (model.Message, bool) {
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}

func (s *Sync) setNotice(notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.setNoticeLocked(notice)
	}
}

func (s *Sync) setNoticeLocked(notice string) {
	if s.notice == notice {
		return
	}
	s.notice = notice
	s.publishLocked()
}

func (s *Sync) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
