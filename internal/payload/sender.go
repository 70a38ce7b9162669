package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/feedbackloop/engage-sdk/internal/conversation"
	"github.com/feedbackloop/engage-sdk/internal/observability/metrics"
	"github.com/feedbackloop/engage-sdk/internal/retrier"
	"github.com/feedbackloop/engage-sdk/internal/store"
	"github.com/feedbackloop/engage-sdk/pkg/logging"
)

// APIClient delivers a single payload to the server.
type APIClient interface {
	SendPayload(ctx context.Context, creds conversation.ConversationCredentials, p Payload) error
}

// Sender is the durable, ordered, retrying outbound queue. All methods
// must be called from the owner's serial context; completions from the
// network side re-enter it through the dispatch function.
type Sender struct {
	client    APIClient
	retrier   *retrier.Retrier
	retryable func(error) bool
	dispatch  func(func())
	logger    *logging.Logger
	metrics   *metrics.SDKMetrics

	queue       []Payload
	saver       *store.Store[[]Payload]
	creds       *conversation.ConversationCredentials
	suspended   bool
	sending     bool
	needsSaving bool
}

// NewSender creates a queue that delivers payloads through client,
// retrying per r's policy. retryable classifies errors that should keep a
// payload queued rather than drop it; dispatch re-enters the owner's
// serial context (nil runs completions inline, for tests).
func NewSender(client APIClient, r *retrier.Retrier, retryable func(error) bool, dispatch func(func()), logger *logging.Logger, m *metrics.SDKMetrics) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	return &Sender{
		client:    client,
		retrier:   r,
		retryable: retryable,
		dispatch:  dispatch,
		logger:    logger,
		metrics:   m,
	}
}

// AttachSaver wires the durable store and merges any payloads persisted by
// a previous run ahead of payloads enqueued before load.
func (s *Sender) AttachSaver(saver *store.Store[[]Payload]) error {
	s.saver = saver
	persisted, err := saver.Load()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("payload: load persisted queue: %w", err)
	}
	if len(persisted) > 0 {
		s.logger.Info("restored persisted payload queue", "count", len(persisted))
		s.queue = append(persisted, s.queue...)
		s.needsSaving = true
	}
	s.sendPayloadsIfNeeded()
	return nil
}

// Send appends a payload to the queue and attempts to activate sending.
// persistEagerly forces an immediate durable write instead of waiting for
// the periodic save.
func (s *Sender) Send(p Payload, persistEagerly bool) {
	s.queue = append(s.queue, p)
	s.needsSaving = true
	s.metrics.ObservePayload(string(p.Kind), "enqueued")

	if persistEagerly {
		if err := s.SavePayloadsIfNeeded(); err != nil {
			s.logger.Error("eager payload save failed", "error", err)
		}
	}
	s.sendPayloadsIfNeeded()
}

// SetCredentials activates sending for queued payloads.
func (s *Sender) SetCredentials(creds conversation.ConversationCredentials) {
	s.creds = &creds
	s.sendPayloadsIfNeeded()
}

// HasCredentials reports whether the queue has been activated.
func (s *Sender) HasCredentials() bool {
	return s.creds != nil
}

// Resume lets the queue attempt network sends again.
func (s *Sender) Resume() {
	s.suspended = false
	s.sendPayloadsIfNeeded()
}

// Suspend stops new send attempts; queued payloads are retained.
func (s *Sender) Suspend() {
	s.suspended = true
}

// Pending returns the number of undelivered payloads.
func (s *Sender) Pending() int {
	return len(s.queue)
}

// SavePayloadsIfNeeded persists the queue if it changed since last save.
func (s *Sender) SavePayloadsIfNeeded() error {
	if s.saver == nil || !s.needsSaving {
		return nil
	}
	if err := s.saver.Save(s.queue); err != nil {
		s.metrics.ObserveSaveFailure("payload_queue")
		return fmt.Errorf("payload: save queue: %w", err)
	}
	s.needsSaving = false
	return nil
}

// sendPayloadsIfNeeded starts delivery of the queue head unless sending is
// suspended, already underway, or credentials are missing. Strict FIFO: at
// most one payload is in flight, and the head keeps its position until it
// is delivered or permanently rejected.
func (s *Sender) sendPayloadsIfNeeded() {
	if s.suspended || s.sending || s.creds == nil || len(s.queue) == 0 {
		return
	}
	s.sending = true
	head := s.queue[0]
	creds := *s.creds

	s.logger.Debug("sending payload", "nonce", head.Nonce, "kind", head.Kind)
	retrier.StartUnlessUnderway(s.retrier, "payload "+head.Nonce,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.client.SendPayload(ctx, creds, head)
		},
		func(_ struct{}, err error) {
			s.dispatch(func() { s.finishSend(head, err) })
		},
	)
}

func (s *Sender) finishSend(sent Payload, err error) {
	s.sending = false
	switch {
	case err == nil:
		// Remove by nonce, not by head position: a saver attached while
		// the send was in flight may have prepended restored payloads.
		s.removePayload(sent.Nonce)
		s.metrics.ObservePayload(string(sent.Kind), "delivered")
	case s.retryable != nil && s.retryable(err):
		// Transient: keep queue position; the next activation trigger
		// (new payload, resume, credentials) re-attempts delivery.
		s.logger.Warn("payload send failed, keeping queued", "nonce", sent.Nonce, "error", err)
		s.metrics.ObservePayload(string(sent.Kind), "deferred")
		return
	default:
		s.logger.Error("payload permanently rejected, dropping", "nonce", sent.Nonce, "kind", sent.Kind, "error", err)
		s.removePayload(sent.Nonce)
		s.metrics.ObservePayload(string(sent.Kind), "dropped")
	}
	s.sendPayloadsIfNeeded()
}

func (s *Sender) removePayload(nonce string) {
	for i := range s.queue {
		if s.queue[i].Nonce == nonce {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.needsSaving = true
			return
		}
	}
}
