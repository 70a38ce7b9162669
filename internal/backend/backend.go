// Package backend coordinates the conversation record, the targeter, and
// the payload queue. It owns a single serial run loop: all shared state is
// read and written only on that loop, and every mutation of the
// conversation triggers a reconciliation pass that drives credential
// acquisition, manifest refresh, and queue activation.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/feedbackloop/engage-sdk/internal/api"
	"github.com/feedbackloop/engage-sdk/internal/conversation"
	"github.com/feedbackloop/engage-sdk/internal/observability/metrics"
	"github.com/feedbackloop/engage-sdk/internal/payload"
	"github.com/feedbackloop/engage-sdk/internal/retrier"
	"github.com/feedbackloop/engage-sdk/internal/store"
	"github.com/feedbackloop/engage-sdk/internal/targeting"
	"github.com/feedbackloop/engage-sdk/pkg/logging"
)

// ErrNoPresenter indicates an interaction should be shown but the host
// never registered a presenter. An integration error, not a crash.
var ErrNoPresenter = errors.New("backend: no presenter registered")

// ErrTornDown indicates the backend was closed before the operation could
// run.
var ErrTornDown = errors.New("backend: torn down")

// ConnectionType indicates the source of conversation credentials when a
// Connect call resolves.
type ConnectionType int

const (
	// ConnectionTypeCached means credentials were loaded from disk.
	ConnectionTypeCached ConnectionType = iota
	// ConnectionTypeNew means credentials were granted this session.
	ConnectionTypeNew
)

func (t ConnectionType) String() string {
	if t == ConnectionTypeNew {
		return "new"
	}
	return "cached"
}

// Presenter shows an interaction to the user. Implementations run on the
// host's UI context; the backend never calls it from the run loop.
type Presenter interface {
	PresentInteraction(interaction targeting.Interaction) error
}

// APIClient is the slice of the engagement API the backend drives.
type APIClient interface {
	CreateConversation(ctx context.Context, conv *conversation.Conversation) (*api.ConversationResponse, error)
	GetInteractions(ctx context.Context, creds conversation.ConversationCredentials) (*targeting.Manifest, error)
	payload.APIClient
}

// Config assembles a Backend.
type Config struct {
	Environment  conversation.Environment
	Client       APIClient
	Logger       *logging.Logger
	Metrics      *metrics.SDKMetrics
	SaveInterval time.Duration
	RetryPolicy  *retrier.Policy
}

// Backend is the reactive core of the SDK.
type Backend struct {
	logger  *logging.Logger
	metrics *metrics.SDKMetrics
	client  APIClient

	mu     sync.Mutex
	closed bool
	tasks  chan func()
	done   chan struct{}

	conv            conversation.Conversation
	convSaver       *store.Store[conversation.Conversation]
	convNeedsSaving bool

	targeter *targeting.Targeter
	retrier  *retrier.Retrier
	sender   *payload.Sender

	presenter         Presenter
	connectCompletion func(ConnectionType, error)

	saveInterval      time.Duration
	persistenceTicker *time.Ticker
	tickerSuspended   bool
}

// New creates a backend and starts its run loop. The conversation begins
// with environment-derived defaults and no credentials; call Load to merge
// persisted state and Connect to acquire credentials.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	policy := retrier.DefaultPolicy(api.IsTransient)
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}
	saveInterval := cfg.SaveInterval
	if saveInterval <= 0 {
		saveInterval = 10 * time.Second
	}

	b := &Backend{
		logger:       logger,
		metrics:      cfg.Metrics,
		client:       cfg.Client,
		tasks:        make(chan func(), 256),
		done:         make(chan struct{}),
		conv:         conversation.New(cfg.Environment),
		targeter:     targeting.New(logger),
		retrier:      retrier.New(policy, logger),
		saveInterval: saveInterval,
	}
	b.sender = payload.NewSender(cfg.Client, b.retrier, api.IsTransient, func(fn func()) { b.dispatch(fn) }, logger, cfg.Metrics)

	// The ticker runs for the life of the backend; saves are no-ops until
	// Load attaches the savers.
	b.persistenceTicker = time.NewTicker(saveInterval)
	go b.run()
	return b
}

func (b *Backend) run() {
	defer close(b.done)
	for {
		select {
		case fn, ok := <-b.tasks:
			if !ok {
				return
			}
			fn()
		case <-b.persistenceTicker.C:
			if !b.tickerSuspended {
				b.logger.Debug("running periodic persistence task")
				b.saveToPersistentStorageIfNeeded()
			}
		}
	}
}

// dispatch queues work onto the run loop. Returns false if the backend
// was already torn down; callers treat that as a recoverable consistency
// condition, never a crash.
func (b *Backend) dispatch(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.tasks <- fn
	return true
}

// Close disarms the persistence timer and stops the run loop. In-flight
// network requests complete or fail naturally; their completions are
// dropped.
func (b *Backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()

	b.persistenceTicker.Stop()
	b.retrier.Cancel()
	<-b.done
}

// SetPresenter registers the object that shows interactions.
func (b *Backend) SetPresenter(p Presenter) {
	b.dispatch(func() { b.presenter = p })
}

// SetLocalManifest installs or clears a local manifest override.
func (b *Backend) SetLocalManifest(m *targeting.Manifest) {
	b.dispatch(func() { b.targeter.SetLocalManifest(m) })
}

// Connect associates the backend with app credentials. The completion
// fires exactly once: with the credential source once conversation
// credentials are available, or with an error.
func (b *Backend) Connect(appCredentials conversation.AppCredentials, completion func(ConnectionType, error)) {
	ok := b.dispatch(func() {
		old := b.conv.Clone()
		if err := b.conv.SetAppCredentials(appCredentials); err != nil {
			go completion(0, err)
			return
		}
		b.connectCompletion = completion
		b.processChanges(old)
	})
	if !ok {
		go completion(0, ErrTornDown)
	}
}

// Load merges any previously saved conversation from the container
// directory, attaches the durable stores, and begins periodic
// persistence. Blocks until the load completes.
func (b *Backend) Load(containerDir string) error {
	result := make(chan error, 1)
	ok := b.dispatch(func() { result <- b.load(containerDir) })
	if !ok {
		return ErrTornDown
	}
	return <-result
}

func (b *Backend) load(containerDir string) error {
	if err := store.EnsureContainer(containerDir); err != nil {
		return err
	}

	b.convSaver = store.New[conversation.Conversation](containerDir, "conversation", nil)
	if b.convSaver.Exists() {
		b.logger.Info("loading previously saved conversation")
		saved, err := b.convSaver.Load()
		if err != nil {
			return fmt.Errorf("backend: load conversation: %w", err)
		}
		merged, err := saved.Merged(b.conv)
		if err != nil {
			return fmt.Errorf("backend: merge conversation: %w", err)
		}
		b.mutate(func(c *conversation.Conversation) { *c = merged })
	}

	return b.sender.AttachSaver(store.New[[]payload.Payload](containerDir, "payload-queue", nil))
}

// Engage reports that an event occurred: enqueues an event payload, bumps
// the code point metric, and presents a matching interaction if targeting
// finds one. The completion reports whether an interaction was shown.
func (b *Backend) Engage(event targeting.Event, completion func(bool)) {
	ok := b.dispatch(func() { b.engage(event, completion) })
	if !ok && completion != nil {
		go completion(false)
	}
}

func (b *Backend) engage(event targeting.Event, completion func(bool)) {
	codePoint := event.CodePointName()
	b.sender.Send(payload.NewEvent(codePoint, event.InteractionID), false)
	b.mutate(func(c *conversation.Conversation) {
		c.CodePoints.Invoke(codePoint, time.Now())
	})

	interaction, err := b.targeter.InteractionData(event, &b.conv)
	if err != nil {
		b.logger.Error("targeting error", "code_point", codePoint, "error", err)
		b.metrics.ObserveEngagement("error")
		b.complete(completion, false)
		return
	}
	if interaction == nil {
		b.metrics.ObserveEngagement("not_shown")
		b.complete(completion, false)
		return
	}
	b.presentInteraction(interaction, completion)
}

// SendSurveyResponse enqueues a survey response for delivery, persisting
// the queue eagerly, and records the answers against the survey's metric.
func (b *Backend) SendSurveyResponse(response payload.SurveyResponse) {
	b.dispatch(func() {
		b.sender.Send(payload.NewSurveyResponse(response), true)
		b.mutate(func(c *conversation.Conversation) {
			c.Interactions.Record(response.SurveyID, response.Answers)
		})
	})
}

// Invoke evaluates an explicit invocation list (an interaction branching
// to another) and presents the winner. The completion receives the
// presented interaction's id, or nil when nothing was shown.
func (b *Backend) Invoke(invocations []targeting.Invocation, completion func(*string)) {
	ok := b.dispatch(func() {
		interaction, err := b.targeter.InteractionDataForInvocations(invocations, &b.conv)
		if err != nil || interaction == nil {
			if err != nil {
				b.logger.Error("invocation targeting error", "error", err)
			}
			if completion != nil {
				go completion(nil)
			}
			return
		}
		id := interaction.ID
		b.presentInteraction(interaction, func(shown bool) {
			if completion == nil {
				return
			}
			if shown {
				completion(&id)
			} else {
				completion(nil)
			}
		})
	})
	if !ok && completion != nil {
		go completion(nil)
	}
}

// UpdatePerson mutates the person record; a changed record enqueues an
// update payload via reconciliation.
func (b *Backend) UpdatePerson(fn func(*conversation.Person)) {
	b.dispatch(func() {
		b.mutate(func(c *conversation.Conversation) { fn(&c.Person) })
	})
}

// UpdateDevice mutates the device record; a changed record enqueues an
// update payload via reconciliation.
func (b *Backend) UpdateDevice(fn func(*conversation.Device)) {
	b.dispatch(func() {
		b.mutate(func(c *conversation.Conversation) { fn(&c.Device) })
	})
}

// Snapshot returns a copy of the current conversation record. Intended
// for diagnostics and tests; the zero value is returned after teardown.
func (b *Backend) Snapshot() conversation.Conversation {
	result := make(chan conversation.Conversation, 1)
	if !b.dispatch(func() { result <- b.conv.Clone() }) {
		return conversation.Conversation{}
	}
	return <-result
}

// WillEnterForeground resumes queue sending and periodic persistence.
func (b *Backend) WillEnterForeground() {
	b.dispatch(func() {
		b.sender.Resume()
		b.tickerSuspended = false
	})
}

// DidEnterBackground suspends the queue and the timer, then forces a
// save, since the timer may not fire again while suspended.
func (b *Backend) DidEnterBackground() {
	b.dispatch(func() {
		b.sender.Suspend()
		b.tickerSuspended = true
		b.saveToPersistentStorageIfNeeded()
	})
}

// mutate applies fn to the conversation and runs the reconciliation pass
// with the prior value for change detection. Run-loop only.
func (b *Backend) mutate(fn func(*conversation.Conversation)) {
	old := b.conv.Clone()
	fn(&b.conv)
	b.processChanges(old)
}

// processChanges is the main event loop of the SDK: it reacts to every
// conversation change.
func (b *Backend) processChanges(old conversation.Conversation) {
	if creds := b.conv.ConversationCredentials; creds != nil {
		if b.connectCompletion != nil {
			completion := b.connectCompletion
			b.connectCompletion = nil
			go completion(ConnectionTypeCached, nil)
		}

		if !b.sender.HasCredentials() {
			b.logger.Debug("activating payload sender")
			b.sender.SetCredentials(*creds)
		}

		b.getInteractionsIfNeeded(*creds)

		if !b.conv.Person.Equal(old.Person) {
			b.logger.Debug("person data changed, enqueueing update")
			b.sender.Send(payload.NewPerson(b.conv.Person), false)
		}
		if !b.conv.Device.Equal(old.Device) {
			b.logger.Debug("device data changed, enqueueing update")
			b.sender.Send(payload.NewDevice(b.conv.Device), false)
		}
		if !b.conv.AppRelease.Equal(old.AppRelease) {
			b.logger.Debug("app release data changed, enqueueing update")
			b.sender.Send(payload.NewAppRelease(b.conv.AppRelease), false)
		}
	} else if b.conv.AppCredentials != nil {
		b.createConversationOnServer()
	}
	// else: no credentials of any kind; nothing to do until Connect.

	b.convNeedsSaving = true
}

func (b *Backend) createConversationOnServer() {
	b.logger.Info("requesting a new conversation from the engagement API")
	snapshot := b.conv.Clone()

	retrier.StartUnlessUnderway(b.retrier, "create conversation",
		func(ctx context.Context) (*api.ConversationResponse, error) {
			return b.client.CreateConversation(ctx, &snapshot)
		},
		func(resp *api.ConversationResponse, err error) {
			b.dispatch(func() { b.finishCreateConversation(resp, err) })
		},
	)
}

func (b *Backend) finishCreateConversation(resp *api.ConversationResponse, err error) {
	completion := b.connectCompletion
	b.connectCompletion = nil

	if err != nil {
		b.logger.Error("conversation request failed", "error", err)
		if completion != nil {
			go completion(0, err)
		}
		return
	}
	b.mutate(func(c *conversation.Conversation) {
		c.ConversationCredentials = &conversation.ConversationCredentials{
			Token: resp.Token,
			ID:    resp.ID,
		}
	})
	if completion != nil {
		go completion(ConnectionTypeNew, nil)
	}
}

func (b *Backend) getInteractionsIfNeeded(creds conversation.ConversationCredentials) {
	if !b.targeter.ManifestExpired(time.Now()) {
		return
	}
	b.logger.Info("requesting engagement manifest (absent or stale)")

	retrier.StartUnlessUnderway(b.retrier, "get interactions",
		func(ctx context.Context) (*targeting.Manifest, error) {
			return b.client.GetInteractions(ctx, creds)
		},
		func(manifest *targeting.Manifest, err error) {
			b.dispatch(func() {
				if err != nil {
					b.logger.Error("manifest refresh failed", "error", err)
					b.metrics.ObserveManifestRefresh("failure")
					return
				}
				b.logger.Debug("new engagement manifest received")
				b.metrics.ObserveManifestRefresh("success")
				b.targeter.SetManifest(manifest)
			})
		},
	)
}

func (b *Backend) presentInteraction(interaction *targeting.Interaction, completion func(bool)) {
	b.logger.Info("presenting interaction", "type", interaction.Type, "id", interaction.ID)

	presenter := b.presenter
	if presenter == nil {
		b.logger.Error("cannot present interaction", "error", ErrNoPresenter)
		b.metrics.ObserveEngagement("error")
		b.complete(completion, false)
		return
	}

	shown := *interaction
	// Presentation happens off the run loop; bookkeeping for a successful
	// presentation is re-dispatched back onto it.
	go func() {
		if err := presenter.PresentInteraction(shown); err != nil {
			b.logger.Error("interaction presentation failed", "id", shown.ID, "error", err)
			b.dispatch(func() { b.metrics.ObserveEngagement("error") })
			if completion != nil {
				completion(false)
			}
			return
		}
		if completion != nil {
			completion(true)
		}
		b.dispatch(func() {
			b.metrics.ObserveEngagement("shown")
			b.mutate(func(c *conversation.Conversation) {
				c.Interactions.Invoke(shown.ID, time.Now())
			})
		})
	}()
}

// saveToPersistentStorageIfNeeded flushes the conversation and the
// payload queue independently; either can fail without blocking the
// other. In-memory state stays authoritative when a save fails.
func (b *Backend) saveToPersistentStorageIfNeeded() {
	if b.convSaver != nil && b.convNeedsSaving {
		if err := b.convSaver.Save(b.conv); err != nil {
			b.logger.Error("conversation save failed", "error", err)
			b.metrics.ObserveSaveFailure("conversation")
		} else {
			b.convNeedsSaving = false
		}
	}
	if err := b.sender.SavePayloadsIfNeeded(); err != nil {
		b.logger.Error("payload queue save failed", "error", err)
	}
}

func (b *Backend) complete(completion func(bool), shown bool) {
	if completion != nil {
		go completion(shown)
	}
}
