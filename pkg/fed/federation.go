package fed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fedwire/pkg/activity"
	"fedwire/pkg/httpsig"
	"fedwire/pkg/routing"
)

// Route roles. Every federation endpoint is registered under exactly one of
// these; the webfinger and shared-inbox routes are added implicitly.
const (
	roleWebFinger   = "webfinger"
	roleActor       = "actor"
	roleInbox       = "inbox"
	roleSharedInbox = "sharedInbox"
	roleOutbox      = "outbox"
	roleFollowers   = "followers"
	roleFollowing   = "following"
)

const (
	webFingerPath          = "/.well-known/webfinger"
	defaultSharedInboxPath = "/inbox"
)

// Options configures a Federation instance.
type Options struct {
	// Loader dereferences remote JSON-LD documents (keys, actors,
	// contexts). Required when inbox listeners are registered.
	Loader activity.DocumentLoader

	// Decoder turns inbox request bodies into typed activities. Required
	// when inbox listeners are registered.
	Decoder activity.Decoder

	// WebFinger responds to /.well-known/webfinger queries. Optional;
	// without it webfinger requests fall through to OnNotFound.
	WebFinger WebFingerResponder

	// ActorRenderer serializes actors with content negotiation. Optional;
	// the default writes application/activity+json or falls back to
	// OnNotAcceptable.
	ActorRenderer ActorRenderer

	// TreatHTTPS forces https in constructed URIs, for deployments behind
	// a TLS-terminating proxy.
	TreatHTTPS bool

	// SharedInboxPath overrides the variable-free shared inbox path
	// registered by SetInboxListeners. Defaults to /inbox.
	SharedInboxPath string

	Logger     *zap.Logger
	Metrics    prometheus.Registerer
	HTTPClient *http.Client

	// Remote key cache bounds; zero values select the defaults.
	KeyCacheSize int
	KeyCacheTTL  time.Duration
}

// Federation is the registration surface of the engine. Dispatchers and
// listeners are registered exactly once each during startup; Handler()
// freezes the registry and returns the serving side. Registration calls and
// request handling are temporally disjoint by contract, so request paths
// read the registry without locks.
type Federation struct {
	mu     sync.Mutex
	frozen bool

	router          *routing.Router
	loader          activity.DocumentLoader
	decoder         activity.Decoder
	webFinger       WebFingerResponder
	actorRenderer   ActorRenderer
	treatHTTPS      bool
	sharedInboxPath string

	logger   *zap.Logger
	metrics  *Metrics
	resolver *httpsig.RemoteKeyResolver
	sender   *Sender

	actorDispatcher   ActorDispatcher
	keyPairDispatcher KeyPairDispatcher

	outbox struct {
		dispatcher  OutboxDispatcher
		counter     CollectionCounter
		firstCursor CursorProvider
		lastCursor  CursorProvider
	}
	followers struct {
		dispatcher  FollowersDispatcher
		counter     CollectionCounter
		firstCursor CursorProvider
	}
	followingDispatcher FollowingDispatcher

	inboxListeners    map[activity.Variant]InboxListener
	inboxErrorHandler InboxErrorHandler
}

// New creates an empty Federation.
func New(opts Options) *Federation {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = NewDeliveryClient(ClientOptions{})
	}
	sharedInboxPath := opts.SharedInboxPath
	if sharedInboxPath == "" {
		sharedInboxPath = defaultSharedInboxPath
	}

	f := &Federation{
		router:          routing.New(),
		loader:          opts.Loader,
		decoder:         opts.Decoder,
		webFinger:       opts.WebFinger,
		actorRenderer:   opts.ActorRenderer,
		treatHTTPS:      opts.TreatHTTPS,
		sharedInboxPath: sharedInboxPath,
		logger:          logger,
		metrics:         NewMetrics(opts.Metrics),
	}
	if opts.Loader != nil {
		f.resolver = httpsig.NewRemoteKeyResolver(opts.Loader, opts.KeyCacheSize, opts.KeyCacheTTL, logger)
	}
	f.sender = &Sender{client: client, logger: logger, metrics: f.metrics}
	return f
}

// SetActorDispatcher registers the actor route and its dispatcher. The
// pattern must carry exactly one {handle} variable. The webfinger route is
// registered automatically alongside it.
func (f *Federation) SetActorDispatcher(path string, d ActorDispatcher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFrozen
	}
	if f.actorDispatcher != nil {
		return &DuplicateRegistrationError{Slot: "actor dispatcher"}
	}
	if err := f.addHandleRoute(path, roleActor); err != nil {
		return err
	}
	if !f.router.Has(roleWebFinger) {
		if _, err := f.router.Add(webFingerPath, roleWebFinger); err != nil {
			return err
		}
	}
	f.actorDispatcher = d
	return nil
}

// SetKeyPairDispatcher registers the callback supplying local actors'
// signing key pairs. It registers no route.
func (f *Federation) SetKeyPairDispatcher(d KeyPairDispatcher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFrozen
	}
	if f.keyPairDispatcher != nil {
		return &DuplicateRegistrationError{Slot: "key pair dispatcher"}
	}
	f.keyPairDispatcher = d
	return nil
}

// SetOutboxDispatcher registers the outbox route and dispatcher and returns
// a setter for the optional counter and cursor callbacks.
func (f *Federation) SetOutboxDispatcher(path string, d OutboxDispatcher) (*OutboxSetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return nil, ErrFrozen
	}
	if f.outbox.dispatcher != nil {
		return nil, &DuplicateRegistrationError{Slot: "outbox dispatcher"}
	}
	if err := f.addHandleRoute(path, roleOutbox); err != nil {
		return nil, err
	}
	f.outbox.dispatcher = d
	return &OutboxSetter{f: f}, nil
}

// SetFollowersDispatcher registers the followers route and dispatcher and
// returns a setter for the optional counter and first-cursor callbacks.
func (f *Federation) SetFollowersDispatcher(path string, d FollowersDispatcher) (*FollowersSetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return nil, ErrFrozen
	}
	if f.followers.dispatcher != nil {
		return nil, &DuplicateRegistrationError{Slot: "followers dispatcher"}
	}
	if err := f.addHandleRoute(path, roleFollowers); err != nil {
		return nil, err
	}
	f.followers.dispatcher = d
	return &FollowersSetter{f: f}, nil
}

// SetFollowingDispatcher registers the following route and dispatcher.
func (f *Federation) SetFollowingDispatcher(path string, d FollowingDispatcher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFrozen
	}
	if f.followingDispatcher != nil {
		return &DuplicateRegistrationError{Slot: "following dispatcher"}
	}
	if err := f.addHandleRoute(path, roleFollowing); err != nil {
		return err
	}
	f.followingDispatcher = d
	return nil
}

// SetInboxListeners registers the per-actor inbox route plus the shared
// inbox route and returns the listener setter.
func (f *Federation) SetInboxListeners(path string) (*InboxListenerSetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return nil, ErrFrozen
	}
	if f.inboxListeners != nil {
		return nil, &DuplicateRegistrationError{Slot: "inbox listeners"}
	}
	if err := f.addHandleRoute(path, roleInbox); err != nil {
		return nil, err
	}
	if _, err := f.router.Add(f.sharedInboxPath, roleSharedInbox); err != nil {
		return nil, err
	}
	f.inboxListeners = make(map[activity.Variant]InboxListener)
	return &InboxListenerSetter{f: f}, nil
}

// Handler freezes the registry and returns the serving side. Registration
// calls made after the first Handler call fail with ErrFrozen.
func (f *Federation) Handler() (*Handler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inboxListeners != nil {
		if f.loader == nil {
			return nil, fmt.Errorf("fed: inbox listeners are registered but no document loader is configured")
		}
		if f.decoder == nil {
			return nil, fmt.Errorf("fed: inbox listeners are registered but no activity decoder is configured")
		}
	}
	f.frozen = true
	return &Handler{f: f}, nil
}

// SendActivity delivers one signed activity to one inbox using this
// engine's delivery client and metrics. See Sender.SendActivity.
func (f *Federation) SendActivity(ctx context.Context, opts SendOptions) error {
	return f.sender.SendActivity(ctx, opts)
}

// addHandleRoute validates the exactly-one-{handle} contract and registers
// the route. The pattern is compiled against a scratch router first so a
// failed arity check leaves the table untouched.
func (f *Federation) addHandleRoute(path, role string) error {
	vars, err := routing.New().Add(path, role)
	if err != nil {
		return err
	}
	if len(vars) != 1 || vars[0] != "handle" {
		return &routing.RoutingError{Role: role, Pattern: path,
			Reason: "path must have exactly one {handle} variable"}
	}
	_, err = f.router.Add(path, role)
	return err
}

// OutboxSetter chains the optional outbox callbacks. Each slot may be set
// at most once; a duplicate set panics with *DuplicateRegistrationError,
// the same way http.ServeMux treats duplicate patterns.
type OutboxSetter struct {
	f *Federation
}

// SetCounter registers the outbox total-count callback.
func (s *OutboxSetter) SetCounter(c CollectionCounter) *OutboxSetter {
	s.f.setSlot("outbox counter", func() bool { return s.f.outbox.counter == nil }, func() { s.f.outbox.counter = c })
	return s
}

// SetFirstCursor registers the outbox first-cursor callback.
func (s *OutboxSetter) SetFirstCursor(c CursorProvider) *OutboxSetter {
	s.f.setSlot("outbox first cursor", func() bool { return s.f.outbox.firstCursor == nil }, func() { s.f.outbox.firstCursor = c })
	return s
}

// SetLastCursor registers the outbox last-cursor callback.
func (s *OutboxSetter) SetLastCursor(c CursorProvider) *OutboxSetter {
	s.f.setSlot("outbox last cursor", func() bool { return s.f.outbox.lastCursor == nil }, func() { s.f.outbox.lastCursor = c })
	return s
}

// FollowersSetter chains the optional followers callbacks.
type FollowersSetter struct {
	f *Federation
}

// SetCounter registers the followers total-count callback.
func (s *FollowersSetter) SetCounter(c CollectionCounter) *FollowersSetter {
	s.f.setSlot("followers counter", func() bool { return s.f.followers.counter == nil }, func() { s.f.followers.counter = c })
	return s
}

// SetFirstCursor registers the followers first-cursor callback.
func (s *FollowersSetter) SetFirstCursor(c CursorProvider) *FollowersSetter {
	s.f.setSlot("followers first cursor", func() bool { return s.f.followers.firstCursor == nil }, func() { s.f.followers.firstCursor = c })
	return s
}

// InboxListenerSetter chains inbox listener registration.
type InboxListenerSetter struct {
	f *Federation
}

// On registers the listener for one activity variant. Lookup at dispatch
// time is by exact variant; registering the same variant twice panics with
// *DuplicateRegistrationError.
func (s *InboxListenerSetter) On(v activity.Variant, l InboxListener) *InboxListenerSetter {
	s.f.setSlot(fmt.Sprintf("inbox listener for %s", v), func() bool { return s.f.inboxListeners[v] == nil }, func() {
		s.f.inboxListeners[v] = l
	})
	return s
}

// OnError registers the process-wide error handler for listener and
// pipeline failures. Unlike the other slots, the last registration wins.
func (s *InboxListenerSetter) OnError(h InboxErrorHandler) *InboxListenerSetter {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.frozen {
		panic(ErrFrozen)
	}
	s.f.inboxErrorHandler = h
	return s
}

// setSlot fills a chained callback slot exactly once. The emptiness check
// runs under the registry lock so it pairs atomically with the fill.
func (f *Federation) setSlot(name string, empty func() bool, fill func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		panic(ErrFrozen)
	}
	if !empty() {
		panic(&DuplicateRegistrationError{Slot: name})
	}
	fill()
}
