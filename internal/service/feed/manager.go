// internal/service/feed/manager.go

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
	"tides/internal/domain/geo"
	"tides/internal/domain/identity"
	"tides/internal/domain/messaging"
	"tides/internal/domain/tide"
	"tides/internal/service/moderation"
)

// Kind names a logical feed
type Kind string

const (
	NearbyTides Kind = "nearby-groups"
	MyTides     Kind = "my-groups"
	GeoChat     Kind = "geo-chat"
	TideChat    Kind = "group-chat"
	TideDoc     Kind = "group-doc"
)

// Kinds lists every feed
var Kinds = []Kind{NearbyTides, MyTides, GeoChat, TideChat, TideDoc}

var (
	ErrUnknownFeed   = errors.New("unknown feed")
	ErrMissingTarget = errors.New("feed requires a tide id")
	ErrMissingBox    = errors.New("feed requires a bounding box")
)

// Status discriminates what a delivery carries
type Status string

const (
	StatusBatch  Status = "batch"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Event is one delivery to a feed consumer
type Event struct {
	Kind     Kind
	Status   Status
	Tides    []tide.Tide
	Messages []messaging.Message
	Dropped  int
	Err      error
}

// Params defines a feed's query. Location and Box are used by the geo feeds;
// TideID by group-chat and group-doc.
type Params struct {
	Location geo.Coordinate
	Box      geo.BoundingBox
	TideID   string
}

// Sink receives feed events. It must not call back into the Manager.
type Sink func(Event)

// Config contains configuration for the subscription manager
type Config struct {
	GeoChatWindow time.Duration
	GeoChatLimit  int
	TideChatLimit int
}

// DefaultConfig returns the standard feed windows and limits
func DefaultConfig() Config {
	return Config{
		GeoChatWindow: 12 * time.Hour,
		GeoChatLimit:  50,
		TideChatLimit: 100,
	}
}

// Manager keeps at most one live query per feed for a single session
type Manager struct {
	store   docstore.Store
	session *identity.Session
	config  Config
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	nextID int64
	subs   map[Kind]*subscription
}

// NewManager creates a subscription manager bound to session
func NewManager(store docstore.Store, session *identity.Session, config Config, logger zerolog.Logger) *Manager {
	defaults := DefaultConfig()
	if config.GeoChatWindow <= 0 {
		config.GeoChatWindow = defaults.GeoChatWindow
	}
	if config.GeoChatLimit <= 0 {
		config.GeoChatLimit = defaults.GeoChatLimit
	}
	if config.TideChatLimit <= 0 {
		config.TideChatLimit = defaults.TideChatLimit
	}

	return &Manager{
		store:   store,
		session: session,
		config:  config,
		logger:  logger.With().Str("component", "feed_manager").Str("user_id", session.UserID).Logger(),
		now:     time.Now,
		subs:    make(map[Kind]*subscription),
	}
}

// Handle identifies one attachment of a feed
type Handle struct {
	kind    Kind
	id      int64
	manager *Manager
}

// Kind returns the feed the handle is attached to
func (h *Handle) Kind() Kind { return h.kind }

// Detach tears the attachment down; it is a no-op once replaced or detached
func (h *Handle) Detach() {
	h.manager.Detach(h)
}

type subscription struct {
	id     int64
	kind   Kind
	params Params
	sink   Sink
	ctx    context.Context

	mu       sync.Mutex
	closed   bool
	listener docstore.Listener
}

func (s *subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.sink(e)
}

// close waits for any in-flight delivery, so nothing reaches the sink afterwards
func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Stop()
	}
}

// Attach starts kind with params, first detaching any live attachment of the
// same feed. If the store refuses the query, sink receives one failed event.
func (m *Manager) Attach(ctx context.Context, kind Kind, params Params, sink Sink) (*Handle, error) {
	if err := validate(kind, params); err != nil {
		return nil, err
	}
	if kind == GeoChat && params.Location == (geo.Coordinate{}) {
		params.Location = params.Box.Center()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attachLocked(ctx, kind, params, sink)
}

func (m *Manager) attachLocked(ctx context.Context, kind Kind, params Params, sink Sink) (*Handle, error) {
	if prev, ok := m.subs[kind]; ok {
		prev.close()
		delete(m.subs, kind)
	}

	m.nextID++
	sub := &subscription{
		id:     m.nextID,
		kind:   kind,
		params: params,
		sink:   sink,
		ctx:    ctx,
	}

	var listener docstore.Listener
	var err error
	if kind == TideDoc {
		listener, err = m.store.ListenDoc(ctx, docstore.Doc(tide.Collection, params.TideID), func(snap docstore.Snapshot) {
			m.handle(sub, snap)
		})
	} else {
		var q docstore.Query
		q, err = m.query(kind, params)
		if err == nil {
			listener, err = m.store.Listen(ctx, q, func(snap docstore.Snapshot) {
				m.handle(sub, snap)
			})
		}
	}
	if err != nil {
		m.logger.Error().Err(err).Str("feed", string(kind)).Msg("failed to attach feed")
		sub.deliver(Event{Kind: kind, Status: StatusFailed, Err: err})
		return nil, fmt.Errorf("error attaching %s: %w", kind, err)
	}

	sub.mu.Lock()
	sub.listener = listener
	sub.mu.Unlock()

	m.subs[kind] = sub
	m.logger.Debug().Str("feed", string(kind)).Int64("handle", sub.id).Msg("feed attached")

	return &Handle{kind: kind, id: sub.id, manager: m}, nil
}

// Detach tears down h if it is still the live attachment of its feed
func (m *Manager) Detach(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[h.kind]
	if !ok || sub.id != h.id {
		return
	}
	sub.close()
	delete(m.subs, h.kind)
	m.logger.Debug().Str("feed", string(h.kind)).Int64("handle", h.id).Msg("feed detached")
}

// DetachKind tears down whatever is attached to kind
func (m *Manager) DetachKind(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[kind]; ok {
		sub.close()
		delete(m.subs, kind)
	}
}

// Reattach re-issues every live feed with its current params, e.g. after the
// session's block lists changed
func (m *Manager) Reattach() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, kind := range Kinds {
		sub, ok := m.subs[kind]
		if !ok {
			continue
		}
		if _, err := m.attachLocked(sub.ctx, kind, sub.params, sub.sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Params returns the params kind is attached with
func (m *Manager) Params(kind Kind) (Params, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[kind]
	if !ok {
		return Params{}, false
	}
	return sub.params, true
}

// Active returns the attached feeds
func (m *Manager) Active() []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kinds []Kind
	for _, kind := range Kinds {
		if _, ok := m.subs[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Close detaches every feed
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, sub := range m.subs {
		sub.close()
		delete(m.subs, kind)
	}
}

func validate(kind Kind, params Params) error {
	switch kind {
	case NearbyTides, MyTides:
		return nil
	case GeoChat:
		if !params.Box.Valid() {
			return ErrMissingBox
		}
		return nil
	case TideChat, TideDoc:
		if params.TideID == "" {
			return ErrMissingTarget
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFeed, kind)
}

// handle moderates one snapshot and delivers it
func (m *Manager) handle(sub *subscription, snap docstore.Snapshot) {
	if snap.Err != nil {
		m.logger.Warn().Err(snap.Err).Str("feed", string(sub.kind)).Msg("feed fetch failed")
		sub.deliver(Event{Kind: sub.kind, Status: StatusFailed, Err: snap.Err})
		return
	}

	blocked, blockedBy := m.session.Blocks()
	event := Event{Kind: sub.kind}

	switch sub.kind {
	case NearbyTides, MyTides, TideDoc:
		event.Tides, event.Dropped = moderation.Filter(snap.Docs, moderation.TideAuthorField, blocked, blockedBy, tide.FromDocument)
	case GeoChat:
		kept, dropped := moderation.Filter(snap.Docs, moderation.MessageAuthorField, blocked, blockedBy, messaging.FromDocument)
		event.Messages, event.Dropped = withinBox(kept, sub.params.Box), dropped
		event.Dropped += len(kept) - len(event.Messages)
	case TideChat:
		event.Messages, event.Dropped = moderation.Filter(snap.Docs, moderation.MessageAuthorField, blocked, blockedBy, messaging.FromDocument)
	}

	event.Status = StatusBatch
	if len(event.Tides) == 0 && len(event.Messages) == 0 {
		event.Status = StatusEmpty
	}
	sub.deliver(event)
}

// withinBox keeps messages whose send location lies inside box
func withinBox(messages []messaging.Message, box geo.BoundingBox) []messaging.Message {
	kept := messages[:0]
	for _, msg := range messages {
		if box.Contains(geo.Coordinate{Latitude: msg.Latitude, Longitude: msg.Longitude}) {
			kept = append(kept, msg)
		}
	}
	return kept
}
