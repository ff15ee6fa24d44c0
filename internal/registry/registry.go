// Package registry builds and owns the stores of one session.
//
// A Registry holds exactly one instance of each store, the shared identity
// reference, the mutation coordinator and the realtime ingestor. Stores
// reach their siblings only through the registry, which implements
// stores.Locator.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/app/stores"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/logger"
	"github.com/yigit/hackhub/internal/realtime"
)

// Store names accepted by Get and Lookup
const (
	Communities   = "communities"
	Groups        = "groups"
	Posts         = "posts"
	Forums        = "forums"
	Polls         = "polls"
	Events        = "events"
	Messages      = "messages"
	Notifications = "notifications"
	Gamification  = "gamification"
)

var (
	// ErrUnknownStore is returned by Get for a name no store is registered under
	ErrUnknownStore = errors.New("unknown store")
	// ErrStoreType is returned by Lookup when the store has another type
	ErrStoreType = errors.New("store has a different type")
	// ErrStarted is returned by Start when the push subscription is already open
	ErrStarted = errors.New("registry already started")
)

// Identity is the session's acting identity. It is shared by every store
// through the coordinator and can be replaced or cleared at any time.
type Identity struct {
	current atomic.Pointer[models.Identity]
}

// Current implements mutation.IdentitySource
func (i *Identity) Current() (models.Identity, bool) {
	id := i.current.Load()
	if id == nil {
		return models.Identity{}, false
	}
	return *id, true
}

// Set makes id the acting identity
func (i *Identity) Set(id models.Identity) {
	i.current.Store(&id)
}

// Clear removes the acting identity; later mutations fail as unauthenticated
func (i *Identity) Clear() {
	i.current.Store(nil)
}

// Config holds the knobs of a registry
type Config struct {
	Backend backend.Backend
	// InFlightWait bounds how long a mutation waits for a pending one on the
	// same key
	InFlightWait time.Duration
	Logger       *zerolog.Logger
	Now          func() time.Time
}

// Registry owns one instance of every store of a session
type Registry struct {
	identity *Identity
	be       backend.Backend
	clock    *cache.Clock
	coord    *mutation.Coordinator
	ingest   *realtime.Ingestor
	log      zerolog.Logger

	communities   *stores.ContainerStore
	groups        *stores.ContainerStore
	posts         *stores.PostStore
	forums        *stores.ForumStore
	polls         *stores.PollStore
	events        *stores.EventStore
	messages      *stores.MessageStore
	notifications *stores.NotificationStore
	gamification  *stores.GamificationStore
	byName        map[string]any

	mu     sync.Mutex
	sub    backend.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a registry and all of its stores
func New(cfg Config) *Registry {
	log := logger.Component("registry")
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "registry").Logger()
	}

	r := &Registry{
		identity: &Identity{},
		be:       cfg.Backend,
		clock:    cache.NewClock(),
		log:      log,
	}
	r.coord = mutation.New(r.identity, mutation.Config{InFlightWait: cfg.InFlightWait, Logger: cfg.Logger})
	r.ingest = realtime.NewIngestor()
	if cfg.Logger != nil {
		r.ingest.WithLogger(cfg.Logger.With().Str("component", "realtime").Logger())
	}

	d := stores.Deps{
		Backend:     cfg.Backend,
		Coordinator: r.coord,
		Clock:       r.clock,
		Ingestor:    r.ingest,
		Locator:     r,
		Logger:      cfg.Logger,
		Now:         cfg.Now,
	}
	r.communities = stores.NewCommunityStore(d)
	r.groups = stores.NewGroupStore(d)
	r.posts = stores.NewPostStore(d)
	r.forums = stores.NewForumStore(d)
	r.polls = stores.NewPollStore(d)
	r.events = stores.NewEventStore(d)
	r.messages = stores.NewMessageStore(d)
	r.notifications = stores.NewNotificationStore(d)
	r.gamification = stores.NewGamificationStore(d)

	r.byName = map[string]any{
		Communities:   r.communities,
		Groups:        r.groups,
		Posts:         r.posts,
		Forums:        r.forums,
		Polls:         r.polls,
		Events:        r.events,
		Messages:      r.messages,
		Notifications: r.notifications,
		Gamification:  r.gamification,
	}
	return r
}

// Identity returns the shared identity reference
func (r *Registry) Identity() *Identity { return r.identity }

// Ingestor returns the realtime ingestor feeding the stores
func (r *Registry) Ingestor() *realtime.Ingestor { return r.ingest }

// Names returns the registered store names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the store registered under name
func (r *Registry) Get(name string) (any, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return s, nil
}

// Lookup returns the store registered under name as a T
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	s, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := s.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T", ErrStoreType, name, s)
	}
	return typed, nil
}

func (r *Registry) Communities() *stores.ContainerStore { return r.communities }
func (r *Registry) Groups() *stores.ContainerStore      { return r.groups }
func (r *Registry) Posts() *stores.PostStore            { return r.posts }
func (r *Registry) Forums() *stores.ForumStore          { return r.forums }
func (r *Registry) Polls() *stores.PollStore            { return r.polls }
func (r *Registry) Events() *stores.EventStore          { return r.events }
func (r *Registry) Messages() *stores.MessageStore      { return r.messages }

// Notifications implements stores.Locator
func (r *Registry) Notifications() *stores.NotificationStore { return r.notifications }

// Gamification implements stores.Locator
func (r *Registry) Gamification() *stores.GamificationStore { return r.gamification }

// Start opens the push subscription for every table a store handles and
// feeds it to the ingestor until Close
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return ErrStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := r.be.Subscribe(runCtx, backend.SubscribeFilter{Tables: r.ingest.Tables()})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to changes: %w", err)
	}

	r.sub = sub
	r.cancel = cancel
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := r.ingest.Run(runCtx, sub); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Msg("Change stream stopped")
		}
	}(r.done)

	r.log.Info().Int("tables", len(r.ingest.Tables())).Msg("Change stream started")
	return nil
}

// Close stops the push subscription and waits for in-flight mutations to
// settle. It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	sub, cancel, done := r.sub, r.cancel, r.done
	r.sub, r.cancel, r.done = nil, nil, nil
	r.mu.Unlock()

	var err error
	if sub != nil {
		cancel()
		err = sub.Close()
		<-done
	}
	r.coord.Wait()

	stats := r.ingest.Stats()
	r.log.Debug().Int64("applied", stats.Applied).Int64("dropped", stats.Dropped).Msg("Registry closed")
	return err
}
