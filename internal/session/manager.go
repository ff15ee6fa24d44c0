// Package session keeps one store registry per signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/pkg/logger"
	"github.com/yigit/hackhub/internal/pkg/websocket"
	"github.com/yigit/hackhub/internal/registry"
)

// ErrClosed is returned by Acquire after Close
var ErrClosed = errors.New("session manager closed")

// Publisher receives the cache changes of every session
type Publisher interface {
	Publish(event *websocket.Event)
}

// Config holds the dependencies of a Manager
type Config struct {
	Backend      backend.Backend
	InFlightWait time.Duration
	Publisher    Publisher
	Logger       *zerolog.Logger
}

type entry struct {
	user   models.User
	reg    *registry.Registry
	unsubs []func()
}

// Manager builds a registry the first time a user is seen and keeps it
// until Release or Close
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewManager creates a session manager
func NewManager(cfg Config) *Manager {
	log := logger.Component("session")
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "session").Logger()
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*entry),
	}
}

// UserByEmail looks up a registered user
func (m *Manager) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return m.findUser(ctx, "UserByEmail", backend.Eq("email", email))
}

func (m *Manager) findUser(ctx context.Context, op string, filter backend.Filter) (models.User, error) {
	rows, err := m.cfg.Backend.Query(ctx, backend.Query{
		Table:   backend.TableUsers,
		Filters: []backend.Filter{filter},
		Limit:   1,
	})
	if err != nil {
		return models.User{}, apperrors.RemoteRejected(op, err)
	}
	if len(rows) == 0 {
		return models.User{}, apperrors.NotFound(op, "user not found")
	}
	return backend.Decode[models.User](rows[0])
}

// Acquire returns the registry of userID, building and starting it on first
// use. Unknown users are unauthenticated.
func (m *Manager) Acquire(ctx context.Context, userID string) (*registry.Registry, error) {
	const op = "session.Acquire"

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return e.reg, nil
	}
	m.mu.Unlock()

	user, err := m.findUser(ctx, op, backend.Eq("id", userID))
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, apperrors.Unauthenticated(op)
		}
		return nil, err
	}

	e := m.build(user)
	if err := e.reg.Start(ctx); err != nil {
		e.close()
		return nil, fmt.Errorf("start session of %s: %w", userID, err)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok || m.closed {
		m.mu.Unlock()
		e.close()
		if m.closed {
			return nil, ErrClosed
		}
		return existing.reg, nil
	}
	m.sessions[userID] = e
	active := len(m.sessions)
	m.mu.Unlock()

	m.log.Info().Str("userID", userID).Int("active", active).Msg("Session started")
	return e.reg, nil
}

// Open implements websocket.SessionOpener
func (m *Manager) Open(ctx context.Context, userID string) error {
	_, err := m.Acquire(ctx, userID)
	return err
}

func (m *Manager) build(user models.User) *entry {
	reg := registry.New(registry.Config{
		Backend:      m.cfg.Backend,
		InFlightWait: m.cfg.InFlightWait,
		Logger:       m.cfg.Logger,
	})
	reg.Identity().Set(user.Identity())

	e := &entry{user: user, reg: reg}
	if m.cfg.Publisher == nil {
		return e
	}

	pub := m.cfg.Publisher
	uid := user.ID
	e.unsubs = append(e.unsubs,
		forward(reg.Communities().Cache(), registry.Communities, uid, pub),
		forward(reg.Groups().Cache(), registry.Groups, uid, pub),
		forward(reg.Posts().PostsCache(), registry.Posts, uid, pub),
		forward(reg.Posts().CommentsCache(), registry.Posts, uid, pub),
		forward(reg.Forums().ForumsCache(), registry.Forums, uid, pub),
		forward(reg.Forums().TopicsCache(), registry.Forums, uid, pub),
		forward(reg.Forums().PostsCache(), registry.Forums, uid, pub),
		forward(reg.Polls().Cache(), registry.Polls, uid, pub),
		forward(reg.Events().Cache(), registry.Events, uid, pub),
		forward(reg.Messages().Cache(), registry.Messages, uid, pub),
		forward(reg.Notifications().Cache(), registry.Notifications, uid, pub),
		forward(reg.Gamification().ProfilesCache(), registry.Gamification, uid, pub),
	)
	return e
}

func forward[T any](c *cache.Cache[T], store, userID string, pub Publisher) func() {
	return c.Subscribe(func(ch cache.Change[T]) {
		ev := &websocket.Event{
			Type:      "change",
			Store:     store,
			Cache:     ch.Cache,
			Kind:      ch.Kind.String(),
			Key:       ch.Key,
			Version:   ch.Version,
			Timestamp: time.Now(),
			UserID:    userID,
		}
		if ch.Kind == cache.ChangeSet {
			ev.Data = ch.Value
		}
		pub.Publish(ev)
	})
}

func (e *entry) close() error {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.reg.Identity().Clear()
	return e.reg.Close()
}

// Release ends the session of userID. Releasing an unknown user is a no-op.
func (m *Manager) Release(userID string) error {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.log.Info().Str("userID", userID).Msg("Session released")
	return e.close()
}

// Active returns the number of running sessions
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close releases every session; later Acquire calls fail
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	var errs []error
	for userID, e := range sessions {
		if err := e.close(); err != nil {
			errs = append(errs, fmt.Errorf("close session of %s: %w", userID, err))
		}
	}
	m.log.Info().Int("closed", len(sessions)).Msg("Session manager closed")
	return errors.Join(errs...)
}
