package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/backend/memory"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/pkg/websocket"
)

type recorder struct {
	mu     sync.Mutex
	events []*websocket.Event
}

func (r *recorder) Publish(ev *websocket.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) find(userID, store, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.UserID == userID && ev.Store == store && ev.Kind == kind {
			return true
		}
	}
	return false
}

func newManager(t *testing.T) (*Manager, *memory.Backend, *recorder) {
	t.Helper()
	be := memory.New()
	t.Cleanup(be.Close)
	be.Seed(backend.TableUsers,
		backend.Row{"id": "alice", "email": "alice@hackhub.dev", "display_name": "Alice"},
		backend.Row{"id": "bob", "email": "bob@hackhub.dev", "display_name": "Bob"},
	)

	nop := zerolog.Nop()
	rec := &recorder{}
	m := NewManager(Config{Backend: be, InFlightWait: time.Second, Publisher: rec, Logger: &nop})
	t.Cleanup(func() { _ = m.Close() })
	return m, be, rec
}

func TestManager_AcquireReusesSession(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "alice")
	require.NoError(t, err)
	again, err := m.Acquire(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, a, again)

	b, err := m.Acquire(ctx, "bob")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, m.Active())

	id, ok := a.Identity().Current()
	require.True(t, ok)
	assert.Equal(t, "Alice", id.DisplayName)
}

func TestManager_UnknownUserIsUnauthenticated(t *testing.T) {
	m, _, _ := newManager(t)

	_, err := m.Acquire(context.Background(), "mallory")
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	assert.Equal(t, 0, m.Active())
}

func TestManager_UserByEmail(t *testing.T) {
	m, _, _ := newManager(t)

	u, err := m.UserByEmail(context.Background(), "bob@hackhub.dev")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.ID)

	_, err = m.UserByEmail(context.Background(), "nobody@hackhub.dev")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestManager_ForwardsCacheChanges(t *testing.T) {
	m, _, rec := newManager(t)
	ctx := context.Background()

	reg, err := m.Acquire(ctx, "alice")
	require.NoError(t, err)
	_, err = reg.Posts().Create(ctx, "c1", "hello")
	require.NoError(t, err)

	assert.True(t, rec.find("alice", "posts", "set"))
	assert.True(t, rec.find("alice", "gamification", "set"))
}

func TestManager_ReleaseAndClose(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	reg, err := m.Acquire(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, m.Release("alice"))
	require.NoError(t, m.Release("alice"))
	_, ok := reg.Identity().Current()
	assert.False(t, ok)

	_, err = m.Acquire(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Active())

	_, err = m.Acquire(ctx, "bob")
	assert.ErrorIs(t, err, ErrClosed)
}
