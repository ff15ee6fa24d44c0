package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/app/stores"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/backend/memory"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
)

func newRegistry(t *testing.T) (*Registry, *memory.Backend) {
	t.Helper()
	be := memory.New()
	t.Cleanup(be.Close)

	nop := zerolog.Nop()
	r := New(Config{Backend: be, InFlightWait: time.Second, Logger: &nop})
	t.Cleanup(func() { _ = r.Close() })
	return r, be
}

func TestRegistry_GetAndLookup(t *testing.T) {
	r, _ := newRegistry(t)

	s, err := r.Get(Posts)
	require.NoError(t, err)
	assert.Same(t, r.Posts(), s)

	polls, err := Lookup[*stores.PollStore](r, Polls)
	require.NoError(t, err)
	assert.Same(t, r.Polls(), polls)

	_, err = r.Get("jobs")
	assert.ErrorIs(t, err, ErrUnknownStore)

	_, err = Lookup[*stores.PostStore](r, Polls)
	assert.ErrorIs(t, err, ErrStoreType)

	assert.Len(t, r.Names(), 9)
}

func TestRegistry_SingleInstancePerStore(t *testing.T) {
	r, _ := newRegistry(t)

	for _, name := range r.Names() {
		a, err := r.Get(name)
		require.NoError(t, err)
		b, err := r.Get(name)
		require.NoError(t, err)
		assert.Same(t, a, b, name)
	}
	assert.Same(t, r.Gamification(), r.byName[Gamification])
}

func TestRegistry_IdentityGatesMutations(t *testing.T) {
	r, be := newRegistry(t)
	ctx := context.Background()

	_, err := r.Posts().Create(ctx, "c1", "hello")
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	r.Identity().Set(models.Identity{ID: "alice"})
	p, err := r.Posts().Create(ctx, "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.AuthorID)

	// the post award reached the gamification store through the registry
	profile, ok := r.Gamification().Profile("alice")
	require.True(t, ok)
	assert.Equal(t, models.PointsPost, profile.TotalPoints)
	assert.Len(t, be.Rows(backend.TableUserAchievements), 1)

	r.Identity().Clear()
	_, err = r.Posts().Create(ctx, "c1", "again")
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestRegistry_StartMergesPushedChanges(t *testing.T) {
	r, be := newRegistry(t)
	ctx := context.Background()
	r.Identity().Set(models.Identity{ID: "alice"})

	be.Seed(backend.TablePosts, backend.Row{"id": "p1", "community_id": "c1", "author_id": "bob", "content": "hi"})
	_, err := r.Posts().LoadFeed(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, r.Start(ctx))
	assert.ErrorIs(t, r.Start(ctx), ErrStarted)

	// another session writes directly to the backend
	_, err = be.Insert(ctx, backend.TablePostLikes, backend.Row{"post_id": "p1", "user_id": "bob"})
	require.NoError(t, err)
	_, err = be.Insert(ctx, backend.TableComments, backend.Row{"post_id": "p1", "author_id": "bob", "content": "first"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, ok := r.Posts().Get("p1")
		return ok && p.LikeCount == 1 && p.CommentCount == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
