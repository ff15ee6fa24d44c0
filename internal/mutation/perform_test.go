package mutation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
)

type staticIdentity struct {
	id models.Identity
	ok bool
}

func (s staticIdentity) Current() (models.Identity, bool) { return s.id, s.ok }

var alice = staticIdentity{id: models.Identity{ID: "alice"}, ok: true}

func newCoordinator(src IdentitySource, wait time.Duration) *Coordinator {
	nop := zerolog.Nop()
	return New(src, Config{InFlightWait: wait, Logger: &nop})
}

func newPosts() *cache.Cache[models.Post] {
	return cache.New("posts", cache.NewClock(), cache.Options[models.Post]{
		KeyOf:     func(p models.Post) string { return p.ID },
		ParentKey: func(p models.Post) string { return p.CommunityID },
	})
}

func likeToggle(remote func(ctx context.Context, id models.Identity, optimistic models.Post) (models.Post, error)) Mutation[models.Post] {
	return Mutation[models.Post]{
		Op:   "posts.ToggleLike",
		Kind: KindToggle,
		Key:  "p1",
		Precondition: func(cur cache.Entry[models.Post], _ models.Identity) error {
			if !cur.Present {
				return apperrors.NotFound("posts.ToggleLike", "post p1")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.Post], id models.Identity, _ string) models.Post {
			return cur.Value.WithLike(id.ID, !cur.Value.LikedBy(id.ID))
		},
		Remote: remote,
	}
}

func echo(_ context.Context, _ models.Identity, optimistic models.Post) (models.Post, error) {
	return optimistic, nil
}

func TestPerform_Unauthenticated(t *testing.T) {
	c := newCoordinator(staticIdentity{}, time.Second)
	posts := newPosts()
	posts.Set("p1", models.Post{ID: "p1"})
	before := posts.Snapshot()

	called := false
	_, err := Perform(context.Background(), c, posts, likeToggle(func(ctx context.Context, id models.Identity, p models.Post) (models.Post, error) {
		called = true
		return p, nil
	}))

	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	assert.False(t, called)
	assert.Equal(t, before, posts.Snapshot())
}

func TestPerform_PreconditionIsInconsistent(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()
	posts.Set("p1", models.Post{ID: "p1", Content: "x"})
	before := posts.Snapshot()

	called := false
	_, err := Perform(context.Background(), c, posts, Mutation[models.Post]{
		Op:           "posts.Edit",
		Kind:         KindUpdate,
		Key:          "p1",
		Precondition: func(cache.Entry[models.Post], models.Identity) error { return errors.New("not the author") },
		Apply:        func(cur cache.Entry[models.Post], _ models.Identity, _ string) models.Post { return cur.Value },
		Remote: func(ctx context.Context, _ models.Identity, p models.Post) (models.Post, error) {
			called = true
			return p, nil
		},
	})

	assert.ErrorIs(t, err, apperrors.ErrInconsistent)
	assert.Equal(t, apperrors.KindInconsistent, apperrors.KindOf(err))
	assert.False(t, called)
	assert.Equal(t, before, posts.Snapshot())
}

func TestPerform_CreateReplacesTempKey(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()

	var tempKey string
	got, err := Perform(context.Background(), c, posts, Mutation[models.Post]{
		Op:   "posts.Create",
		Kind: KindCreate,
		Apply: func(_ cache.Entry[models.Post], id models.Identity, key string) models.Post {
			tempKey = key
			return models.Post{ID: key, CommunityID: "c1", AuthorID: id.ID, Content: "hello"}
		},
		Remote: func(_ context.Context, _ models.Identity, p models.Post) (models.Post, error) {
			p.ID = "server-1"
			return p, nil
		},
	})
	require.NoError(t, err)

	assert.True(t, models.IsTempID(tempKey))
	assert.Equal(t, "server-1", got.ID)
	_, ok := posts.Get(tempKey)
	assert.False(t, ok)
	stored, ok := posts.Get("server-1")
	require.True(t, ok)
	assert.Equal(t, "hello", stored.Content)
	assert.Len(t, posts.ListByParent("c1"), 1)
}

func TestPerform_RollbackRestoresSnapshot(t *testing.T) {
	boom := errors.New("backend down")

	cases := map[string]Mutation[models.Post]{
		"create": {
			Op:   "posts.Create",
			Kind: KindCreate,
			Apply: func(_ cache.Entry[models.Post], _ models.Identity, key string) models.Post {
				return models.Post{ID: key, CommunityID: "c1"}
			},
			Remote: func(context.Context, models.Identity, models.Post) (models.Post, error) { return models.Post{}, boom },
		},
		"update": {
			Op:   "posts.Edit",
			Kind: KindUpdate,
			Key:  "p1",
			Apply: func(cur cache.Entry[models.Post], _ models.Identity, _ string) models.Post {
				p := cur.Value
				p.Content = "edited"
				return p
			},
			Remote: func(context.Context, models.Identity, models.Post) (models.Post, error) { return models.Post{}, boom },
		},
		"delete": {
			Op:     "posts.Delete",
			Kind:   KindDelete,
			Key:    "p1",
			Remote: func(context.Context, models.Identity, models.Post) (models.Post, error) { return models.Post{}, boom },
		},
		"toggle": likeToggle(func(context.Context, models.Identity, models.Post) (models.Post, error) {
			return models.Post{}, boom
		}),
	}

	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			c := newCoordinator(alice, time.Second)
			posts := newPosts()
			posts.Set("p1", models.Post{ID: "p1", CommunityID: "c1", Content: "original", Likes: []string{"bob"}, LikeCount: 1})
			before := posts.Snapshot()

			_, err := Perform(context.Background(), c, posts, m)
			c.Wait()

			assert.ErrorIs(t, err, apperrors.ErrRemoteRejected)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, before, posts.Snapshot())
			assert.Len(t, posts.ListByParent("c1"), 1)
		})
	}
}

func TestPerform_ReconciliationIsIdempotent(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()
	posts.Set("p1", models.Post{ID: "p1", Content: "a"})

	server := models.Post{ID: "p1", Content: "b", CommentCount: 2}
	m := Mutation[models.Post]{
		Op:   "posts.Edit",
		Kind: KindUpdate,
		Key:  "p1",
		Apply: func(cur cache.Entry[models.Post], _ models.Identity, _ string) models.Post {
			p := cur.Value
			p.Content = "b"
			return p
		},
		Remote: func(context.Context, models.Identity, models.Post) (models.Post, error) { return server, nil },
	}

	_, err := Perform(context.Background(), c, posts, m)
	require.NoError(t, err)
	once := posts.Snapshot()

	_, err = Perform(context.Background(), c, posts, m)
	require.NoError(t, err)
	assert.Equal(t, once, posts.Snapshot())
}

func TestPerform_PushDuringRemoteWins(t *testing.T) {
	for _, fail := range []bool{false, true} {
		c := newCoordinator(alice, time.Second)
		posts := newPosts()
		posts.Set("p1", models.Post{ID: "p1", Content: "a"})

		entered := make(chan struct{})
		gate := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := Perform(context.Background(), c, posts, Mutation[models.Post]{
				Op:   "posts.Edit",
				Kind: KindUpdate,
				Key:  "p1",
				Apply: func(cur cache.Entry[models.Post], _ models.Identity, _ string) models.Post {
					p := cur.Value
					p.Content = "optimistic"
					return p
				},
				Remote: func(context.Context, models.Identity, models.Post) (models.Post, error) {
					close(entered)
					<-gate
					if fail {
						return models.Post{}, errors.New("rejected")
					}
					return models.Post{ID: "p1", Content: "stale response"}, nil
				},
			})
			done <- err
		}()

		<-entered
		pushed := models.Post{ID: "p1", Content: "pushed", CommentCount: 7}
		posts.Set("p1", pushed)
		close(gate)

		err := <-done
		c.Wait()
		if fail {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
		got, _ := posts.Get("p1")
		assert.Equal(t, pushed, got, "fail=%v", fail)
	}
}

func TestPerform_ToggleLastIntentWins(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()
	posts.Set("p1", models.Post{ID: "p1"})

	var mu sync.Mutex
	var sent []bool
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	var first atomic.Bool

	remote := func(_ context.Context, _ models.Identity, p models.Post) (models.Post, error) {
		mu.Lock()
		sent = append(sent, p.Liked)
		mu.Unlock()
		if first.CompareAndSwap(false, true) {
			entered <- struct{}{}
			<-gate
		}
		return p, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	toggle := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = Perform(context.Background(), c, posts, likeToggle(remote))
		}()
	}

	liked := func() bool {
		p, _ := posts.Get("p1")
		return p.LikedBy("alice")
	}

	toggle(0)
	<-entered
	require.True(t, liked())

	toggle(1)
	require.Eventually(t, func() bool { return !liked() }, time.Second, time.Millisecond)
	toggle(2)
	require.Eventually(t, liked, time.Second, time.Millisecond)

	close(gate)
	wg.Wait()
	c.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []bool{true, true}, sent, "the middle intent is never sent")

	p, _ := posts.Get("p1")
	assert.True(t, p.Liked)
	assert.Equal(t, 1, p.LikeCount)
}

func TestPerform_ToggleFailureAfterSupersededSuccess(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()
	posts.Set("p1", models.Post{ID: "p1"})

	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	var calls atomic.Int32

	remote := func(_ context.Context, _ models.Identity, p models.Post) (models.Post, error) {
		switch calls.Add(1) {
		case 1:
			entered <- struct{}{}
			<-gate
			return p, nil
		default:
			return models.Post{}, errors.New("rejected")
		}
	}

	var wg sync.WaitGroup
	var lastErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = Perform(context.Background(), c, posts, likeToggle(remote))
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, lastErr = Perform(context.Background(), c, posts, likeToggle(remote))
	}()
	require.Eventually(t, func() bool {
		p, _ := posts.Get("p1")
		return !p.Liked && p.LikeCount == 0
	}, time.Second, time.Millisecond)

	close(gate)
	wg.Wait()
	c.Wait()

	assert.ErrorIs(t, lastErr, apperrors.ErrRemoteRejected)
	// the server holds the first intent, so the rollback lands there
	p, _ := posts.Get("p1")
	assert.True(t, p.LikedBy("alice"))
}

func TestPerform_InFlightSerialization(t *testing.T) {
	edit := func(content string, remote func() error) Mutation[models.Post] {
		return Mutation[models.Post]{
			Op:   "posts.Edit",
			Kind: KindUpdate,
			Key:  "p1",
			Apply: func(cur cache.Entry[models.Post], _ models.Identity, _ string) models.Post {
				p := cur.Value
				p.Content = content
				return p
			},
			Remote: func(_ context.Context, _ models.Identity, p models.Post) (models.Post, error) {
				if err := remote(); err != nil {
					return models.Post{}, err
				}
				return p, nil
			},
		}
	}

	t.Run("times out", func(t *testing.T) {
		c := newCoordinator(alice, 20*time.Millisecond)
		posts := newPosts()
		posts.Set("p1", models.Post{ID: "p1"})

		entered := make(chan struct{})
		gate := make(chan struct{})
		go func() {
			_, _ = Perform(context.Background(), c, posts, edit("first", func() error {
				close(entered)
				<-gate
				return nil
			}))
		}()
		<-entered

		_, err := Perform(context.Background(), c, posts, edit("second", func() error { return nil }))
		assert.ErrorIs(t, err, apperrors.ErrAlreadyInProgress)

		close(gate)
		c.Wait()
		p, _ := posts.Get("p1")
		assert.Equal(t, "first", p.Content)
	})

	t.Run("waits for the earlier mutation", func(t *testing.T) {
		c := newCoordinator(alice, time.Second)
		posts := newPosts()
		posts.Set("p1", models.Post{ID: "p1"})

		entered := make(chan struct{})
		gate := make(chan struct{})
		go func() {
			_, _ = Perform(context.Background(), c, posts, edit("first", func() error {
				close(entered)
				<-gate
				return nil
			}))
		}()
		<-entered

		go func() {
			time.Sleep(10 * time.Millisecond)
			close(gate)
		}()

		got, err := Perform(context.Background(), c, posts, edit("second", func() error { return nil }))
		require.NoError(t, err)
		assert.Equal(t, "second", got.Content)

		c.Wait()
		p, _ := posts.Get("p1")
		assert.Equal(t, "second", p.Content)
	})
}

func TestPerform_CancellationIsAdvisory(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()
	posts.Set("p1", models.Post{ID: "p1", Content: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	gate := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Perform(ctx, c, posts, Mutation[models.Post]{
			Op:   "posts.Edit",
			Kind: KindUpdate,
			Key:  "p1",
			Apply: func(cur cache.Entry[models.Post], _ models.Identity, _ string) models.Post {
				p := cur.Value
				p.Content = "b"
				return p
			},
			Remote: func(rctx context.Context, _ models.Identity, p models.Post) (models.Post, error) {
				close(entered)
				<-gate
				if rctx.Err() != nil {
					return models.Post{}, rctx.Err()
				}
				p.CommentCount = 3
				return p, nil
			},
		})
		done <- err
	}()

	<-entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(gate)
	c.Wait()

	p, _ := posts.Get("p1")
	assert.Equal(t, "b", p.Content)
	assert.Equal(t, 3, p.CommentCount)
}

func TestPerform_OnSuccessSeesConfirmedRecord(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()

	var seen models.Post
	_, err := Perform(context.Background(), c, posts, Mutation[models.Post]{
		Op:        "posts.Create",
		Kind:      KindCreate,
		Apply:     func(_ cache.Entry[models.Post], _ models.Identity, key string) models.Post { return models.Post{ID: key} },
		Remote:    func(context.Context, models.Identity, models.Post) (models.Post, error) { return models.Post{ID: "s1"}, nil },
		OnSuccess: func(p models.Post) { seen = p },
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", seen.ID)
}

func TestCompound(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	boom := errors.New("boom")
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return boom }

	err := c.Compound(context.Background(), "communities.Create",
		Step{Name: "community", Run: ok},
		Step{Name: "membership", Run: fail},
		Step{Name: "never", Run: ok},
	)
	require.ErrorIs(t, err, apperrors.ErrPartialFailure)
	require.ErrorIs(t, err, boom)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "membership", appErr.Step)
	assert.Equal(t, []string{"community"}, appErr.Completed)

	err = c.Compound(context.Background(), "communities.Create", Step{Name: "community", Run: fail})
	assert.Equal(t, boom, err)

	assert.NoError(t, c.Compound(context.Background(), "noop", Step{Name: "a", Run: ok}))
}

func TestPerform_PartialCreateKeepsConfirmed(t *testing.T) {
	c := newCoordinator(alice, time.Second)
	posts := newPosts()
	boom := errors.New("boom")

	var tempKey string
	succeeded := false
	got, err := Perform(context.Background(), c, posts, Mutation[models.Post]{
		Op:   "posts.Create",
		Kind: KindCreate,
		Apply: func(_ cache.Entry[models.Post], id models.Identity, key string) models.Post {
			tempKey = key
			return models.Post{ID: key, CommunityID: "c1", AuthorID: id.ID, Content: "hello"}
		},
		Remote: func(ctx context.Context, _ models.Identity, p models.Post) (models.Post, error) {
			var created models.Post
			err := c.Compound(ctx, "posts.Create",
				Step{Name: "post", Run: func(context.Context) error {
					created = p
					created.ID = "server-1"
					return nil
				}},
				Step{Name: "attachment", Run: func(context.Context) error { return boom }},
			)
			if err != nil {
				return models.Post{}, Partial(err, created)
			}
			return created, nil
		},
		OnSuccess: func(models.Post) { succeeded = true },
	})

	require.ErrorIs(t, err, apperrors.ErrPartialFailure)
	assert.Equal(t, "server-1", got.ID)
	assert.False(t, succeeded)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, got, appErr.Confirmed)

	_, ok := posts.Get(tempKey)
	assert.False(t, ok)
	stored, ok := posts.Get("server-1")
	require.True(t, ok)
	assert.Equal(t, "hello", stored.Content)
}

func TestPartial_IgnoresOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	assert.Equal(t, boom, Partial(boom, models.Post{ID: "p1"}))

	rejected := apperrors.RemoteRejected("posts.Create", boom)
	require.Equal(t, rejected, Partial(rejected, models.Post{ID: "p1"}))
	assert.Nil(t, rejected.Confirmed)
}

func TestIdentity(t *testing.T) {
	_, err := newCoordinator(nil, 0).Identity("op")
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	id, err := newCoordinator(alice, 0).Identity("op")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.ID)
}
