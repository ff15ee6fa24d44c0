package stores

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend/memory"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/realtime"
)

type staticIdentity struct {
	id models.Identity
}

func (s staticIdentity) Current() (models.Identity, bool) { return s.id, s.id.ID != "" }

// ticker hands out strictly increasing timestamps
type ticker struct {
	mu sync.Mutex
	t  time.Time
}

func (c *ticker) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type env struct {
	be     *memory.Backend
	coord  *mutation.Coordinator
	ingest *realtime.Ingestor

	communities   *ContainerStore
	groups        *ContainerStore
	posts         *PostStore
	forums        *ForumStore
	polls         *PollStore
	messages      *MessageStore
	notifications *NotificationStore
	gamification  *GamificationStore
	events        *EventStore
}

func (e *env) Gamification() *GamificationStore   { return e.gamification }
func (e *env) Notifications() *NotificationStore { return e.notifications }

func newEnv(t *testing.T, who string) *env {
	t.Helper()

	clock := &ticker{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	be := memory.New(memory.WithClock(clock.Now))
	t.Cleanup(be.Close)

	nop := zerolog.Nop()
	var src mutation.IdentitySource = staticIdentity{}
	if who != "" {
		src = staticIdentity{id: models.Identity{ID: who, DisplayName: who}}
	}
	coord := mutation.New(src, mutation.Config{InFlightWait: time.Second, Logger: &nop})
	t.Cleanup(coord.Wait)

	e := &env{
		be:     be,
		coord:  coord,
		ingest: realtime.NewIngestor().WithLogger(nop),
	}
	d := Deps{
		Backend:     be,
		Coordinator: coord,
		Clock:       cache.NewClock(),
		Ingestor:    e.ingest,
		Locator:     e,
		Logger:      &nop,
		Now:         clock.Now,
	}
	e.communities = NewCommunityStore(d)
	e.groups = NewGroupStore(d)
	e.posts = NewPostStore(d)
	e.forums = NewForumStore(d)
	e.polls = NewPollStore(d)
	e.messages = NewMessageStore(d)
	e.notifications = NewNotificationStore(d)
	e.gamification = NewGamificationStore(d)
	e.events = NewEventStore(d)
	return e
}

func strPtr(s string) *string { return &s }
