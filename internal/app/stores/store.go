// Package stores holds the domain stores: per-entity caches kept in sync with
// the backend through the mutation coordinator and the realtime ingestor.
//
// Stores expose read-only views. Every write goes through an intent method
// that runs a mutation, and every pushed change arrives through a handler
// registered with the ingestor.
package stores

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/pkg/logger"
	"github.com/yigit/hackhub/internal/realtime"
)

// Locator resolves sibling stores. The registry implements it.
type Locator interface {
	Gamification() *GamificationStore
	Notifications() *NotificationStore
}

// Deps are shared by every store of a session
type Deps struct {
	Backend     backend.Backend
	Coordinator *mutation.Coordinator
	Clock       *cache.Clock
	Ingestor    *realtime.Ingestor
	Locator     Locator
	Logger      *zerolog.Logger
	// Now stamps optimistic records; defaults to time.Now
	Now func() time.Time
}

type base struct {
	be      backend.Backend
	coord   *mutation.Coordinator
	clock   *cache.Clock
	ingest  *realtime.Ingestor
	locator Locator
	log     zerolog.Logger
	now     func() time.Time
}

func newBase(d Deps, component string) base {
	log := logger.Component(component)
	if d.Logger != nil {
		log = d.Logger.With().Str("component", component).Logger()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return base{
		be:      d.Backend,
		coord:   d.Coordinator,
		clock:   d.Clock,
		ingest:  d.Ingestor,
		locator: d.Locator,
		log:     log,
		now:     now,
	}
}

// me returns the acting identity id, or "" when anonymous
func (b base) me() string {
	id, err := b.coord.Identity("")
	if err != nil {
		return ""
	}
	return id.ID
}

// query runs q and wraps backend failures as RemoteRejected
func (b base) query(ctx context.Context, op string, q backend.Query) ([]backend.Row, error) {
	rows, err := b.be.Query(ctx, q)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}
	return rows, nil
}

// row fetches the row of table with the given id
func (b base) row(ctx context.Context, op, table, id, what string) (backend.Row, error) {
	rows, err := b.query(ctx, op, backend.Query{
		Table:   table,
		Filters: []backend.Filter{backend.Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(op, what)
	}
	return rows[0], nil
}

// award grants points to the acting identity after a confirmed action.
// Failures are logged; the action itself already succeeded.
func (b base) award(ctx context.Context, points int, action string) {
	if b.locator == nil {
		return
	}
	g := b.locator.Gamification()
	if g == nil {
		return
	}
	me := b.me()
	if me == "" {
		return
	}
	if _, err := g.AwardPoints(context.WithoutCancel(ctx), me, points, action); err != nil {
		b.log.Warn().Err(err).Str("action", action).Int("points", points).Msg("Awarding points failed")
	}
}

// notify sends a notification to another user; failures are logged
func (b base) notify(ctx context.Context, userID string, typ models.NotificationType, title, body string) {
	if b.locator == nil || userID == "" || userID == b.me() {
		return
	}
	n := b.locator.Notifications()
	if n == nil {
		return
	}
	if err := n.Notify(context.WithoutCancel(ctx), userID, typ, title, body, nil); err != nil {
		b.log.Warn().Err(err).Str("user", userID).Str("type", string(typ)).Msg("Sending notification failed")
	}
}

func notFound(op string, what string) error {
	return apperrors.NotFound(op, what+" not found")
}

func requirePresent[T any](op, what string) func(cache.Entry[T], models.Identity) error {
	return func(cur cache.Entry[T], _ models.Identity) error {
		if !cur.Present {
			return notFound(op, what)
		}
		return nil
	}
}

// ignoreConflict treats a unique violation as success for idempotent inserts
func ignoreConflict(err error) error {
	if errors.Is(err, backend.ErrConflict) {
		return nil
	}
	return err
}

func byCreatedAsc[T any](created func(T) time.Time) func(a, b T) bool {
	return func(a, b T) bool { return created(a).Before(created(b)) }
}

func byCreatedDesc[T any](created func(T) time.Time) func(a, b T) bool {
	return func(a, b T) bool { return created(a).After(created(b)) }
}

func ids[T any](items []T, key func(T) string) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = key(it)
	}
	return out
}
