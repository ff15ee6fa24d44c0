package mutation

import (
	"context"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/cache"
)

// Kind is the shape of a mutation
type Kind int

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
	// KindToggle flips a boolean-like relation; the latest intent wins
	KindToggle
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindToggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// Mutation describes one intent against a cache
type Mutation[T any] struct {
	// Op names the intent in errors and logs, e.g. "posts.ToggleLike"
	Op   string
	Kind Kind
	// Key is the cache key. An empty key on a create gets a temporary id.
	Key string
	// Anonymous mutations run without an identity
	Anonymous bool

	// Precondition rejects the intent before any write; plain errors are
	// reported as Inconsistent
	Precondition func(current cache.Entry[T], id models.Identity) error
	// Apply returns the optimistic value written under Key. Nil skips the
	// optimistic write. Ignored for deletes.
	Apply func(current cache.Entry[T], id models.Identity, key string) T
	// Remote performs the write and returns the persisted record. It gets
	// the optimistic value so a toggle knows which way it flipped.
	Remote func(ctx context.Context, id models.Identity, optimistic T) (T, error)
	// OnSuccess runs after reconciliation with the confirmed record
	OnSuccess func(confirmed T)
}

type result[T any] struct {
	value T
	err   error
}

// Perform runs m against store. The remote call is detached from ctx: when
// ctx ends first the caller gets ctx.Err() while reconciliation or rollback
// still completes in the background. A Remote error built with Partial is
// reconciled like a success and returned together with the kept value.
func Perform[T any](ctx context.Context, c *Coordinator, store *cache.Cache[T], m Mutation[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var id models.Identity
	if !m.Anonymous {
		var err error
		if id, err = c.Identity(m.Op); err != nil {
			return zero, err
		}
	}

	key := m.Key
	if key == "" && m.Kind == KindCreate {
		key = c.TempID()
	}

	if m.Kind == KindToggle {
		return performToggle(ctx, c, store, m, id, key)
	}

	k := lockKey{cache: store.Name(), key: key}
	release, err := c.acquire(ctx, m.Op, k)
	if err != nil {
		return zero, err
	}

	prev := store.Entry(key)
	if m.Precondition != nil {
		if err := m.Precondition(prev, id); err != nil {
			release()
			return zero, asInconsistent(m.Op, err)
		}
	}

	var optimistic T
	var version int64
	switch {
	case m.Kind == KindDelete:
		// an absent key has version 0, which is what rollback checks against
		store.Delete(key)
	case m.Apply != nil:
		optimistic = m.Apply(prev, id, key)
		version = store.Set(key, optimistic)
	default:
		version = store.Clock().Current()
	}

	log := c.log.With().Str("op", m.Op).Str("cache", store.Name()).Str("key", key).Stringer("kind", m.Kind).Logger()
	log.Debug().Msg("Mutation applied optimistically")

	res := make(chan result[T], 1)
	bg := context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer release()

		confirmed, err := m.Remote(bg, id, optimistic)
		if err != nil {
			kept, partial := confirmedOf[T](err)
			if !partial || m.Kind == KindDelete {
				if m.Kind == KindDelete || m.Apply != nil {
					store.RestoreIfCurrent(key, prev, version)
				}
				log.Error().Err(err).Msg("Mutation rejected, rolled back")
				res <- result[T]{err: asRejected(m.Op, err)}
				return
			}
			confirmed = kept
		}

		if m.Kind != KindDelete {
			newKey := store.KeyOf(confirmed)
			if newKey == "" {
				newKey = key
			}
			if newKey != key {
				store.DeleteIfNotNewer(key, version)
			}
			if _, ok := store.SetIfNotNewer(newKey, confirmed, version); !ok {
				log.Debug().Str("serverKey", newKey).Msg("Newer write present, reconciliation skipped")
			}
		}

		if err != nil {
			log.Warn().Err(err).Msg("Mutation partially applied, confirmed steps kept")
			res <- result[T]{value: confirmed, err: err}
			return
		}

		if m.OnSuccess != nil {
			m.OnSuccess(confirmed)
		}
		res <- result[T]{value: confirmed}
	}()

	select {
	case r := <-res:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func performToggle[T any](ctx context.Context, c *Coordinator, store *cache.Cache[T], m Mutation[T], id models.Identity, key string) (T, error) {
	var zero T
	k := lockKey{cache: store.Name(), key: key}

	c.toggleMu.Lock()
	prev := store.Entry(key)
	if m.Precondition != nil {
		if err := m.Precondition(prev, id); err != nil {
			c.toggleMu.Unlock()
			return zero, asInconsistent(m.Op, err)
		}
	}

	optimistic := m.Apply(prev, id, key)
	version := store.Set(key, optimistic)

	c.mu.Lock()
	chain, ok := c.toggles[k]
	if !ok {
		chain = &toggleChain{}
		c.toggles[k] = chain
	}
	if chain.pending == 0 {
		chain.base = prev
	}
	chain.gen++
	gen := chain.gen
	chain.pending++
	before := chain.tail
	done := make(chan struct{})
	chain.tail = done
	c.mu.Unlock()
	c.toggleMu.Unlock()

	log := c.log.With().Str("op", m.Op).Str("cache", store.Name()).Str("key", key).Uint64("gen", gen).Logger()

	res := make(chan result[T], 1)
	bg := context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		if before != nil {
			<-before
		}

		c.mu.Lock()
		superseded := chain.gen != gen
		c.mu.Unlock()

		var confirmed T
		var err error
		if !superseded {
			confirmed, err = m.Remote(bg, id, optimistic)
		}

		c.mu.Lock()
		latest := chain.gen == gen
		if !superseded && err == nil {
			chain.base = cache.Entry[T]{Value: confirmed, Present: true}
		}
		base, _ := chain.base.(cache.Entry[T])
		chain.pending--
		if chain.pending == 0 && c.toggles[k] == chain {
			delete(c.toggles, k)
		}
		c.mu.Unlock()

		switch {
		case superseded || !latest:
			log.Debug().Bool("sent", !superseded).Msg("Toggle superseded, response discarded")
			current, _ := store.Get(key)
			res <- result[T]{value: current}
		case err != nil:
			store.RestoreIfCurrent(key, base, version)
			log.Error().Err(err).Msg("Toggle rejected, rolled back")
			res <- result[T]{err: asRejected(m.Op, err)}
		default:
			store.SetIfNotNewer(key, confirmed, version)
			if m.OnSuccess != nil {
				m.OnSuccess(confirmed)
			}
			res <- result[T]{value: confirmed}
		}
	}()

	select {
	case r := <-res:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
