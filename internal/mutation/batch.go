package mutation

import (
	"context"
	"sort"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/cache"
)

// Batch applies the same optimistic change to several keys behind a single
// remote call, e.g. marking every notification read
type Batch[T any] struct {
	Op        string
	Keys      []string
	Anonymous bool
	// Apply derives the optimistic value of one present key
	Apply  func(current T, id models.Identity) T
	Remote func(ctx context.Context, id models.Identity) error
}

// PerformBatch runs b. Keys are locked in sorted order; absent keys are
// skipped. On failure every key still holding its optimistic value is
// restored.
func PerformBatch[T any](ctx context.Context, c *Coordinator, store *cache.Cache[T], b Batch[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var id models.Identity
	if !b.Anonymous {
		var err error
		if id, err = c.Identity(b.Op); err != nil {
			return err
		}
	}

	keys := make([]string, len(b.Keys))
	copy(keys, b.Keys)
	sort.Strings(keys)

	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for _, r := range releases {
			r()
		}
	}
	for i, key := range keys {
		if i > 0 && keys[i-1] == key {
			continue
		}
		release, err := c.acquire(ctx, b.Op, lockKey{cache: store.Name(), key: key})
		if err != nil {
			releaseAll()
			return err
		}
		releases = append(releases, release)
	}

	type applied struct {
		key     string
		prev    cache.Entry[T]
		version int64
	}
	var writes []applied
	for _, key := range keys {
		prev := store.Entry(key)
		if !prev.Present {
			continue
		}
		if len(writes) > 0 && writes[len(writes)-1].key == key {
			continue
		}
		version := store.Set(key, b.Apply(prev.Value, id))
		writes = append(writes, applied{key: key, prev: prev, version: version})
	}

	log := c.log.With().Str("op", b.Op).Str("cache", store.Name()).Int("keys", len(writes)).Logger()

	res := make(chan error, 1)
	bg := context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer releaseAll()

		if err := b.Remote(bg, id); err != nil {
			for _, w := range writes {
				store.RestoreIfCurrent(w.key, w.prev, w.version)
			}
			log.Error().Err(err).Msg("Batch rejected, rolled back")
			res <- asRejected(b.Op, err)
			return
		}
		log.Debug().Msg("Batch confirmed")
		res <- nil
	}()

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
