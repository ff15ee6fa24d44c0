// Package realtime merges pushed backend change events into the caches.
//
// Stores register one or more handlers per backend table. Events are applied
// in arrival order; a push is authoritative and always lands, and any
// optimistic reconciliation racing with it is discarded by the cache write
// versions. Applying the same event twice leaves the caches unchanged.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/pkg/logger"
)

// ErrMalformed marks an event that cannot be applied
var ErrMalformed = errors.New("malformed change event")

// Handler applies one event. Returning an error drops the event.
type Handler func(ev backend.ChangeEvent) error

// Stats counts processed events
type Stats struct {
	Applied int64
	Dropped int64
}

// Ingestor routes change events to the handlers registered for their table
type Ingestor struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	// applyMu keeps events applied one at a time, in arrival order
	applyMu sync.Mutex

	applied atomic.Int64
	dropped atomic.Int64
}

// NewIngestor creates an ingestor with no handlers
func NewIngestor() *Ingestor {
	return &Ingestor{
		log:      logger.Component("realtime"),
		handlers: make(map[string][]Handler),
	}
}

// WithLogger replaces the ingestor's logger
func (i *Ingestor) WithLogger(log zerolog.Logger) *Ingestor {
	i.log = log
	return i
}

// Handle registers h for events on table
func (i *Ingestor) Handle(table string, h Handler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[table] = append(i.handlers[table], h)
}

// Tables returns the tables with at least one handler, sorted
func (i *Ingestor) Tables() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]string, 0, len(i.handlers))
	for t := range i.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Stats returns the applied and dropped event counts
func (i *Ingestor) Stats() Stats {
	return Stats{Applied: i.applied.Load(), Dropped: i.dropped.Load()}
}

// OnPush applies ev. Events for unknown tables or that a handler rejects
// are logged and dropped.
func (i *Ingestor) OnPush(ev backend.ChangeEvent) {
	i.mu.RLock()
	handlers := i.handlers[ev.Table]
	i.mu.RUnlock()

	log := i.log.With().Str("table", ev.Table).Str("type", string(ev.Type)).Str("id", ev.Record.String("id")).Logger()

	if len(handlers) == 0 {
		i.dropped.Add(1)
		log.Warn().Msg("Dropping change event for unhandled table")
		return
	}

	i.applyMu.Lock()
	defer i.applyMu.Unlock()

	for _, h := range handlers {
		if err := h(ev); err != nil {
			i.dropped.Add(1)
			log.Warn().Err(err).Msg("Dropping change event")
			return
		}
	}
	i.applied.Add(1)
	log.Debug().Msg("Change event applied")
}

// Run applies events from sub until ctx ends or the stream closes. The
// subscription is closed on return.
func (i *Ingestor) Run(ctx context.Context, sub backend.Subscription) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				i.log.Info().Msg("Change stream closed")
				return nil
			}
			i.OnPush(ev)
		}
	}
}

// BindOptions customizes how a table's rows land in a cache
type BindOptions[T any] struct {
	// Decode converts a row; defaults to backend.Decode
	Decode func(backend.Row) (T, error)
	// Merge combines the incoming record with the cached entry, for fields
	// the row does not carry. Must be idempotent.
	Merge func(current cache.Entry[T], incoming T) T
	// Accept filters rows that do not belong in this cache
	Accept func(T) bool
	// After runs once the cache reflects the event
	After func(ev backend.ChangeEvent, value T)
}

// Bind mirrors table into c: inserts and updates set the decoded row under
// its own id, deletes remove it.
func Bind[T any](i *Ingestor, table string, c *cache.Cache[T], opts BindOptions[T]) {
	decode := opts.Decode
	if decode == nil {
		decode = backend.Decode[T]
	}

	i.Handle(table, func(ev backend.ChangeEvent) error {
		if ev.Record == nil {
			return fmt.Errorf("%w: no record", ErrMalformed)
		}
		value, err := decode(ev.Record)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		key := c.KeyOf(value)
		if key == "" {
			return fmt.Errorf("%w: missing id", ErrMalformed)
		}
		if opts.Accept != nil && !opts.Accept(value) {
			return nil
		}

		switch ev.Type {
		case backend.ChangeInsert, backend.ChangeUpdate:
			if opts.Merge != nil {
				value = opts.Merge(c.Entry(key), value)
			}
			c.Set(key, value)
		case backend.ChangeDelete:
			c.Delete(key)
		default:
			return fmt.Errorf("%w: unknown type %q", ErrMalformed, ev.Type)
		}

		if opts.After != nil {
			opts.After(ev, value)
		}
		return nil
	})
}
