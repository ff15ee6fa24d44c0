// Package mutation applies optimistic writes to the entity caches and
// reconciles them with the backend.
//
// Every intent runs the same pipeline: identity check, precondition, an
// optimistic cache write, the remote call, then either reconciliation with
// the server record or rollback to the pre-write entry. Reconciliation and
// rollback are guarded by the cache write versions, so a newer write (an
// authoritative push or a later intent) is never overwritten by a stale
// response.
package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/pkg/logger"
)

// DefaultInFlightWait bounds how long a mutation waits for an earlier one on
// the same key
const DefaultInFlightWait = 10 * time.Second

// IdentitySource reports the acting identity, if any
type IdentitySource interface {
	Current() (models.Identity, bool)
}

// Config configures a Coordinator
type Config struct {
	InFlightWait time.Duration
	Logger       *zerolog.Logger
}

type lockKey struct {
	cache string
	key   string
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// toggleChain orders the remote calls of successive toggles on one key.
// base is the last server-confirmed entry and is what a failed latest
// toggle rolls back to.
type toggleChain struct {
	gen     uint64
	pending int
	tail    chan struct{}
	base    any
}

// Coordinator runs mutations for one session
type Coordinator struct {
	identity IdentitySource
	wait     time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	locks   map[lockKey]*keyLock
	toggles map[lockKey]*toggleChain

	// toggleMu makes read-flip-write of a toggle atomic per coordinator
	toggleMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a coordinator reading the identity from src
func New(src IdentitySource, cfg Config) *Coordinator {
	wait := cfg.InFlightWait
	if wait <= 0 {
		wait = DefaultInFlightWait
	}
	log := logger.Component("mutation")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Coordinator{
		identity: src,
		wait:     wait,
		log:      log,
		locks:    make(map[lockKey]*keyLock),
		toggles:  make(map[lockKey]*toggleChain),
	}
}

// Identity returns the acting identity or an Unauthenticated error
func (c *Coordinator) Identity(op string) (models.Identity, error) {
	if c.identity == nil {
		return models.Identity{}, apperrors.Unauthenticated(op)
	}
	id, ok := c.identity.Current()
	if !ok || id.ID == "" {
		return models.Identity{}, apperrors.Unauthenticated(op)
	}
	return id, nil
}

// TempID returns a fresh temporary id for an optimistic create
func (c *Coordinator) TempID() string {
	return models.TempIDPrefix + uuid.NewString()
}

// Wait blocks until every background reconciliation has finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// acquire takes the in-flight slot of k, waiting up to the configured bound
func (c *Coordinator) acquire(ctx context.Context, op string, k lockKey) (func(), error) {
	c.mu.Lock()
	l, ok := c.locks[k]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		c.locks[k] = l
	}
	l.refs++
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, k)
		}
		c.mu.Unlock()
	}

	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.sem
				drop()
			})
		}, nil
	case <-timer.C:
		drop()
		return nil, apperrors.New(apperrors.KindAlreadyInProgress, op, "another mutation on "+k.cache+"/"+k.key+" is still in flight")
	case <-ctx.Done():
		drop()
		return nil, apperrors.Wrap(apperrors.KindAlreadyInProgress, op, ctx.Err())
	}
}

// Step is one remote stage of a compound operation
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Compound runs steps in order. When a step after the first fails, the
// error is a PartialFailure naming it and the steps that completed; those
// are not undone. A failing first step is returned as is.
func (c *Coordinator) Compound(ctx context.Context, op string, steps ...Step) error {
	completed := make([]string, 0, len(steps))
	for i, s := range steps {
		if err := s.Run(ctx); err != nil {
			if i == 0 {
				return err
			}
			c.log.Error().Err(err).Str("op", op).Str("step", s.Name).Strs("completed", completed).Msg("Compound operation failed part way")
			return apperrors.PartialFailure(op, s.Name, completed, err)
		}
		completed = append(completed, s.Name)
	}
	return nil
}

// Partial attaches the entity persisted by the completed steps to a
// PartialFailure. Perform reconciles the cache with it instead of rolling
// back, and returns it alongside the error. Other errors pass through.
func Partial[T any](err error, confirmed T) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Kind == apperrors.KindPartialFailure {
		appErr.Confirmed = confirmed
	}
	return err
}

func confirmedOf[T any](err error) (T, bool) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Kind == apperrors.KindPartialFailure {
		v, ok := appErr.Confirmed.(T)
		return v, ok
	}
	var zero T
	return zero, false
}

func asInconsistent(op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Inconsistent(op, err.Error())
}

func asRejected(op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.RemoteRejected(op, err)
}
