// Package memory is an in-process Backend used for development and tests.
// It keeps tables as ordered row slices, enforces the unique keys of the SQL
// schema, implements the remote procedures natively and pushes a change
// event for every committed write.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yigit/hackhub/internal/aggregate"
	"github.com/yigit/hackhub/internal/backend"
)

// Op names a backend operation for failure injection
type Op string

const (
	OpQuery  Op = "query"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpCall   Op = "call"
)

// Hook runs before every operation; a non-nil error fails the operation
// without touching any table.
type Hook func(ctx context.Context, op Op, table string) error

// defaultUnique mirrors the unique constraints of migrations/001_init.sql
var defaultUnique = map[string][]string{
	backend.TableCommunityMembers: {"community_id", "user_id"},
	backend.TableGroupMembers:     {"group_id", "user_id"},
	backend.TablePostLikes:        {"post_id", "user_id"},
	backend.TableEventAttendees:   {"event_id", "user_id"},
	backend.TablePollVotes:        {"poll_id", "option_id", "user_id"},
	backend.TableUserBadges:       {"user_id", "badge_id"},
	backend.TableJobSaves:         {"job_id", "user_id"},
	backend.TableUserPoints:       {"user_id"},
	backend.TableUsers:            {"email"},
}

// Backend is an in-memory implementation of backend.Backend
type Backend struct {
	mu     sync.Mutex
	tables map[string][]backend.Row
	unique map[string][]string
	now    func() time.Time
	hook   Hook

	subMu  sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// Option configures a Backend
type Option func(*Backend)

// WithClock sets the function used for server timestamps
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithHook installs a failure-injection hook
func WithHook(h Hook) Option {
	return func(b *Backend) { b.hook = h }
}

// New creates an empty backend
func New(opts ...Option) *Backend {
	b := &Backend{
		tables: make(map[string][]backend.Row),
		unique: defaultUnique,
		now:    time.Now,
		subs:   make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetHook replaces the failure-injection hook; nil removes it
func (b *Backend) SetHook(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = h
}

// FailNext makes the next matching operation fail with err. An empty table
// matches any table.
func (b *Backend) FailNext(op Op, table string, err error) {
	var once sync.Once
	b.SetHook(func(_ context.Context, gotOp Op, gotTable string) error {
		if gotOp != op || (table != "" && gotTable != table) {
			return nil
		}
		var out error
		once.Do(func() { out = err })
		return out
	})
}

// Seed inserts rows without running hooks or emitting change events
func (b *Backend) Seed(table string, rows ...backend.Row) []backend.Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]backend.Row, 0, len(rows))
	for _, r := range rows {
		row := b.withDefaults(table, r)
		b.tables[table] = append(b.tables[table], row)
		out = append(out, row.Clone())
	}
	return out
}

// Rows returns a copy of every row in table
func (b *Backend) Rows(table string) []backend.Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]backend.Row, 0, len(b.tables[table]))
	for _, r := range b.tables[table] {
		out = append(out, r.Clone())
	}
	return out
}

// Emit pushes ev to subscribers as if a write had been committed
func (b *Backend) Emit(ev backend.ChangeEvent) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for s := range b.subs {
		s.deliver(ev)
	}
}

// Query implements backend.Backend
func (b *Backend) Query(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.before(ctx, OpQuery, q.Table); err != nil {
		return nil, err
	}

	var out []backend.Row
	for _, r := range b.tables[q.Table] {
		if matchesAll(r, q.Filters) {
			out = append(out, r.Clone())
		}
	}

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compare(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert implements backend.Backend
func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	b.mu.Lock()
	if err := b.before(ctx, OpInsert, table); err != nil {
		b.mu.Unlock()
		return nil, err
	}

	stored := b.withDefaults(table, row)
	if err := b.checkUnique(table, stored, -1); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.tables[table] = append(b.tables[table], stored)
	b.mu.Unlock()

	b.Emit(backend.ChangeEvent{Table: table, Type: backend.ChangeInsert, Record: stored.Clone(), CommitTime: b.now()})
	return stored.Clone(), nil
}

// Update implements backend.Backend
func (b *Backend) Update(ctx context.Context, table string, filters []backend.Filter, patch backend.Row) ([]backend.Row, error) {
	b.mu.Lock()
	if err := b.before(ctx, OpUpdate, table); err != nil {
		b.mu.Unlock()
		return nil, err
	}

	rows := b.tables[table]
	var updated []backend.Row
	for i, r := range rows {
		if !matchesAll(r, filters) {
			continue
		}
		next := r.Clone()
		for k, v := range patch {
			next[k] = v
		}
		if err := b.checkUnique(table, next, i); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		rows[i] = next
		updated = append(updated, next.Clone())
	}
	b.mu.Unlock()

	for _, r := range updated {
		b.Emit(backend.ChangeEvent{Table: table, Type: backend.ChangeUpdate, Record: r.Clone(), CommitTime: b.now()})
	}
	return updated, nil
}

// Delete implements backend.Backend
func (b *Backend) Delete(ctx context.Context, table string, filters []backend.Filter) (int, error) {
	b.mu.Lock()
	if err := b.before(ctx, OpDelete, table); err != nil {
		b.mu.Unlock()
		return 0, err
	}

	var kept, removed []backend.Row
	for _, r := range b.tables[table] {
		if matchesAll(r, filters) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	b.tables[table] = kept
	b.mu.Unlock()

	for _, r := range removed {
		b.Emit(backend.ChangeEvent{Table: table, Type: backend.ChangeDelete, Record: r.Clone(), CommitTime: b.now()})
	}
	return len(removed), nil
}

// Call implements backend.Backend
func (b *Backend) Call(ctx context.Context, fn string, args backend.Row) (backend.Row, error) {
	switch fn {
	case backend.FnAddUserPoints:
		return b.addUserPoints(ctx, args)
	case backend.FnIncrementOptionVote:
		return b.incrementOptionVote(ctx, args)
	default:
		return nil, fmt.Errorf("unknown remote procedure %q", fn)
	}
}

func (b *Backend) addUserPoints(ctx context.Context, args backend.Row) (backend.Row, error) {
	b.mu.Lock()
	if err := b.before(ctx, OpCall, backend.FnAddUserPoints); err != nil {
		b.mu.Unlock()
		return nil, err
	}

	userID := args.String("user_id")
	points := toInt(args["points"])
	if points < 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("add_user_points: points must not be negative")
	}

	var row backend.Row
	changeType := backend.ChangeUpdate
	rows := b.tables[backend.TableUserPoints]
	for i, r := range rows {
		if r.String("user_id") == userID {
			next := r.Clone()
			next["total_points"] = toInt(r["total_points"]) + points
			next["level"] = aggregate.Level(toInt(next["total_points"]))
			next["updated_at"] = b.now()
			rows[i] = next
			row = next
			break
		}
	}
	if row == nil {
		changeType = backend.ChangeInsert
		row = b.withDefaults(backend.TableUserPoints, backend.Row{
			"user_id":      userID,
			"total_points": points,
			"level":        aggregate.Level(points),
		})
		b.tables[backend.TableUserPoints] = append(rows, row)
	}

	achievement := b.withDefaults(backend.TableUserAchievements, backend.Row{
		"user_id": userID,
		"action":  args.String("action"),
		"points":  points,
	})
	b.tables[backend.TableUserAchievements] = append(b.tables[backend.TableUserAchievements], achievement)
	b.mu.Unlock()

	b.Emit(backend.ChangeEvent{Table: backend.TableUserPoints, Type: changeType, Record: row.Clone(), CommitTime: b.now()})
	b.Emit(backend.ChangeEvent{Table: backend.TableUserAchievements, Type: backend.ChangeInsert, Record: achievement.Clone(), CommitTime: b.now()})
	return row.Clone(), nil
}

func (b *Backend) incrementOptionVote(ctx context.Context, args backend.Row) (backend.Row, error) {
	b.mu.Lock()
	if err := b.before(ctx, OpCall, backend.FnIncrementOptionVote); err != nil {
		b.mu.Unlock()
		return nil, err
	}

	optionID := args.String("option_id")
	rows := b.tables[backend.TablePollOptions]
	for i, r := range rows {
		if r.String("id") == optionID {
			next := r.Clone()
			next["vote_count"] = toInt(r["vote_count"]) + 1
			rows[i] = next
			b.mu.Unlock()
			b.Emit(backend.ChangeEvent{Table: backend.TablePollOptions, Type: backend.ChangeUpdate, Record: next.Clone(), CommitTime: b.now()})
			return next.Clone(), nil
		}
	}
	b.mu.Unlock()
	return nil, fmt.Errorf("poll option %s: %w", optionID, backend.ErrNotFound)
}

// Subscribe implements backend.Backend
func (b *Backend) Subscribe(ctx context.Context, filter backend.SubscribeFilter) (backend.Subscription, error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if b.closed {
		return nil, backend.ErrClosed
	}

	s := &subscription{
		backend: b,
		filter:  filter,
		events:  make(chan backend.ChangeEvent, 256),
	}
	b.subs[s] = struct{}{}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

// Close ends every subscription
func (b *Backend) Close() {
	b.subMu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.closed = true
	b.subMu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

func (b *Backend) before(ctx context.Context, op Op, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.hook != nil {
		return b.hook(ctx, op, table)
	}
	return nil
}

// timestampColumns lists the server-defaulted timestamp column per table
var timestampColumns = map[string]string{
	backend.TableCommunityMembers: "joined_at",
	backend.TableGroupMembers:     "joined_at",
	backend.TableUserBadges:       "earned_at",
	backend.TableUserPoints:       "updated_at",
	backend.TableEventAttendees:   "created_at",
}

// columnDefaults mirrors the non-null column defaults of the schema
var columnDefaults = map[string]backend.Row{
	backend.TableMessages:      {"read": false},
	backend.TableNotifications: {"read": false},
	backend.TableForumTopics:   {"is_pinned": false},
	backend.TablePollOptions:   {"vote_count": 0},
	backend.TableCommunities:   {"is_private": false},
	backend.TableGroups:        {"is_private": false},
}

func (b *Backend) withDefaults(table string, r backend.Row) backend.Row {
	row := r.Clone()
	if row.String("id") == "" {
		row["id"] = uuid.NewString()
	}
	for col, v := range columnDefaults[table] {
		if _, ok := row[col]; !ok {
			row[col] = v
		}
	}
	col, ok := timestampColumns[table]
	if !ok {
		col = "created_at"
	}
	if row[col] == nil {
		row[col] = b.now()
	}
	return row
}

func (b *Backend) checkUnique(table string, row backend.Row, skip int) error {
	if skip < 0 {
		id := row.String("id")
		for _, existing := range b.tables[table] {
			if existing.String("id") == id {
				return fmt.Errorf("%s id %s: %w", table, id, backend.ErrConflict)
			}
		}
	}
	cols, ok := b.unique[table]
	if !ok {
		return nil
	}
	for i, existing := range b.tables[table] {
		if i == skip {
			continue
		}
		same := true
		for _, c := range cols {
			if compare(existing[c], row[c]) != 0 {
				same = false
				break
			}
		}
		if same {
			return fmt.Errorf("%s (%s): %w", table, strings.Join(cols, ", "), backend.ErrConflict)
		}
	}
	return nil
}

type subscription struct {
	backend *Backend
	filter  backend.SubscribeFilter

	mu     sync.Mutex
	events chan backend.ChangeEvent
	closed bool
}

func (s *subscription) Events() <-chan backend.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	s.backend.subMu.Lock()
	delete(s.backend.subs, s)
	s.backend.subMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *subscription) deliver(ev backend.ChangeEvent) {
	if !s.filter.Matches(ev) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// slow consumer: drop, the stores refetch on demand
	}
}
