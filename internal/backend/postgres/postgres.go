// Package postgres implements backend.Backend on PostgreSQL. Rows are read
// and written as column maps, remote procedures are SQL functions, and
// change events arrive over LISTEN/NOTIFY from the triggers installed by
// the migrations. Rows too large for a notification arrive as key columns
// and are read back before delivery.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/db"
	"github.com/yigit/hackhub/internal/pkg/dberrors"
	"github.com/yigit/hackhub/internal/pkg/logger"
)

// Backend talks to PostgreSQL through a pgx pool
type Backend struct {
	db      *db.PostgresDB
	sb      squirrel.StatementBuilderType
	channel string
	buffer  int
}

// New creates a backend. channel is the NOTIFY channel the change triggers
// publish on; buffer sizes each subscription's event queue.
func New(pg *db.PostgresDB, channel string, buffer int) *Backend {
	if buffer <= 0 {
		buffer = 256
	}
	return &Backend{
		db:      pg,
		sb:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		channel: channel,
		buffer:  buffer,
	}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// where translates filters into a squirrel conjunction
func where(filters []backend.Filter) squirrel.And {
	conds := make(squirrel.And, 0, len(filters))
	for _, f := range filters {
		col := ident(f.Column)
		switch f.Op {
		case backend.OpEq:
			conds = append(conds, squirrel.Eq{col: f.Value})
		case backend.OpNeq:
			conds = append(conds, squirrel.Or{squirrel.NotEq{col: f.Value}, squirrel.Eq{col: nil}})
		case backend.OpIn:
			conds = append(conds, squirrel.Eq{col: f.Value})
		case backend.OpIsNull:
			conds = append(conds, squirrel.Eq{col: nil})
		}
	}
	return conds
}

func (b *Backend) selectQuery(q backend.Query) squirrel.SelectBuilder {
	sel := b.sb.Select("*").From(ident(q.Table))
	if len(q.Filters) > 0 {
		sel = sel.Where(where(q.Filters))
	}
	for _, o := range q.Order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		sel = sel.OrderBy(ident(o.Column) + " " + dir)
	}
	if q.Limit > 0 {
		sel = sel.Limit(uint64(q.Limit))
	}
	return sel
}

// Query implements backend.Backend
func (b *Backend) Query(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	sql, args, err := b.selectQuery(q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select on %s: %w", q.Table, err)
	}
	return b.collect(ctx, "select", q.Table, sql, args)
}

func (b *Backend) insertQuery(table string, row backend.Row) (string, []any, error) {
	if len(row) == 0 {
		return "INSERT INTO " + ident(table) + " DEFAULT VALUES RETURNING *", nil, nil
	}
	return b.sb.Insert(ident(table)).SetMap(quoted(row)).Suffix("RETURNING *").ToSql()
}

// Insert implements backend.Backend
func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	sql, args, err := b.insertQuery(table, row)
	if err != nil {
		return nil, fmt.Errorf("failed to build insert on %s: %w", table, err)
	}
	rows, err := b.collect(ctx, "insert", table, sql, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: %w", table, backend.ErrNotFound)
	}
	return rows[0], nil
}

// Update implements backend.Backend
func (b *Backend) Update(ctx context.Context, table string, filters []backend.Filter, patch backend.Row) ([]backend.Row, error) {
	sql, args, err := b.sb.Update(ident(table)).
		SetMap(quoted(patch)).
		Where(where(filters)).
		Suffix("RETURNING *").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update on %s: %w", table, err)
	}
	return b.collect(ctx, "update", table, sql, args)
}

// Delete implements backend.Backend
func (b *Backend) Delete(ctx context.Context, table string, filters []backend.Filter) (int, error) {
	sql, args, err := b.sb.Delete(ident(table)).Where(where(filters)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete on %s: %w", table, err)
	}

	tag, err := b.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translate("delete", table, err)
	}
	return int(tag.RowsAffected()), nil
}

// callQuery renders SELECT * FROM fn(name => $1, ...) with arguments in
// name order
func callQuery(fn string, args backend.Row) (string, []any) {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]string, len(names))
	values := make([]any, len(names))
	for i, name := range names {
		params[i] = fmt.Sprintf("%s => $%d", ident(name), i+1)
		values[i] = args[name]
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", ident(fn), strings.Join(params, ", ")), values
}

// Call implements backend.Backend
func (b *Backend) Call(ctx context.Context, fn string, args backend.Row) (backend.Row, error) {
	sql, values := callQuery(fn, args)
	rows, err := b.collect(ctx, "call", fn, sql, values)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("call %s: %w", fn, backend.ErrNotFound)
	}
	return rows[0], nil
}

func (b *Backend) collect(ctx context.Context, op, table, sql string, args []any) ([]backend.Row, error) {
	rows, err := b.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(op, table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translate(op, table, err)
	}

	out := make([]backend.Row, len(maps))
	for i, m := range maps {
		out[i] = backend.Row(m)
	}
	return out, nil
}

// translate maps driver errors onto the backend sentinels
func translate(op, table string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s %s: %w", op, table, backend.ErrNotFound)
	case dberrors.IsUniqueViolation(err):
		return fmt.Errorf("%s %s: %w: %v", op, table, backend.ErrConflict, err)
	case dberrors.IsForeignKeyViolation(err):
		return fmt.Errorf("%s %s: %w: %v", op, table, backend.ErrNotFound, err)
	default:
		logger.Error().Err(err).Str("op", op).Str("table", table).Msg("Database operation failed")
		return fmt.Errorf("%s %s: %w", op, table, err)
	}
}

func quoted(row backend.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[ident(k)] = v
	}
	return out
}

// Subscribe implements backend.Backend. Each subscription holds its own
// listening connection until closed.
func (b *Backend) Subscribe(ctx context.Context, filter backend.SubscribeFilter) (backend.Subscription, error) {
	conn, err := b.db.Listen(ctx, b.channel)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		events: make(chan backend.ChangeEvent, b.buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	log := logger.Component("pg-listener").With().Str("channel", b.channel).Logger()

	go func() {
		defer close(s.done)
		defer close(s.events)
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Notification wait failed")
				}
				return
			}

			ev, err := backend.DecodeChangeEvent([]byte(n.Payload))
			if err != nil {
				log.Warn().Err(err).Msg("Dropping malformed change payload")
				continue
			}
			if !filter.Matches(ev) {
				continue
			}
			if q, ok := refetchQuery(ev); ok {
				rows, err := b.Query(ctx, q)
				switch {
				case err != nil:
					log.Error().Err(err).Str("table", ev.Table).Str("id", ev.Record.String("id")).Msg("Refetching oversized change failed")
					continue
				case len(rows) == 0:
					// deleted before we got to it; the delete event follows
					continue
				}
				ev.Record = rows[0]
				ev.Partial = false
			}

			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return s, nil
}

// refetchQuery returns the lookup that completes a partial insert or update
// record. Partial deletes carry enough keys to apply as they are.
func refetchQuery(ev backend.ChangeEvent) (backend.Query, bool) {
	if !ev.Partial || ev.Type == backend.ChangeDelete {
		return backend.Query{}, false
	}
	id := ev.Record.String("id")
	if id == "" {
		return backend.Query{}, false
	}
	return backend.Query{Table: ev.Table, Filters: []backend.Filter{backend.Eq("id", id)}}, true
}

type subscription struct {
	events chan backend.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan backend.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
