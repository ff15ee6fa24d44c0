package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/backend"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestInsert_AssignsIDAndTimestamp(t *testing.T) {
	b := New(WithClock(fixedClock()))
	row, err := b.Insert(context.Background(), backend.TablePosts, backend.Row{"content": "hi"})
	require.NoError(t, err)

	assert.NotEmpty(t, row.String("id"))
	assert.Equal(t, fixedClock()(), row["created_at"])
	assert.Len(t, b.Rows(backend.TablePosts), 1)
}

func TestInsert_UniqueConflict(t *testing.T) {
	b := New()
	ctx := context.Background()
	_, err := b.Insert(ctx, backend.TablePostLikes, backend.Row{"post_id": "p1", "user_id": "u1"})
	require.NoError(t, err)

	_, err = b.Insert(ctx, backend.TablePostLikes, backend.Row{"post_id": "p1", "user_id": "u1"})
	assert.ErrorIs(t, err, backend.ErrConflict)

	_, err = b.Insert(ctx, backend.TablePostLikes, backend.Row{"post_id": "p1", "user_id": "u2"})
	assert.NoError(t, err)
}

func TestQuery_FiltersOrderLimit(t *testing.T) {
	b := New()
	b.Seed(backend.TableMessages,
		backend.Row{"id": "1", "sender_id": "a", "read": false, "created_at": time.Unix(3, 0)},
		backend.Row{"id": "2", "sender_id": "b", "read": true, "created_at": time.Unix(1, 0)},
		backend.Row{"id": "3", "sender_id": "a", "read": true, "created_at": time.Unix(2, 0)},
	)
	ctx := context.Background()

	rows, err := b.Query(ctx, backend.Query{
		Table:   backend.TableMessages,
		Filters: []backend.Filter{backend.Eq("sender_id", "a")},
		Order:   []backend.Order{backend.Asc("created_at")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[0].String("id"))

	rows, err = b.Query(ctx, backend.Query{
		Table:   backend.TableMessages,
		Filters: []backend.Filter{backend.In("id", "1", "2")},
		Order:   []backend.Order{backend.Desc("created_at")},
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].String("id"))

	rows, err = b.Query(ctx, backend.Query{
		Table:   backend.TableMessages,
		Filters: []backend.Filter{backend.Eq("read", false)},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestQuery_NullFilter(t *testing.T) {
	b := New()
	parent := "c1"
	b.Seed(backend.TableComments,
		backend.Row{"id": "c1", "parent_id": nil},
		backend.Row{"id": "c2", "parent_id": &parent},
	)

	rows, err := b.Query(context.Background(), backend.Query{
		Table:   backend.TableComments,
		Filters: []backend.Filter{backend.IsNull("parent_id")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].String("id"))

	rows, err = b.Query(context.Background(), backend.Query{
		Table:   backend.TableComments,
		Filters: []backend.Filter{backend.Eq("parent_id", "c1")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c2", rows[0].String("id"))
}

func TestUpdateAndDelete(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Seed(backend.TableNotifications,
		backend.Row{"id": "n1", "user_id": "u", "read": false},
		backend.Row{"id": "n2", "user_id": "u", "read": false},
		backend.Row{"id": "n3", "user_id": "v", "read": false},
	)

	rows, err := b.Update(ctx, backend.TableNotifications, []backend.Filter{backend.Eq("user_id", "u")}, backend.Row{"read": true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = backend.UpdateOne(ctx, b, backend.TableNotifications, "missing", backend.Row{"read": true})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	n, err := b.Delete(ctx, backend.TableNotifications, []backend.Filter{backend.Eq("id", "n3")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, b.Rows(backend.TableNotifications), 2)
}

func TestFailNext(t *testing.T) {
	b := New()
	ctx := context.Background()
	boom := errors.New("boom")
	b.FailNext(OpInsert, backend.TablePosts, boom)

	_, err := b.Insert(ctx, backend.TableComments, backend.Row{})
	require.NoError(t, err)

	_, err = b.Insert(ctx, backend.TablePosts, backend.Row{})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.Rows(backend.TablePosts))

	_, err = b.Insert(ctx, backend.TablePosts, backend.Row{})
	assert.NoError(t, err)
}

func TestCall_AddUserPoints(t *testing.T) {
	b := New()
	ctx := context.Background()

	row, err := b.Call(ctx, backend.FnAddUserPoints, backend.Row{"user_id": "u", "points": 60, "action": "post"})
	require.NoError(t, err)
	assert.Equal(t, 60, toInt(row["total_points"]))
	assert.Equal(t, 1, toInt(row["level"]))

	row, err = b.Call(ctx, backend.FnAddUserPoints, backend.Row{"user_id": "u", "points": 60, "action": "post"})
	require.NoError(t, err)
	assert.Equal(t, 120, toInt(row["total_points"]))
	assert.Equal(t, 2, toInt(row["level"]))

	assert.Len(t, b.Rows(backend.TableUserPoints), 1)
	assert.Len(t, b.Rows(backend.TableUserAchievements), 2)
}

func TestCall_IncrementOptionVote(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Seed(backend.TablePollOptions, backend.Row{"id": "o1", "vote_count": 2})

	row, err := b.Call(ctx, backend.FnIncrementOptionVote, backend.Row{"option_id": "o1"})
	require.NoError(t, err)
	assert.Equal(t, 3, toInt(row["vote_count"]))

	_, err = b.Call(ctx, backend.FnIncrementOptionVote, backend.Row{"option_id": "nope"})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.Call(ctx, "drop_everything", nil)
	assert.Error(t, err)
}

func TestSubscribe_ReceivesWrites(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, backend.SubscribeFilter{Tables: []string{backend.TablePosts}})
	require.NoError(t, err)

	_, err = b.Insert(ctx, backend.TableComments, backend.Row{})
	require.NoError(t, err)
	row, err := b.Insert(ctx, backend.TablePosts, backend.Row{"content": "x"})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, backend.TablePosts, ev.Table)
		assert.Equal(t, backend.ChangeInsert, ev.Type)
		assert.Equal(t, row.String("id"), ev.Record.String("id"))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, sub.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestClose_RejectsNewSubscriptions(t *testing.T) {
	b := New()
	b.Close()
	_, err := b.Subscribe(context.Background(), backend.SubscribeFilter{})
	assert.ErrorIs(t, err, backend.ErrClosed)
}
