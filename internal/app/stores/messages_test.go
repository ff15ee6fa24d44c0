package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/aggregate"
	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
)

func seedMessages(t *testing.T, e *env) {
	t.Helper()
	e.be.Seed(backend.TableMessages,
		backend.Row{"id": "m1", "sender_id": "bob", "receiver_id": "alice", "content": "hi"},
		backend.Row{"id": "m2", "sender_id": "alice", "receiver_id": "bob", "content": "hey"},
		backend.Row{"id": "m3", "sender_id": "bob", "receiver_id": "alice", "content": "lunch?"},
		backend.Row{"id": "m4", "sender_id": "carol", "receiver_id": "alice", "content": "ping"},
		backend.Row{"id": "m5", "sender_id": "carol", "receiver_id": "dave", "content": "not for alice"},
	)
	_, err := e.messages.Load(context.Background())
	require.NoError(t, err)
}

func unreadSum(convs []models.Conversation) int {
	n := 0
	for _, c := range convs {
		n += c.UnreadCount
	}
	return n
}

func TestMessageStore_ConversationsAndUnread(t *testing.T) {
	e := newEnv(t, "alice")
	seedMessages(t, e)

	convs := e.messages.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "carol", convs[0].Counterparty)
	assert.Equal(t, "bob", convs[1].Counterparty)
	assert.Equal(t, "m3", convs[1].LastMessage.ID)
	assert.Equal(t, 2, convs[1].UnreadCount)

	assert.Equal(t, 3, e.messages.UnreadCount())
	assert.Equal(t, e.messages.UnreadCount(), unreadSum(convs))
}

func TestMessageStore_OpenMarksThreadRead(t *testing.T) {
	e := newEnv(t, "alice")
	seedMessages(t, e)

	thread, err := e.messages.Open(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{thread[0].ID, thread[1].ID, thread[2].ID})
	for _, m := range thread {
		if m.ReceiverID == "alice" {
			assert.True(t, m.Read)
		}
	}

	assert.Equal(t, 1, e.messages.UnreadCount())
	assert.Equal(t, e.messages.UnreadCount(), unreadSum(e.messages.Conversations()))
	assert.Equal(t, 1, aggregate.UnreadMessages(decodeMessages(t, e.be.Rows(backend.TableMessages)), "alice"))
}

func TestMessageStore_SendToSelfIsInconsistent(t *testing.T) {
	e := newEnv(t, "alice")
	_, err := e.messages.Send(context.Background(), "alice", "hello me")
	assert.ErrorIs(t, err, apperrors.ErrInconsistent)
	assert.Empty(t, e.be.Rows(backend.TableMessages))
}

func TestMessageStore_SendNotifiesRecipient(t *testing.T) {
	e := newEnv(t, "alice")

	m, err := e.messages.Send(context.Background(), "bob", "hello")
	require.NoError(t, err)
	assert.False(t, models.IsTempID(m.ID))
	assert.Len(t, e.messages.Thread("bob"), 1)

	notes := e.be.Rows(backend.TableNotifications)
	require.Len(t, notes, 1)
	assert.Equal(t, "bob", notes[0].String("user_id"))
	assert.Equal(t, string(models.NotificationMessage), notes[0].String("type"))
}

func TestMessageStore_PushIgnoresOtherConversations(t *testing.T) {
	e := newEnv(t, "alice")

	e.ingest.OnPush(backend.ChangeEvent{Table: backend.TableMessages, Type: backend.ChangeInsert, Record: backend.Row{
		"id": "x1", "sender_id": "carol", "receiver_id": "dave", "content": "private",
	}})
	e.ingest.OnPush(backend.ChangeEvent{Table: backend.TableMessages, Type: backend.ChangeInsert, Record: backend.Row{
		"id": "x2", "sender_id": "carol", "receiver_id": "alice", "content": "for you",
	}})

	assert.Equal(t, 1, e.messages.Cache().Len())
	assert.Equal(t, 1, e.messages.UnreadCount())
}

func decodeMessages(t *testing.T, rows []backend.Row) []models.Message {
	t.Helper()
	msgs, err := backend.DecodeAll[models.Message](rows)
	require.NoError(t, err)
	return msgs
}
