package stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yigit/hackhub/internal/aggregate"
	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/realtime"
)

// MessageStore mirrors the direct messages of the acting identity.
// Conversations and unread counts are derived from the one message cache,
// so the per-conversation and global counts cannot drift apart.
type MessageStore struct {
	base
	messages *cache.Cache[models.Message]
}

// NewMessageStore creates the message store
func NewMessageStore(d Deps) *MessageStore {
	s := &MessageStore{
		base: newBase(d, "messages"),
		messages: cache.New(backend.TableMessages, d.Clock, cache.Options[models.Message]{
			KeyOf: func(m models.Message) string { return m.ID },
			Less:  byCreatedAsc(func(m models.Message) time.Time { return m.CreatedAt }),
		}),
	}
	s.register()
	return s
}

// Cache exposes the message cache for observers
func (s *MessageStore) Cache() *cache.Cache[models.Message] { return s.messages }

// Conversations returns one entry per counterparty, most recent first
func (s *MessageStore) Conversations() []models.Conversation {
	return aggregate.Conversations(s.messages.List(), s.me())
}

// Thread returns the messages exchanged with counterparty, oldest first
func (s *MessageStore) Thread(counterparty string) []models.Message {
	me := s.me()
	var out []models.Message
	for _, m := range s.messages.List() {
		if (m.SenderID == me && m.ReceiverID == counterparty) || (m.SenderID == counterparty && m.ReceiverID == me) {
			out = append(out, m)
		}
	}
	return out
}

// UnreadCount returns the number of unread messages addressed to the
// acting identity
func (s *MessageStore) UnreadCount() int {
	return aggregate.UnreadMessages(s.messages.List(), s.me())
}

// Load fetches every message the acting identity sent or received
func (s *MessageStore) Load(ctx context.Context) ([]models.Conversation, error) {
	op := "messages.Load"
	id, err := s.coord.Identity(op)
	if err != nil {
		return nil, err
	}

	var all []models.Message
	for _, column := range []string{"sender_id", "receiver_id"} {
		rows, err := s.query(ctx, op, backend.Query{
			Table:   backend.TableMessages,
			Filters: []backend.Filter{backend.Eq(column, id.ID)},
			Order:   []backend.Order{backend.Asc("created_at")},
		})
		if err != nil {
			return nil, err
		}
		msgs, err := backend.DecodeAll[models.Message](rows)
		if err != nil {
			return nil, apperrors.RemoteRejected(op, err)
		}
		all = append(all, msgs...)
	}

	s.messages.Load(all)
	return s.Conversations(), nil
}

// Open loads the thread with counterparty and marks its unread messages as
// read
func (s *MessageStore) Open(ctx context.Context, counterparty string) ([]models.Message, error) {
	op := "messages.Open"
	id, err := s.coord.Identity(op)
	if err != nil {
		return nil, err
	}

	var unread []string
	for _, m := range s.Thread(counterparty) {
		if !m.Read && m.SenderID == counterparty && m.ReceiverID == id.ID {
			unread = append(unread, m.ID)
		}
	}
	if len(unread) == 0 {
		return s.Thread(counterparty), nil
	}

	err = mutation.PerformBatch(ctx, s.coord, s.messages, mutation.Batch[models.Message]{
		Op:   op,
		Keys: unread,
		Apply: func(m models.Message, _ models.Identity) models.Message {
			m.Read = true
			return m
		},
		Remote: func(ctx context.Context, id models.Identity) error {
			keys := make([]any, len(unread))
			for i, k := range unread {
				keys[i] = k
			}
			_, err := s.be.Update(ctx, backend.TableMessages, []backend.Filter{
				backend.In("id", keys...),
				backend.Eq("receiver_id", id.ID),
			}, backend.Row{"read": true})
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return s.Thread(counterparty), nil
}

// Send delivers a message to another identity
func (s *MessageStore) Send(ctx context.Context, to, content string) (models.Message, error) {
	op := "messages.Send"
	return mutation.Perform(ctx, s.coord, s.messages, mutation.Mutation[models.Message]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.Message], id models.Identity) error {
			if to == "" {
				return fmt.Errorf("recipient is required")
			}
			if to == id.ID {
				return fmt.Errorf("cannot message yourself")
			}
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("content is required")
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.Message], id models.Identity, key string) models.Message {
			return models.Message{ID: key, SenderID: id.ID, ReceiverID: to, Content: content, CreatedAt: s.now()}
		},
		Remote: func(ctx context.Context, id models.Identity, _ models.Message) (models.Message, error) {
			row, err := s.be.Insert(ctx, backend.TableMessages, backend.Row{
				"sender_id":   id.ID,
				"receiver_id": to,
				"content":     content,
			})
			if err != nil {
				return models.Message{}, err
			}
			return backend.Decode[models.Message](row)
		},
		OnSuccess: func(models.Message) {
			s.notify(ctx, to, models.NotificationMessage, "New message", content)
		},
	})
}

func (s *MessageStore) register() {
	if s.ingest == nil {
		return
	}
	realtime.Bind(s.ingest, backend.TableMessages, s.messages, realtime.BindOptions[models.Message]{
		Accept: func(m models.Message) bool {
			me := s.me()
			return me != "" && (m.SenderID == me || m.ReceiverID == me)
		},
	})
}
