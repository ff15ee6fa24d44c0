package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yigit/hackhub/internal/aggregate"
	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/realtime"
)

// NotificationStore mirrors the acting identity's notifications
type NotificationStore struct {
	base
	notifications *cache.Cache[models.Notification]
}

// NewNotificationStore creates the notification store
func NewNotificationStore(d Deps) *NotificationStore {
	s := &NotificationStore{
		base: newBase(d, "notifications"),
		notifications: cache.New(backend.TableNotifications, d.Clock, cache.Options[models.Notification]{
			KeyOf: func(n models.Notification) string { return n.ID },
			Less:  byCreatedDesc(func(n models.Notification) time.Time { return n.CreatedAt }),
		}),
	}
	s.register()
	return s
}

// Cache exposes the notification cache for observers
func (s *NotificationStore) Cache() *cache.Cache[models.Notification] { return s.notifications }

// List returns notifications, newest first
func (s *NotificationStore) List() []models.Notification {
	return s.notifications.List()
}

// UnreadCount returns the number of unread notifications
func (s *NotificationStore) UnreadCount() int {
	return aggregate.UnreadNotifications(s.notifications.List())
}

// Load fetches the acting identity's notifications
func (s *NotificationStore) Load(ctx context.Context) ([]models.Notification, error) {
	op := "notifications.Load"
	id, err := s.coord.Identity(op)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TableNotifications,
		Filters: []backend.Filter{backend.Eq("user_id", id.ID)},
		Order:   []backend.Order{backend.Desc("created_at")},
	})
	if err != nil {
		return nil, err
	}
	items, err := backend.DecodeAll[models.Notification](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}
	s.notifications.Load(items)
	return s.List(), nil
}

// MarkAsRead marks one notification as read
func (s *NotificationStore) MarkAsRead(ctx context.Context, notificationID string) (models.Notification, error) {
	op := "notifications.MarkAsRead"
	return mutation.Perform(ctx, s.coord, s.notifications, mutation.Mutation[models.Notification]{
		Op:           op,
		Kind:         mutation.KindUpdate,
		Key:          notificationID,
		Precondition: requirePresent[models.Notification](op, "notification "+notificationID),
		Apply: func(cur cache.Entry[models.Notification], _ models.Identity, _ string) models.Notification {
			n := cur.Value
			n.Read = true
			return n
		},
		Remote: func(ctx context.Context, _ models.Identity, _ models.Notification) (models.Notification, error) {
			row, err := backend.UpdateOne(ctx, s.be, backend.TableNotifications, notificationID, backend.Row{"read": true})
			if err != nil {
				return models.Notification{}, err
			}
			return backend.Decode[models.Notification](row)
		},
	})
}

// MarkAllAsRead marks every cached unread notification as read in one call
func (s *NotificationStore) MarkAllAsRead(ctx context.Context) error {
	op := "notifications.MarkAllAsRead"
	var unread []string
	for _, n := range s.notifications.List() {
		if !n.Read {
			unread = append(unread, n.ID)
		}
	}
	if len(unread) == 0 {
		_, err := s.coord.Identity(op)
		return err
	}

	return mutation.PerformBatch(ctx, s.coord, s.notifications, mutation.Batch[models.Notification]{
		Op:   op,
		Keys: unread,
		Apply: func(n models.Notification, _ models.Identity) models.Notification {
			n.Read = true
			return n
		},
		Remote: func(ctx context.Context, id models.Identity) error {
			_, err := s.be.Update(ctx, backend.TableNotifications, []backend.Filter{
				backend.Eq("user_id", id.ID),
				backend.Eq("read", false),
			}, backend.Row{"read": true})
			return err
		},
	})
}

// Delete removes a notification
func (s *NotificationStore) Delete(ctx context.Context, notificationID string) error {
	op := "notifications.Delete"
	_, err := mutation.Perform(ctx, s.coord, s.notifications, mutation.Mutation[models.Notification]{
		Op:           op,
		Kind:         mutation.KindDelete,
		Key:          notificationID,
		Precondition: requirePresent[models.Notification](op, "notification "+notificationID),
		Remote: func(ctx context.Context, _ models.Identity, _ models.Notification) (models.Notification, error) {
			n, err := s.be.Delete(ctx, backend.TableNotifications, []backend.Filter{backend.Eq("id", notificationID)})
			if err != nil {
				return models.Notification{}, err
			}
			if n == 0 {
				return models.Notification{}, fmt.Errorf("notification %s: %w", notificationID, backend.ErrNotFound)
			}
			return models.Notification{}, nil
		},
	})
	return err
}

// Notify inserts a notification addressed to userID. The row reaches the
// recipient's cache through the change stream. A notification to the acting
// identity is also written optimistically to its own cache.
func (s *NotificationStore) Notify(ctx context.Context, userID string, typ models.NotificationType, title, body string, payload any) error {
	op := "notifications.Notify"
	if userID == "" {
		return apperrors.Inconsistent(op, "recipient is required")
	}
	row := backend.Row{
		"user_id": userID,
		"type":    string(typ),
		"title":   title,
		"body":    body,
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Inconsistent(op, fmt.Sprintf("encode payload: %v", err))
		}
		raw = json.RawMessage(data)
		row["payload"] = raw
	}

	insert := func(ctx context.Context) (models.Notification, error) {
		created, err := s.be.Insert(ctx, backend.TableNotifications, row)
		if err != nil {
			return models.Notification{}, err
		}
		return backend.Decode[models.Notification](created)
	}

	if userID != s.me() {
		if _, err := insert(ctx); err != nil {
			return apperrors.RemoteRejected(op, err)
		}
	} else {
		_, err := mutation.Perform(ctx, s.coord, s.notifications, mutation.Mutation[models.Notification]{
			Op:   op,
			Kind: mutation.KindCreate,
			Apply: func(_ cache.Entry[models.Notification], id models.Identity, key string) models.Notification {
				return models.Notification{ID: key, UserID: id.ID, Type: typ, Title: title, Body: body, Payload: raw, CreatedAt: s.now()}
			},
			Remote: func(ctx context.Context, _ models.Identity, _ models.Notification) (models.Notification, error) {
				return insert(ctx)
			},
		})
		if err != nil {
			return err
		}
	}
	s.log.Debug().Str("user", userID).Str("type", string(typ)).Msg("Notification sent")
	return nil
}

func (s *NotificationStore) register() {
	if s.ingest == nil {
		return
	}
	realtime.Bind(s.ingest, backend.TableNotifications, s.notifications, realtime.BindOptions[models.Notification]{
		Accept: func(n models.Notification) bool { return n.UserID != "" && n.UserID == s.me() },
	})
}
