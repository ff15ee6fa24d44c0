package models

import (
	"encoding/json"
	"time"
)

// Message is a direct message between two identities
type Message struct {
	ID         string    `json:"id" db:"id"`
	SenderID   string    `json:"sender_id" db:"sender_id"`
	ReceiverID string    `json:"receiver_id" db:"receiver_id"`
	Content    string    `json:"content" db:"content"`
	Read       bool      `json:"read" db:"read"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Counterparty returns the other side of m as seen by me
func (m Message) Counterparty(me string) string {
	if m.SenderID == me {
		return m.ReceiverID
	}
	return m.SenderID
}

// Conversation is the derived per-counterparty view of the message cache
type Conversation struct {
	Counterparty string  `json:"counterparty"`
	LastMessage  Message `json:"last_message"`
	UnreadCount  int     `json:"unread_count"`
}

// NotificationType names what a notification is about
type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationMessage NotificationType = "message"
	NotificationBadge   NotificationType = "badge"
	NotificationSystem  NotificationType = "system"
)

// Notification is addressed to one recipient
type Notification struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Body      string           `json:"body" db:"body"`
	Payload   json.RawMessage  `json:"payload,omitempty" db:"payload"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}
