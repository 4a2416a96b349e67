//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../../mocks/mock_message_store.go -package=mocks -mock_names=Store=MockMessageStore
package message

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is an immutable chat message. Timestamp is assigned by the server
// and is the only ordering key.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	IsRead         bool      `json:"isRead"`
}

// Order selects how List returns the most recent messages of a conversation.
type Order string

const (
	// OrderChronological returns messages oldest first (conversation detail view).
	OrderChronological Order = "asc"
	// OrderRecent returns messages newest first (preview view).
	OrderRecent Order = "desc"
)

// ParseOrder maps the query string value to an Order. Empty means chronological.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderChronological:
		return OrderChronological, nil
	case OrderRecent:
		return OrderRecent, nil
	default:
		return "", fmt.Errorf("unknown order %q", s)
	}
}

// Query bounds a List call to the Limit most recent messages.
type Query struct {
	Order Order
	Limit int
}

// Store defines message persistence and read-state operations.
type Store interface {
	Create(ctx context.Context, msg *Message) error
	List(ctx context.Context, conversationID string, q Query) ([]Message, error)
	CountUnread(ctx context.Context, conversationID, viewerID string) (int, error)
}

// Now returns the current UTC time rounded up to the microsecond, the
// precision Postgres keeps, so a stored timestamp is never earlier than the
// moment it was taken.
func Now() time.Time {
	now := time.Now().UTC()
	ts := now.Truncate(time.Microsecond)
	if ts.Before(now) {
		ts = ts.Add(time.Microsecond)
	}
	return ts
}
