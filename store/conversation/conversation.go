//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../../mocks/mock_conversation_store.go -package=mocks -mock_names=Store=MockConversationStore
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Summary is the denormalized snapshot of the most recent message of a conversation.
type Summary struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation represents a chat thread between a fixed set of participants.
type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	LastMessage  *Summary  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ActivityAt is the key conversation lists are ordered by: the last message
// timestamp when one exists, the creation time otherwise.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

// HasParticipant reports whether userID is one of the participants.
func (c Conversation) HasParticipant(userID string) bool {
	return lo.Contains(c.Participants, userID)
}

// Peer returns the first participant other than userID, or "" when there is none.
func (c Conversation) Peer(userID string) string {
	peer, _ := lo.Find(c.Participants, func(id string) bool { return id != userID })
	return peer
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTooFewParticipants   = errors.New("conversation needs at least two distinct participants")
)

// Store defines conversation persistence operations.
type Store interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	Create(ctx context.Context, convo *Conversation) error
	UpdateSummary(ctx context.Context, id string, summary Summary) error
	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
}

// NormalizeParticipants trims ids, drops blanks and duplicates while keeping
// the first-seen order.
func NormalizeParticipants(ids []string) ([]string, error) {
	cleaned := lo.Uniq(lo.FilterMap(ids, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	}))
	if len(cleaned) < 2 {
		return nil, ErrTooFewParticipants
	}
	return cleaned, nil
}

func byActivityDesc(a, b Conversation) int {
	if c := b.ActivityAt().Compare(a.ActivityAt()); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
