//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../../mocks/mock_user_store.go -package=mocks -mock_names=Store=MockUserStore
package user

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// User is the profile shown next to conversations and messages, plus the
// presence status written through by the live transport.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar"`
	Status       Status    `json:"status"`
	ConnectionID string    `json:"connectionId,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var ErrUserNotFound = errors.New("user not found")

// Store defines profile lookup and presence status operations.
type Store interface {
	Get(ctx context.Context, id string) (*User, error)
	// Save creates or replaces the profile fields (username, avatar) of u.
	Save(ctx context.Context, u *User) error
	// MarkOnline records that id is reachable through connectionID, creating
	// a bare profile when none exists. Any other user still holding
	// connectionID is marked offline.
	MarkOnline(ctx context.Context, id, connectionID string) error
	// MarkOffline clears the user holding connectionID. No match is not an error.
	MarkOffline(ctx context.Context, connectionID string) error
}
