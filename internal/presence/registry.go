// Package presence tracks which live connections currently speak for which
// user. State is process-lifetime only.
package presence

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Conn is a live connection able to receive pushed events.
type Conn interface {
	ID() string
	Push(ctx context.Context, event string, payload any) error
}

// Mode selects how repeated joins for the same user are resolved.
type Mode string

const (
	// ModeSingle keeps only the most recently joined connection of a user.
	ModeSingle Mode = "single"
	// ModeMulti keeps every joined connection of a user.
	ModeMulti Mode = "multi"
)

// ParseMode maps a configuration value to a Mode. Empty means ModeSingle.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeMulti:
		return ModeMulti, nil
	default:
		return "", fmt.Errorf("unknown presence mode %q", s)
	}
}

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	users map[string][]Conn
}

// Registry maps user ids to their live connections.
//
// Mutations of a user lock only the shard its id hashes to. A reverse index
// from connection id to user id lets Leave find the owning entry.
type Registry struct {
	mode   Mode
	shards [shardCount]*shard
	owners sync.Map // connection id -> user id
	online atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(mode Mode) *Registry {
	r := &Registry{mode: mode}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string][]Conn)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[xxhash.Sum64String(userID)%shardCount]
}

// Join registers conn for userID. A conn previously joined under another
// user is detached from it first.
func (r *Registry) Join(userID string, conn Conn) {
	if previous, ok := r.owners.Load(conn.ID()); ok && previous.(string) != userID {
		r.detach(previous.(string), conn.ID())
	}
	r.owners.Store(conn.ID(), userID)

	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.users[userID]
	if len(conns) == 0 {
		r.online.Add(1)
	}

	if r.mode == ModeMulti {
		if slices.ContainsFunc(conns, func(c Conn) bool { return c.ID() == conn.ID() }) {
			return
		}
		s.users[userID] = append(conns, conn)
		return
	}

	for _, c := range conns {
		if c.ID() != conn.ID() {
			r.owners.CompareAndDelete(c.ID(), userID)
		}
	}
	s.users[userID] = []Conn{conn}
}

// Leave removes conn and returns the user it was registered for, or "" when
// it was unknown or had already been superseded by a newer join.
func (r *Registry) Leave(conn Conn) string {
	owner, ok := r.owners.LoadAndDelete(conn.ID())
	if !ok {
		return ""
	}
	userID := owner.(string)
	if !r.detach(userID, conn.ID()) {
		return ""
	}
	return userID
}

// detach removes connID from userID's entry and reports whether it was there.
func (r *Registry) detach(userID, connID string) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.users[userID]
	i := slices.IndexFunc(conns, func(c Conn) bool { return c.ID() == connID })
	if i < 0 {
		return false
	}
	conns = slices.Delete(slices.Clone(conns), i, i+1)
	if len(conns) == 0 {
		delete(s.users, userID)
		r.online.Add(-1)
		return true
	}
	s.users[userID] = conns
	return true
}

// ConnectionsFor returns a snapshot of the connections registered for userID.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.users[userID])
}

// Online returns the number of users with at least one connection.
func (r *Registry) Online() int {
	return int(r.online.Load())
}
