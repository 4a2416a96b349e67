// Package chat holds the message delivery engine and the read paths that
// enrich stored conversations and messages with user profiles.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nexus-im/courier/internal/presence"
	"github.com/nexus-im/courier/store/conversation"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

// EventNewMessage is the live event carrying a freshly stored message.
const EventNewMessage = "newMessage"

const (
	DefaultMessageLimit = 50
	DefaultPushTimeout  = 5 * time.Second
	DefaultAvatar       = "https://randomuser.me/api/portraits/men/1.jpg"
	UnknownName         = "Unknown"
)

// Presence resolves a user to its live connections.
type Presence interface {
	ConnectionsFor(userID string) []presence.Conn
}

type Options struct {
	// MessageLimit caps how many messages a listing returns.
	MessageLimit int
	// PushTimeout bounds each live push of a fan-out.
	PushTimeout time.Duration
	// DefaultAvatar replaces the avatar of a profile that is missing or
	// could not be fetched.
	DefaultAvatar string
}

func (o Options) withDefaults() Options {
	if o.MessageLimit <= 0 {
		o.MessageLimit = DefaultMessageLimit
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = DefaultPushTimeout
	}
	if o.DefaultAvatar == "" {
		o.DefaultAvatar = DefaultAvatar
	}
	return o
}

// SendRequest is the input of Send. Whitespace-only fields count as missing.
type SendRequest struct {
	ConversationID string `json:"conversationId" validate:"notblank"`
	SenderID       string `json:"senderId" validate:"notblank"`
	Content        string `json:"content" validate:"notblank"`
}

type Service struct {
	log           *slog.Logger
	conversations conversation.Store
	messages      message.Store
	users         user.Store
	presence      Presence
	validate      *validator.Validate
	opts          Options

	// lanes holds the pending pushes of each connection, drained in order by
	// at most one goroutine per connection.
	lanesMu sync.Mutex
	lanes   map[string]*lane
	// pushes tracks running lane drainers.
	pushes sync.WaitGroup
}

type delivery struct {
	userID string
	msg    message.Message
}

type lane struct {
	conn    presence.Conn
	pending []delivery
}

func NewService(log *slog.Logger, conversations conversation.Store, messages message.Store,
	users user.Store, registry Presence, opts Options) *Service {
	validate := validator.New()
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Service{
		log:           log,
		conversations: conversations,
		messages:      messages,
		users:         users,
		presence:      registry,
		validate:      validate,
		opts:          opts.withDefaults(),
		lanes:         make(map[string]*lane),
	}
}

// Send stores a message, refreshes the conversation summary and pushes the
// stored message to every live connection of every participant.
//
// Only the message insert decides success. A failed summary update is
// logged and left stale. When the conversation disappeared between the
// lookup and the summary update the message is kept but nobody is notified.
// Pushes run in the background after Send returns, in order per connection,
// and are never retried.
func (s *Service) Send(ctx context.Context, req SendRequest) (*message.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: conversationId, senderId, and content are required", ErrInvalidRequest)
	}
	if !canonicalID(req.ConversationID) {
		return nil, fmt.Errorf("%w: conversation %q", ErrNotFound, req.ConversationID)
	}

	convo, err := s.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return nil, fmt.Errorf("%w: conversation %q", ErrNotFound, req.ConversationID)
		}
		return nil, fmt.Errorf("%w: load conversation: %w", ErrStore, err)
	}
	if !convo.HasParticipant(req.SenderID) {
		return nil, fmt.Errorf("%w: %q is not a participant of conversation %q",
			ErrInvalidRequest, req.SenderID, req.ConversationID)
	}

	msg := &message.Message{
		ConversationID: convo.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Timestamp:      message.Now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: create message: %w", ErrStore, err)
	}

	summary := conversation.Summary{Content: msg.Content, SenderID: msg.SenderID, Timestamp: msg.Timestamp}
	if err := s.conversations.UpdateSummary(ctx, convo.ID, summary); err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			s.log.Warn("Conversation vanished before its summary was updated, skipping fan-out",
				"conversation_id", convo.ID, "message_id", msg.ID)
			return msg, nil
		}
		s.log.Error("Failed to update conversation summary",
			"conversation_id", convo.ID, "message_id", msg.ID, "error", err)
	}

	s.fanout(ctx, *msg, convo.Participants)
	return msg, nil
}

// fanout queues msg on the lane of every live connection of every
// participant. Each connection receives its messages in the order Send
// queued them; a slow connection only delays its own lane.
func (s *Service) fanout(ctx context.Context, msg message.Message, participants []string) {
	detached := context.WithoutCancel(ctx)
	for _, userID := range lo.Uniq(participants) {
		for _, conn := range s.presence.ConnectionsFor(userID) {
			s.enqueue(detached, conn, delivery{userID: userID, msg: msg})
		}
	}
}

func (s *Service) enqueue(ctx context.Context, conn presence.Conn, d delivery) {
	s.lanesMu.Lock()
	defer s.lanesMu.Unlock()

	if l, ok := s.lanes[conn.ID()]; ok {
		l.pending = append(l.pending, d)
		return
	}
	l := &lane{conn: conn, pending: []delivery{d}}
	s.lanes[conn.ID()] = l
	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()
		s.drain(ctx, l)
	}()
}

// drain pushes the lane's deliveries one at a time, each bounded by
// PushTimeout, and retires the lane once it is empty.
func (s *Service) drain(ctx context.Context, l *lane) {
	for {
		s.lanesMu.Lock()
		if len(l.pending) == 0 {
			delete(s.lanes, l.conn.ID())
			s.lanesMu.Unlock()
			return
		}
		d := l.pending[0]
		l.pending = l.pending[1:]
		s.lanesMu.Unlock()

		pushCtx, cancel := context.WithTimeout(ctx, s.opts.PushTimeout)
		if err := l.conn.Push(pushCtx, EventNewMessage, d.msg); err != nil {
			s.log.Debug("Live push dropped",
				"user_id", d.userID, "connection_id", l.conn.ID(), "message_id", d.msg.ID, "error", err)
		}
		cancel()
	}
}

// canonicalID reports whether id is a UUID in the hyphenated lowercase form
// conversation ids are stored under. URN, braced and unhyphenated spellings
// are rejected so every driver sees the same key.
func canonicalID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// Wait blocks until every background push started so far has finished.
func (s *Service) Wait() {
	s.pushes.Wait()
}
