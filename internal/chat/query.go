package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/nexus-im/courier/store/conversation"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

// ConversationView is a conversation as listed for one of its participants.
type ConversationView struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Avatar      string                `json:"avatar"`
	LastMessage *conversation.Summary `json:"lastMessage"`
	Time        time.Time             `json:"time"`
	Unread      int                   `json:"unread"`
}

// MessageView is a stored message with its sender's avatar.
type MessageView struct {
	message.Message
	Avatar string `json:"avatar"`
}

type profile struct {
	name   string
	avatar string
}

// profiles fetches each distinct id once, in order. A missing or failing
// profile degrades to the placeholder instead of failing the listing.
func (s *Service) profiles(ctx context.Context, ids []string) map[string]profile {
	out := make(map[string]profile, len(ids))
	for _, id := range lo.Uniq(ids) {
		p, err := s.lookup(ctx, id)
		if err != nil {
			s.log.Warn("Using placeholder profile", "user_id", id, "error", err)
		}
		out[id] = p
	}
	return out
}

func (s *Service) lookup(ctx context.Context, id string) (profile, error) {
	placeholder := profile{name: UnknownName, avatar: s.opts.DefaultAvatar}
	if id == "" {
		return placeholder, nil
	}

	u, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return placeholder, nil
		}
		return placeholder, fmt.Errorf("%w: %w", ErrExternalLookup, err)
	}
	p := profile{name: u.Username, avatar: u.Avatar}
	if p.name == "" {
		p.name = placeholder.name
	}
	if p.avatar == "" {
		p.avatar = placeholder.avatar
	}
	return p, nil
}

// ListConversations returns the conversations of userID, most recently
// active first, each named after its peer and carrying the unread count
// seen by userID.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	convos, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversations: %w", ErrStore, err)
	}

	peers := lo.Map(convos, func(c conversation.Conversation, _ int) string { return c.Peer(userID) })
	profiles := s.profiles(ctx, peers)

	views := make([]ConversationView, 0, len(convos))
	for i, c := range convos {
		unread, err := s.messages.CountUnread(ctx, c.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: count unread: %w", ErrStore, err)
		}
		p := profiles[peers[i]]
		views = append(views, ConversationView{
			ID:          c.ID,
			Name:        p.name,
			Avatar:      p.avatar,
			LastMessage: c.LastMessage,
			Time:        c.ActivityAt(),
			Unread:      unread,
		})
	}
	return views, nil
}

// ListMessages returns at most MessageLimit of the most recent messages of a
// conversation in q.Order, each with its sender's avatar. An unknown
// conversation yields an empty list; a malformed id is ErrNotFound.
func (s *Service) ListMessages(ctx context.Context, conversationID string, q message.Query) ([]MessageView, error) {
	if !canonicalID(conversationID) {
		return nil, fmt.Errorf("%w: conversation %q", ErrNotFound, conversationID)
	}
	if q.Order == "" {
		q.Order = message.OrderChronological
	}
	if q.Limit <= 0 || q.Limit > s.opts.MessageLimit {
		q.Limit = s.opts.MessageLimit
	}

	messages, err := s.messages.List(ctx, conversationID, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", ErrStore, err)
	}

	senders := lo.Map(messages, func(m message.Message, _ int) string { return m.SenderID })
	profiles := s.profiles(ctx, senders)

	return lo.Map(messages, func(m message.Message, _ int) MessageView {
		return MessageView{Message: m, Avatar: profiles[m.SenderID].avatar}
	}), nil
}

// CreateConversation opens a conversation between at least two distinct
// participants and returns it with its assigned id.
func (s *Service) CreateConversation(ctx context.Context, participants []string) (*conversation.Conversation, error) {
	normalized, err := conversation.NormalizeParticipants(participants)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	convo := &conversation.Conversation{Participants: normalized}
	if err := s.conversations.Create(ctx, convo); err != nil {
		if errors.Is(err, conversation.ErrTooFewParticipants) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("%w: create conversation: %w", ErrStore, err)
	}
	s.log.Info("Conversation created", "conversation_id", convo.ID, "participants", len(convo.Participants))
	return convo, nil
}
