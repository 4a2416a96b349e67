// Package httpapi exposes the chat over REST and mounts the websocket
// endpoint next to it.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nexus-im/courier/internal/chat"
	"github.com/nexus-im/courier/store/conversation"
	"github.com/nexus-im/courier/store/message"
)

// Chat is the part of chat.Service served over REST.
type Chat interface {
	Send(ctx context.Context, req chat.SendRequest) (*message.Message, error)
	ListConversations(ctx context.Context, userID string) ([]chat.ConversationView, error)
	ListMessages(ctx context.Context, conversationID string, q message.Query) ([]chat.MessageView, error)
	CreateConversation(ctx context.Context, participants []string) (*conversation.Conversation, error)
}

// Pinger checks that the durable store answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DefaultMaxBodySize caps JSON request bodies when Options leaves it unset.
const DefaultMaxBodySize = 64 << 10

type Options struct {
	// MaxBodySize is the largest request body accepted, in bytes.
	MaxBodySize int64
}

type API struct {
	log     *slog.Logger
	chat    Chat
	ping    Pinger
	maxBody int64
}

// Router serves the route table and counts the requests it is serving so
// shutdown can wait for them before the store goes away.
type Router struct {
	handler  http.Handler
	inflight sync.WaitGroup
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.inflight.Add(1)
	defer rt.inflight.Done()
	rt.handler.ServeHTTP(w, r)
}

// Wait blocks until every request being served has returned.
func (rt *Router) Wait() {
	rt.inflight.Wait()
}

// NewRouter builds the route table. live serves GET /ws and may be nil.
func NewRouter(log *slog.Logger, svc Chat, ping Pinger, live http.Handler, opts Options) *Router {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	api := &API{log: log, chat: svc, ping: ping, maxBody: opts.MaxBodySize}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", api.handleIndex)
	mux.HandleFunc("GET /ping", api.handlePing)
	mux.HandleFunc("POST /messages", api.handleSendMessage)
	mux.HandleFunc("GET /messages/{conversationId}", api.handleListMessages)
	mux.HandleFunc("GET /conversations/{userId}", api.handleListConversations)
	mux.HandleFunc("POST /conversations", api.handleCreateConversation)
	if live != nil {
		mux.Handle("GET /ws", live)
	}
	mux.HandleFunc("/", api.handleNotFound)

	return &Router{handler: recoverer(log, logRequests(log, mux))}
}
