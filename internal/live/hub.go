// Package live carries the websocket side of the chat: clients join under a
// user id and receive newMessage events pushed by the delivery engine.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-im/courier/internal/presence"
	"github.com/nexus-im/courier/store/user"
)

const (
	EventJoin = "join"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// statusTimeout bounds the online/offline write done for each join and
	// disconnect, independently of the hub lifetime.
	statusTimeout = 5 * time.Second
)

// Registry is the part of the presence registry the hub drives.
type Registry interface {
	Join(userID string, conn presence.Conn)
	Leave(conn presence.Conn) string
}

type Options struct {
	// SendBuffer is the number of events queued per client before pushes block.
	SendBuffer int
	// MaxFrameSize is the largest inbound frame accepted, in bytes.
	MaxFrameSize int64
}

// Hub owns every live client. Run must be started before ServeWS accepts
// connections; once its context is cancelled every client is closed.
type Hub struct {
	log      *slog.Logger
	registry Registry
	users    user.Store
	opts     Options
	upgrader websocket.Upgrader

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewHub(log *slog.Logger, registry Registry, users user.Store, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 4096
	}
	return &Hub{
		log:      log,
		registry: registry,
		users:    users,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from any origin, as with the REST surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns once ctx is cancelled and every
// client has been told to close.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.log.Info("Live hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.Debug("Client connected", "connection_id", client.id, "addr", client.addr, "clients", len(h.clients))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.log.Debug("Client disconnected", "connection_id", client.id, "clients", len(h.clients))
			}
		}
	}
}

// Wait blocks until Run returned and every client pump has exited, which
// includes the offline status writes of disconnecting clients.
func (h *Hub) Wait() {
	<-h.done
	h.wg.Wait()
}

// ServeWS upgrades the request and hands the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h, conn, r.RemoteAddr)
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// join registers the client for userID and records the user as online.
func (h *Hub) join(client *Client, userID string) {
	h.registry.Join(userID, client)
	h.log.Info("User joined", "user_id", userID, "connection_id", client.id)

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := h.users.MarkOnline(ctx, userID, client.id); err != nil {
		h.log.Error("Failed to mark user online", "user_id", userID, "error", err)
	}
}

// disconnect forgets the client and records its user as offline.
func (h *Hub) disconnect(client *Client) {
	userID := h.registry.Leave(client)
	if !client.joined {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := h.users.MarkOffline(ctx, client.id); err != nil {
		h.log.Error("Failed to mark user offline", "connection_id", client.id, "error", err)
	}
	if userID != "" {
		h.log.Info("User left", "user_id", userID, "connection_id", client.id)
	}
}
