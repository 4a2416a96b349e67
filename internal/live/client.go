package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by Push once the client is gone.
var ErrClientClosed = errors.New("live client closed")

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket connection. It satisfies presence.Conn.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	addr string

	// joined is only touched by the read pump.
	joined bool

	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func newClient(hub *Hub, conn *websocket.Conn, addr string) *Client {
	conn.SetReadLimit(hub.opts.MaxFrameSize)
	return &Client{
		hub:  hub,
		conn: conn,
		id:   uuid.NewString(),
		addr: addr,
		send: make(chan []byte, hub.opts.SendBuffer),
		quit: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Push queues an event for the client. It blocks while the send buffer is
// full, until ctx is done or the client closes.
func (c *Client) Push(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.quit:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the write pump. Only the hub calls it.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.hub.log.Warn("Invalid frame", "connection_id", c.id, "error", err)
		return
	}

	switch envelope.Event {
	case EventJoin:
		var userID string
		if err := json.Unmarshal(envelope.Data, &userID); err != nil || strings.TrimSpace(userID) == "" {
			c.hub.log.Warn("Join without a user id", "connection_id", c.id)
			return
		}
		c.joined = true
		c.hub.join(c, userID)
	default:
		c.hub.log.Debug("Ignoring event", "event", envelope.Event, "connection_id", c.id)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.hub.log.Warn("Frame exceeded maximum size", "connection_id", c.id, "max_bytes", c.hub.opts.MaxFrameSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
		errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.hub.log.Debug("Connection closed", "connection_id", c.id, "error", err)
	default:
		c.hub.log.Warn("WebSocket read error", "connection_id", c.id, "addr", c.addr, "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.log.Debug("Write failed", "connection_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
