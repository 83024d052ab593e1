package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// FrameHandler processes one inbound frame of an authenticated connection.
type FrameHandler interface {
	Handle(ctx context.Context, caller dispatch.Caller, raw []byte, reply dispatch.Reply)
}

// Client is one authenticated WebSocket connection. Its identity is fixed
// at upgrade time and every frame it reads is handled as that caller.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	handler        FrameHandler
	caller         dispatch.Caller
	addr           string
	closed         bool // guarded by hub.mutex
	maxMessageSize int64
	throttle       *frameThrottle
	onClose        func()
	log            logger.Logger
}

func newClient(conn *websocket.Conn, hub *Hub, handler FrameHandler, caller dispatch.Caller, addr string, opts Options, log logger.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	return &Client{
		conn:           conn,
		send:           make(chan []byte, opts.SendBuffer),
		hub:            hub,
		handler:        handler,
		caller:         caller,
		addr:           addr,
		maxMessageSize: opts.MaxMessageSize,
		throttle:       newFrameThrottle(opts.Throttle.Burst, opts.Throttle.RefillInterval),
		log:            logger.OrNop(log).With("userId", caller.UserID, "connectionId", caller.ConnectionID),
	}
}

// UserID returns the authenticated user of the connection.
func (c *Client) UserID() string {
	return c.caller.UserID
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.caller.ConnectionID
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("setting initial read deadline failed", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", "maxBytes", c.maxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client disconnected", "error", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug("client connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", "error", err)
	default:
		c.log.Debug("websocket read ended", "error", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.closeConnection()
		if c.onClose != nil {
			c.onClose()
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.throttle.allow() {
			c.hub.metrics.FramesDropped.Inc()
			c.log.Debug("frame throttled; discarding")
			continue
		}

		c.handler.Handle(c.hub.ctx, c.caller, raw, c.reply)
	}
}

// reply queues env for this connection only.
func (c *Client) reply(env dispatch.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error("reply not encoded", "event", env.Event, "error", err)
		return
	}
	if !c.hub.send(c, data) {
		c.hub.dropSlow(c)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when
// the pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("closing connection failed", "error", err)
	}
}

// handleMessage writes one outbound frame. Each event is its own frame.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("writing close frame failed", "error", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("writing frame failed", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("writing ping failed", "error", err)
		return false
	}
	return true
}
