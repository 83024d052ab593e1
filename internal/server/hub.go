package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/bus"
	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/metrics"
)

// UserChannels subscribes to a user's private channel.
type UserChannels interface {
	SubscribeUser(ctx context.Context, userID string, deliver func(dispatch.Envelope)) (bus.Subscription, error)
}

// Hub owns the WebSocket clients of this process, grouped by user. The
// first connection of a user subscribes to the user's private channel and
// the last one to leave drops the subscription, so every event on the
// channel reaches all of the user's local connections exactly once.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	subs       map[string]bus.Subscription // touched only by Run
	register   chan *Client
	unregister chan *Client
	channels   UserChannels
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	metrics    *metrics.Registry
	log        logger.Logger
}

func NewHub(channels UserChannels, reg *metrics.Registry, log logger.Logger) *Hub {
	if reg == nil {
		reg = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		subs:       make(map[string]bus.Subscription),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   channels,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		metrics:    reg,
		log:        logger.OrNop(log).With("component", "hub"),
	}
}

// Register hands c to the hub, which starts its pumps. It reports false
// when the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}
			h.add(client)

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
			h.remove(client)
		}
	}
}

func (h *Hub) add(c *Client) {
	// Subscribe before the client becomes visible so that a registered
	// connection never misses an event on its channel.
	if _, subscribed := h.subs[c.caller.UserID]; !subscribed {
		h.subscribe(c)
	}

	h.mutex.Lock()
	set, ok := h.clients[c.caller.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.caller.UserID] = set
	}
	c.closed = false
	set[c] = struct{}{}
	userConns := len(set)
	h.mutex.Unlock()

	h.metrics.ConnectionsActive.Inc()
	h.log.Info("client registered", "userId", c.caller.UserID, "connectionId", c.caller.ConnectionID, "addr", c.addr, "userConnections", userConns)
}

func (h *Hub) subscribe(c *Client) {
	userID := c.caller.UserID
	sub, err := h.channels.SubscribeUser(h.ctx, userID, func(env dispatch.Envelope) {
		data, err := json.Marshal(env)
		if err != nil {
			h.log.Error("channel event not encoded", "userId", userID, "event", env.Event, "error", err)
			return
		}
		h.DeliverToUser(userID, data)
	})
	if err != nil {
		// Without its channel the connection would never see notifications.
		h.log.Error("private channel subscription failed", "op", "subscribe", "userId", userID, "error", err)
		c.closeConnection()
		return
	}
	h.subs[userID] = sub
}

func (h *Hub) remove(c *Client) {
	userID := c.caller.UserID

	h.mutex.Lock()
	set, ok := h.clients[userID]
	if _, registered := set[c]; !ok || !registered {
		h.mutex.Unlock()
		return
	}
	delete(set, c)
	c.closed = true
	last := len(set) == 0
	if last {
		delete(h.clients, userID)
	}
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(c.send)
	h.metrics.ConnectionsActive.Dec()
	h.log.Info("client unregistered", "userId", userID, "connectionId", c.caller.ConnectionID, "addr", c.addr)

	if last {
		h.unsubscribe(userID)
	}
}

func (h *Hub) unsubscribe(userID string) {
	sub, ok := h.subs[userID]
	if !ok {
		return
	}
	delete(h.subs, userID)
	if err := sub.Unsubscribe(); err != nil {
		h.log.Warn("private channel unsubscribe failed", "op", "unsubscribe", "userId", userID, "error", err)
	}
}

// DeliverToUser queues payload on every local connection of userID and
// returns how many accepted it. A connection whose buffer is full is
// closed; its read pump then unregisters it.
func (h *Hub) DeliverToUser(userID string, payload []byte) int {
	delivered := 0
	for _, c := range h.userClients(userID) {
		if h.send(c, payload) {
			delivered++
			continue
		}
		h.dropSlow(c)
	}
	return delivered
}

func (h *Hub) userClients(userID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		clients = append(clients, c)
	}
	return clients
}

// send queues message for c without blocking. The read lock is held for
// the whole send so remove cannot close the channel underneath it.
func (h *Hub) send(c *Client, message []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, registered := h.clients[c.caller.UserID][c]; !registered || c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (h *Hub) dropSlow(c *Client) {
	h.mutex.RLock()
	_, registered := h.clients[c.caller.UserID][c]
	h.mutex.RUnlock()
	if !registered {
		return
	}
	h.log.Warn("closing slow client", "userId", c.caller.UserID, "connectionId", c.caller.ConnectionID, "addr", c.addr)
	c.closeConnection()
}

// Connections returns the number of local connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[userID])
}

// shutdownClients closes every connection and releases every channel
// subscription.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	var clients []*Client
	for userID, set := range h.clients {
		for c := range set {
			c.closed = true
			clients = append(clients, c)
		}
		delete(h.clients, userID)
	}
	h.mutex.Unlock()

	for _, c := range clients {
		c.closeConnection()
		close(c.send)
		h.metrics.ConnectionsActive.Dec()
	}
	for userID := range h.subs {
		h.unsubscribe(userID)
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for every client goroutine to finish,
// or until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutting down")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out, some client goroutines may still be running")
		return context.DeadlineExceeded
	}
}
