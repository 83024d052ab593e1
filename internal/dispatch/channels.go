package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/nexus-chat-server/internal/bus"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/readstatus"
)

// Channels addresses users' private channels over the bus. A user with
// several connections, on any node, receives each event on all of them.
type Channels struct {
	bus    bus.Messenger
	prefix string
	log    logger.Logger
}

func NewChannels(m bus.Messenger, prefix string, log logger.Logger) *Channels {
	return &Channels{
		bus:    m,
		prefix: prefix,
		log:    logger.OrNop(log).With("component", "channels"),
	}
}

// SendToUser publishes env on userID's private channel.
func (c *Channels) SendToUser(ctx context.Context, userID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("dispatch: encode envelope: %w", err)
	}
	if err := c.bus.Publish(ctx, bus.UserSubject(c.prefix, userID), data); err != nil {
		return fmt.Errorf("dispatch: send to %s: %w", userID, err)
	}
	return nil
}

// NotifyMessagesRead sends a messagesRead event to the sender.
func (c *Channels) NotifyMessagesRead(ctx context.Context, recipientID string, n readstatus.Notification) error {
	env, err := NewEnvelope(EventMessagesRead, n)
	if err != nil {
		return err
	}
	return c.SendToUser(ctx, recipientID, env)
}

// SubscribeUser calls deliver with every envelope published to userID.
// Frames that do not decode are dropped.
func (c *Channels) SubscribeUser(ctx context.Context, userID string, deliver func(Envelope)) (bus.Subscription, error) {
	return c.bus.Subscribe(ctx, bus.UserSubject(c.prefix, userID), func(_ context.Context, data []byte) {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("undecodable channel frame", "userId", userID, "error", err)
			return
		}
		deliver(env)
	})
}

var _ readstatus.Notifier = (*Channels)(nil)
