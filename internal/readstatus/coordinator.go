// Package readstatus applies read receipts in bulk and tells the original
// senders, and only them, that their messages were read.
package readstatus

import (
	"context"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/logger"
)

// MessageStore is the part of the message database the coordinator needs.
type MessageStore interface {
	// MarkRead adds userID as a reader of every listed message it has not
	// read yet, as one conditional bulk update, and returns the ids touched.
	MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) ([]string, error)
	// FindSenders maps message ids to their sender ids.
	FindSenders(ctx context.Context, messageIDs []string) (map[string]string, error)
}

// Notification is the payload a sender receives on their private channel.
type Notification struct {
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

// Notifier delivers a notification to one user's private channel.
type Notifier interface {
	NotifyMessagesRead(ctx context.Context, recipientID string, n Notification) error
}

// Result reports what one MarkRead call did. Callers may ignore it; it
// exists so failures on this best-effort path are observable.
type Result struct {
	// Updated lists the messages that gained the reader in this call.
	Updated []string
	// Notified counts notifications delivered to senders.
	Notified int
	// Failed counts notifications that could not be delivered.
	Failed int
	// Err is the store error that stopped the call, if any.
	Err error
}

// Coordinator marks messages read and notifies their senders.
type Coordinator struct {
	store    MessageStore
	notifier Notifier
	log      logger.Logger
	now      func() time.Time
}

func New(store MessageStore, notifier Notifier, log logger.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		notifier: notifier,
		log:      logger.OrNop(log).With("component", "readstatus"),
		now:      time.Now,
	}
}

// MarkRead records userID as a reader of messageIDs. An empty id list or
// user id does nothing. Store errors are logged and reported in the
// Result, never returned.
//
// Only messages newly marked by this call produce notifications, so a
// repeated call stays silent. Each distinct sender gets one notification
// listing their messages in input order; users reading their own messages
// are not notified.
func (c *Coordinator) MarkRead(ctx context.Context, messageIDs []string, userID string) Result {
	if len(messageIDs) == 0 || userID == "" {
		return Result{}
	}

	updated, err := c.store.MarkRead(ctx, messageIDs, userID, c.now().UTC())
	if err != nil {
		c.log.Error("bulk read update failed", "op", "markRead", "userId", userID, "messages", len(messageIDs), "error", err)
		return Result{Err: err}
	}
	res := Result{Updated: updated}
	if len(updated) == 0 {
		return res
	}

	senders, err := c.store.FindSenders(ctx, updated)
	if err != nil {
		c.log.Error("sender lookup failed", "op", "markRead", "userId", userID, "error", err)
		res.Err = err
		return res
	}

	for _, g := range groupBySender(messageIDs, updated, senders, userID) {
		n := Notification{UserID: userID, MessageIDs: g.messageIDs}
		if err := c.notifier.NotifyMessagesRead(ctx, g.senderID, n); err != nil {
			c.log.Warn("read notification not delivered", "op", "markRead", "userId", userID, "senderId", g.senderID, "error", err)
			res.Failed++
			continue
		}
		res.Notified++
	}
	return res
}

type senderGroup struct {
	senderID   string
	messageIDs []string
}

// groupBySender orders groups by the first appearance of each sender in
// input and keeps input order inside each group.
func groupBySender(input, updated []string, senders map[string]string, readerID string) []senderGroup {
	fresh := make(map[string]bool, len(updated))
	for _, id := range updated {
		fresh[id] = true
	}

	var groups []senderGroup
	index := make(map[string]int)
	for _, id := range input {
		if !fresh[id] {
			continue
		}
		fresh[id] = false

		sender, ok := senders[id]
		if !ok || sender == "" || sender == readerID {
			continue
		}
		i, ok := index[sender]
		if !ok {
			i = len(groups)
			index[sender] = i
			groups = append(groups, senderGroup{senderID: sender})
		}
		groups[i].messageIDs = append(groups[i].messageIDs, id)
	}
	return groups
}
