package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/bus"
	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb/chatdbtest"
	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
	"github.com/Tyrowin/nexus-chat-server/internal/keyedstore"
	"github.com/Tyrowin/nexus-chat-server/internal/membership"
	"github.com/Tyrowin/nexus-chat-server/internal/metrics"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
	"github.com/Tyrowin/nexus-chat-server/internal/ratelimit"
	"github.com/Tyrowin/nexus-chat-server/internal/readstatus"
	"github.com/Tyrowin/nexus-chat-server/internal/session"
	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore/sharedstoretest"
)

type inbox struct {
	mu     sync.Mutex
	frames map[string][]dispatch.Envelope
}

func (i *inbox) add(userID string, env dispatch.Envelope) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.frames[userID] = append(i.frames[userID], env)
}

func (i *inbox) of(userID string) []dispatch.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]dispatch.Envelope(nil), i.frames[userID]...)
}

type harness struct {
	db      *chatdb.DB
	disp    *dispatch.Dispatcher
	metrics *metrics.Registry
	inbox   *inbox
	tokens  map[string]string
}

type options struct {
	max     int64
	limiter ratelimit.Limiter
}

// newHarness wires every component the way the server does, with the
// shared variants on miniredis and the in-process bus.
func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	ctx := context.Background()

	client, _ := sharedstoretest.New(t)
	db := chatdbtest.Open(t)

	require.NoError(t, db.CreateUser(ctx, chat.User{ID: "A", Name: "Alice"}))
	require.NoError(t, db.CreateUser(ctx, chat.User{ID: "B", Name: "Bob"}))
	require.NoError(t, db.CreateUser(ctx, chat.User{ID: "C", Name: "Carol"}))
	require.NoError(t, db.CreateRoom(ctx, chat.Room{ID: "r", Name: "general", CreatorID: "A", ParticipantIDs: []string{"B"}}))
	require.NoError(t, db.CreateRoom(ctx, chat.Room{ID: "private", CreatorID: "C"}))
	require.NoError(t, db.CreateMessage(ctx, chat.Message{ID: "m1", RoomID: "r", SenderID: "A"}))
	require.NoError(t, db.CreateMessage(ctx, chat.Message{ID: "m2", RoomID: "r", SenderID: "A"}))

	auth, err := session.NewAuthenticator(
		session.NewSharedStore(client, 0, nil),
		session.AuthConfig{Secret: []byte("dispatch-test"), SingleSession: true},
		nil,
	)
	require.NoError(t, err)

	messenger := bus.NewInMem()
	t.Cleanup(func() { _ = messenger.Close() })
	channels := dispatch.NewChannels(messenger, "test", nil)

	limiter := opts.limiter
	if limiter == nil {
		limiter = ratelimit.NewShared(client, 0, nil)
	}

	reg := metrics.New()
	h := &harness{
		db:      db,
		metrics: reg,
		inbox:   &inbox{frames: map[string][]dispatch.Envelope{}},
		tokens:  map[string]string{},
		disp: dispatch.New(dispatch.Deps{
			Sessions:     auth,
			Limiter:      limiter,
			MaxPerWindow: opts.max,
			Reads:        readstatus.New(db, channels, nil),
			Rooms:        membership.New(db, nil),
			Presence:     presence.New(keyedstore.NewShared(client), "node-1", nil),
			Metrics:      reg,
		}),
	}

	for _, user := range []string{"A", "B", "C", "ghost"} {
		token, _, err := auth.Login(ctx, user, session.Meta{})
		require.NoError(t, err)
		h.tokens[user] = token

		u := user
		_, err = channels.SubscribeUser(ctx, u, func(env dispatch.Envelope) { h.inbox.add(u, env) })
		require.NoError(t, err)
	}
	return h
}

// send runs one event as user and returns what came back to the caller.
func (h *harness) send(t *testing.T, user, event string, data any) []dispatch.Envelope {
	t.Helper()
	env, err := dispatch.NewEnvelope(event, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var replies []dispatch.Envelope
	caller := dispatch.Caller{UserID: user, Token: h.tokens[user], ConnectionID: "conn-" + user}
	h.disp.Handle(context.Background(), caller, raw, func(e dispatch.Envelope) {
		replies = append(replies, e)
	})
	return replies
}

func errorMessage(t *testing.T, replies []dispatch.Envelope) string {
	t.Helper()
	require.Len(t, replies, 1)
	require.Equal(t, dispatch.EventError, replies[0].Event)
	var p dispatch.ErrorPayload
	require.NoError(t, replies[0].Decode(&p))
	return p.Message
}

func (h *harness) readers(t *testing.T, id string) []string {
	t.Helper()
	rs, err := h.db.Readers(context.Background(), id)
	require.NoError(t, err)
	out := []string{}
	for _, r := range rs {
		out = append(out, r.UserID)
	}
	return out
}

// TestMarkReadNotifiesOnlySender is the two-message scenario: B reads A's
// messages and only A hears about it, once.
func TestMarkReadNotifiesOnlySender(t *testing.T) {
	h := newHarness(t, options{})

	replies := h.send(t, "B", dispatch.EventMarkMessagesAsRead, dispatch.MarkAsReadRequest{MessageIDs: []string{"m1", "m2"}})
	assert.Empty(t, replies, "success sends nothing back")

	assert.Equal(t, []string{"B"}, h.readers(t, "m1"))
	assert.Equal(t, []string{"B"}, h.readers(t, "m2"))

	toA := h.inbox.of("A")
	require.Len(t, toA, 1)
	assert.Equal(t, dispatch.EventMessagesRead, toA[0].Event)
	var n readstatus.Notification
	require.NoError(t, toA[0].Decode(&n))
	assert.Equal(t, readstatus.Notification{UserID: "B", MessageIDs: []string{"m1", "m2"}}, n)

	assert.Empty(t, h.inbox.of("B"))
	assert.Empty(t, h.inbox.of("C"))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ReadsMarked))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsTotal.WithLabelValues(dispatch.EventMarkMessagesAsRead, "ok")))
}

// TestMarkReadTwiceIsSilent repeats the call: same readers, no new notification.
func TestMarkReadTwiceIsSilent(t *testing.T) {
	h := newHarness(t, options{})
	req := dispatch.MarkAsReadRequest{MessageIDs: []string{"m1", "m2"}}

	h.send(t, "B", dispatch.EventMarkMessagesAsRead, req)
	first, err := h.db.FindMessageByID(context.Background(), "m1")
	require.NoError(t, err)

	assert.Empty(t, h.send(t, "B", dispatch.EventMarkMessagesAsRead, req))

	second, err := h.db.FindMessageByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, first.Readers, second.Readers)
	assert.Len(t, h.inbox.of("A"), 1)
}

// TestMarkReadOutsiderDenied rejects C, who is not in the room, without
// touching any message.
func TestMarkReadOutsiderDenied(t *testing.T) {
	h := newHarness(t, options{})

	replies := h.send(t, "C", dispatch.EventMarkMessagesAsRead, dispatch.MarkAsReadRequest{MessageIDs: []string{"m1", "m2"}})
	assert.Equal(t, "Room access denied", errorMessage(t, replies))

	assert.Empty(t, h.readers(t, "m1"))
	assert.Empty(t, h.readers(t, "m2"))
	assert.Empty(t, h.inbox.of("A"))
	assert.Empty(t, h.inbox.of("C"), "errors go to the requester, not its channel")
}

// TestMarkReadRejections maps each failed precondition to its message.
func TestMarkReadRejections(t *testing.T) {
	h := newHarness(t, options{})

	tests := []struct {
		name string
		user string
		data any
		want string
	}{
		{"empty ids", "B", dispatch.MarkAsReadRequest{}, "Invalid request"},
		{"blank first id", "B", dispatch.MarkAsReadRequest{MessageIDs: []string{""}}, "Invalid request"},
		{"wrong payload shape", "B", []int{1, 2}, "Invalid request"},
		{"unknown message", "B", dispatch.MarkAsReadRequest{MessageIDs: []string{"nope"}}, "Invalid room"},
		{"user without profile", "ghost", dispatch.MarkAsReadRequest{MessageIDs: []string{"m1"}}, "User not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := h.send(t, tt.user, dispatch.EventMarkMessagesAsRead, tt.data)
			assert.Equal(t, tt.want, errorMessage(t, replies))
		})
	}

	assert.Empty(t, h.readers(t, "m1"))
	assert.Empty(t, h.inbox.of("A"))
}

// TestUnauthenticatedCallers never reach a handler.
func TestUnauthenticatedCallers(t *testing.T) {
	h := newHarness(t, options{})
	env, err := dispatch.NewEnvelope(dispatch.EventMarkMessagesAsRead, dispatch.MarkAsReadRequest{MessageIDs: []string{"m1"}})
	require.NoError(t, err)

	callers := map[string]dispatch.Caller{
		"no token":     {UserID: "B"},
		"forged token": {UserID: "B", Token: "forged"},
		"someone else": {UserID: "B", Token: h.tokens["C"]},
		"no identity":  {Token: h.tokens["B"]},
	}
	for name, caller := range callers {
		t.Run(name, func(t *testing.T) {
			var replies []dispatch.Envelope
			h.disp.HandleEvent(context.Background(), caller, env, func(e dispatch.Envelope) { replies = append(replies, e) })
			assert.Equal(t, "Unauthorized", errorMessage(t, replies))
		})
	}
	assert.Empty(t, h.readers(t, "m1"))
}

// TestRateLimit denies events beyond the per-window allowance.
func TestRateLimit(t *testing.T) {
	h := newHarness(t, options{max: 2})
	req := dispatch.RoomRequest{RoomID: "r"}

	for range 2 {
		replies := h.send(t, "B", dispatch.EventLeaveRoom, req)
		require.Len(t, replies, 1)
		assert.Equal(t, dispatch.EventLeaveRoomSuccess, replies[0].Event)
	}
	assert.Equal(t, "Too many requests", errorMessage(t, h.send(t, "B", dispatch.EventLeaveRoom, req)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RateLimited))

	replies := h.send(t, "A", dispatch.EventLeaveRoom, req)
	require.Len(t, replies, 1)
	assert.Equal(t, dispatch.EventLeaveRoomSuccess, replies[0].Event, "limits are per user")
}

type brokenLimiter struct{ ratelimit.Limiter }

func (brokenLimiter) Increment(context.Context, string) (int64, error) {
	return 0, errors.New("connection reset by peer")
}

// TestRateLimitStoreFailureDenies fails closed when the counter is unreachable.
func TestRateLimitStoreFailureDenies(t *testing.T) {
	h := newHarness(t, options{limiter: brokenLimiter{}})

	replies := h.send(t, "B", dispatch.EventMarkMessagesAsRead, dispatch.MarkAsReadRequest{MessageIDs: []string{"m1"}})
	assert.Equal(t, chat.ErrStoreUnavailable.Message, errorMessage(t, replies))
	assert.Empty(t, h.readers(t, "m1"))
}

// TestJoinAndLeaveRoom answers the requester with the room view and the
// updated room list.
func TestJoinAndLeaveRoom(t *testing.T) {
	h := newHarness(t, options{})

	replies := h.send(t, "B", dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: "r"})
	require.Len(t, replies, 1)
	require.Equal(t, dispatch.EventJoinRoomSuccess, replies[0].Event)
	var joined dispatch.JoinRoomSuccess
	require.NoError(t, replies[0].Decode(&joined))
	assert.Equal(t, "general", joined.Room.Name)
	assert.Equal(t, 2, joined.Room.ParticipantCount)
	assert.False(t, joined.Room.IsCreator)
	assert.Equal(t, []string{"r"}, joined.Rooms)

	assert.Equal(t, "Room access denied", errorMessage(t, h.send(t, "B", dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: "private"})))
	assert.Equal(t, "Invalid room", errorMessage(t, h.send(t, "B", dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: "missing"})))
	assert.Equal(t, "Invalid request", errorMessage(t, h.send(t, "B", dispatch.EventJoinRoom, dispatch.RoomRequest{})))

	replies = h.send(t, "B", dispatch.EventLeaveRoom, dispatch.RoomRequest{RoomID: "r"})
	require.Len(t, replies, 1)
	var left dispatch.LeaveRoomSuccess
	require.NoError(t, replies[0].Decode(&left))
	assert.Equal(t, "r", left.RoomID)
	assert.Empty(t, left.Rooms)
}

// TestMalformedFrames answers garbage and unknown events with an error.
func TestMalformedFrames(t *testing.T) {
	h := newHarness(t, options{})
	caller := dispatch.Caller{UserID: "B", Token: h.tokens["B"]}

	for _, raw := range []string{"not json", `{"data":{}}`, `{"event":"deleteEverything","data":{}}`} {
		var replies []dispatch.Envelope
		h.disp.Handle(context.Background(), caller, []byte(raw), func(e dispatch.Envelope) { replies = append(replies, e) })
		require.Len(t, replies, 1, raw)
		assert.Equal(t, dispatch.EventError, replies[0].Event)
	}
}
