package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/membership"
	"github.com/Tyrowin/nexus-chat-server/internal/metrics"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
	"github.com/Tyrowin/nexus-chat-server/internal/ratelimit"
	"github.com/Tyrowin/nexus-chat-server/internal/readstatus"
	"github.com/Tyrowin/nexus-chat-server/internal/session"
)

// DefaultMaxPerWindow is the per-user event allowance per rate-limit window.
const DefaultMaxPerWindow = 50

// Validator resolves a session token to its live session.
type Validator interface {
	Validate(ctx context.Context, token string) (*session.Session, error)
}

// Caller identifies the connection an event arrived on. It is fixed when
// the connection is authenticated, before any event is handled.
type Caller struct {
	UserID       string
	Token        string
	ConnectionID string
}

// Reply sends an event back to the calling connection only.
type Reply func(Envelope)

// Deps are the components a Dispatcher drives.
type Deps struct {
	Sessions     Validator
	Limiter      ratelimit.Limiter
	MaxPerWindow int64
	Reads        *readstatus.Coordinator
	Rooms        *membership.Resolver
	Presence     *presence.Tracker
	Metrics      *metrics.Registry
	Log          logger.Logger
}

type handlerFunc func(ctx context.Context, userID string, env Envelope, reply Reply) error

// Dispatcher runs every inbound event through session validation, the
// per-user rate limit and then the event's handler.
type Dispatcher struct {
	sessions     Validator
	limiter      ratelimit.Limiter
	maxPerWindow int64
	reads        *readstatus.Coordinator
	rooms        *membership.Resolver
	presence     *presence.Tracker
	metrics      *metrics.Registry
	log          logger.Logger
	handlers     map[string]handlerFunc
}

func New(d Deps) *Dispatcher {
	if d.MaxPerWindow <= 0 {
		d.MaxPerWindow = DefaultMaxPerWindow
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	disp := &Dispatcher{
		sessions:     d.Sessions,
		limiter:      d.Limiter,
		maxPerWindow: d.MaxPerWindow,
		reads:        d.Reads,
		rooms:        d.Rooms,
		presence:     d.Presence,
		metrics:      d.Metrics,
		log:          logger.OrNop(d.Log).With("component", "dispatch"),
	}
	disp.handlers = map[string]handlerFunc{
		EventMarkMessagesAsRead: disp.markMessagesAsRead,
		EventJoinRoom:           disp.joinRoom,
		EventLeaveRoom:          disp.leaveRoom,
	}
	return disp
}

// Handle processes one raw inbound frame. Failures are answered with an
// error event on reply and never returned.
func (d *Dispatcher) Handle(ctx context.Context, caller Caller, raw []byte, reply Reply) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		d.fail(reply, "invalid", caller, chat.ErrInvalidRequest)
		return
	}
	d.HandleEvent(ctx, caller, env, reply)
}

// HandleEvent processes one decoded event.
func (d *Dispatcher) HandleEvent(ctx context.Context, caller Caller, env Envelope, reply Reply) {
	handler, ok := d.handlers[env.Event]
	if !ok {
		d.fail(reply, "unknown", caller, chat.ErrInvalidRequest.WithMessage("Unknown event"))
		return
	}

	start := time.Now()
	defer func() {
		d.metrics.EventDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())
	}()

	userID, err := d.authenticate(ctx, caller)
	if err != nil {
		d.fail(reply, env.Event, caller, err)
		return
	}

	if err := d.allow(ctx, userID); err != nil {
		d.fail(reply, env.Event, caller, err)
		return
	}

	if err := handler(ctx, userID, env, reply); err != nil {
		d.fail(reply, env.Event, caller, err)
		return
	}
	d.metrics.EventsTotal.WithLabelValues(env.Event, "ok").Inc()
}

// authenticate validates the caller's session on every event, which also
// renews it. Every failure, store errors included, denies.
func (d *Dispatcher) authenticate(ctx context.Context, caller Caller) (string, error) {
	if caller.UserID == "" || caller.Token == "" {
		d.metrics.SessionValidations.WithLabelValues("denied").Inc()
		return "", chat.ErrUnauthorized
	}

	sess, err := d.sessions.Validate(ctx, caller.Token)
	if err != nil || sess.UserID != caller.UserID {
		d.metrics.SessionValidations.WithLabelValues("denied").Inc()
		if err == nil {
			err = errors.New("session belongs to another user")
		}
		d.log.Warn("session rejected", "op", "authenticate", "userId", caller.UserID, "connectionId", caller.ConnectionID, "error", err)
		return "", chat.ErrUnauthorized.Wrap(err)
	}
	d.metrics.SessionValidations.WithLabelValues("ok").Inc()
	return sess.UserID, nil
}

// allow applies the per-user limit. An increment error denies.
func (d *Dispatcher) allow(ctx context.Context, userID string) error {
	ok, count, err := ratelimit.Allow(ctx, d.limiter, userID, d.maxPerWindow)
	if err != nil {
		return chat.ErrStoreUnavailable.Wrap(err)
	}
	if !ok {
		d.metrics.RateLimited.Inc()
		d.log.Debug("rate limited", "userId", userID, "count", count)
		return chat.ErrRateLimited
	}
	return nil
}

func (d *Dispatcher) fail(reply Reply, event string, caller Caller, err error) {
	d.metrics.EventsTotal.WithLabelValues(event, outcome(err)).Inc()

	msg := chat.PublicMessage(err)
	if chat.Code(err) == "" {
		d.log.Error("event failed", "event", event, "userId", caller.UserID, "connectionId", caller.ConnectionID, "error", err)
	} else {
		d.log.Debug("event rejected", "event", event, "userId", caller.UserID, "code", chat.Code(err), "error", err)
	}

	env, encErr := NewEnvelope(EventError, ErrorPayload{Message: msg})
	if encErr != nil {
		d.log.Error("error event not encoded", "event", event, "error", encErr)
		return
	}
	reply(env)
}

func outcome(err error) string {
	switch chat.Code(err) {
	case chat.CodeUnauthorized:
		return "unauthorized"
	case chat.CodeForbidden:
		return "forbidden"
	case chat.CodeRateLimited:
		return "rate_limited"
	case chat.CodeValidation:
		return "invalid"
	case chat.CodeNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// markMessagesAsRead authorizes the reader against the room of the first
// message, then marks the batch. Success sends nothing to the requester;
// senders hear about it on their private channels.
func (d *Dispatcher) markMessagesAsRead(ctx context.Context, userID string, env Envelope, _ Reply) error {
	var req MarkAsReadRequest
	if err := env.Decode(&req); err != nil || len(req.MessageIDs) == 0 || req.MessageIDs[0] == "" {
		return chat.ErrInvalidRequest
	}

	roomID, err := d.rooms.RoomOfMessage(ctx, req.MessageIDs[0])
	if err != nil {
		return err
	}
	if _, err := d.rooms.RequireUser(ctx, userID); err != nil {
		return err
	}
	if _, err := d.rooms.AuthorizeRoomAccess(ctx, roomID, userID); err != nil {
		return err
	}

	res := d.reads.MarkRead(ctx, req.MessageIDs, userID)
	d.metrics.ReadsMarked.Add(float64(len(res.Updated)))
	d.metrics.ReadNotifications.WithLabelValues("ok").Add(float64(res.Notified))
	d.metrics.ReadNotifications.WithLabelValues("failed").Add(float64(res.Failed))
	if res.Err != nil {
		d.log.Warn("read status not fully applied", "op", "markMessagesAsRead", "userId", userID, "roomId", roomID, "error", res.Err)
	}
	return nil
}

func (d *Dispatcher) joinRoom(ctx context.Context, userID string, env Envelope, reply Reply) error {
	var req RoomRequest
	if err := env.Decode(&req); err != nil || req.RoomID == "" {
		return chat.ErrInvalidRequest
	}

	room, err := d.rooms.AuthorizeRoomAccess(ctx, req.RoomID, userID)
	if err != nil {
		return err
	}
	view, err := d.rooms.ResolveRoom(ctx, room, userID)
	if err != nil {
		return err
	}

	rooms, err := d.presence.JoinRoom(ctx, userID, room.ID)
	if err != nil {
		d.log.Warn("presence not updated", "op", "joinRoom", "userId", userID, "roomId", room.ID, "error", err)
	}

	out, err := NewEnvelope(EventJoinRoomSuccess, JoinRoomSuccess{Room: view, Rooms: rooms})
	if err != nil {
		return err
	}
	reply(out)
	return nil
}

func (d *Dispatcher) leaveRoom(ctx context.Context, userID string, env Envelope, reply Reply) error {
	var req RoomRequest
	if err := env.Decode(&req); err != nil || req.RoomID == "" {
		return chat.ErrInvalidRequest
	}

	rooms, err := d.presence.LeaveRoom(ctx, userID, req.RoomID)
	if err != nil {
		d.log.Warn("presence not updated", "op", "leaveRoom", "userId", userID, "roomId", req.RoomID, "error", err)
	}
	if rooms == nil {
		rooms = []string{}
	}

	out, err := NewEnvelope(EventLeaveRoomSuccess, LeaveRoomSuccess{RoomID: req.RoomID, Rooms: rooms})
	if err != nil {
		return err
	}
	reply(out)
	return nil
}
