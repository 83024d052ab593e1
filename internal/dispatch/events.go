// Package dispatch turns inbound real-time events into calls on the
// session, rate-limit, membership and read-status components, and routes
// every outbound event either back to the requesting connection or to a
// single user's private channel. Nothing is broadcast to a whole room.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/nexus-chat-server/internal/membership"
)

// Inbound events.
const (
	EventMarkMessagesAsRead = "markMessagesAsRead"
	EventJoinRoom           = "joinRoom"
	EventLeaveRoom          = "leaveRoom"
)

// Outbound events.
const (
	EventMessagesRead     = "messagesRead"
	EventJoinRoomSuccess  = "joinRoomSuccess"
	EventLeaveRoomSuccess = "leaveRoomSuccess"
	EventError            = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("dispatch: encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals the envelope data into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("dispatch: %s has no data", e.Event)
	}
	return json.Unmarshal(e.Data, dst)
}

type MarkAsReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type JoinRoomSuccess struct {
	Room  membership.RoomView `json:"room"`
	Rooms []string            `json:"rooms,omitempty"`
}

type LeaveRoomSuccess struct {
	RoomID string   `json:"roomId"`
	Rooms  []string `json:"rooms"`
}
