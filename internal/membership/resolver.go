// Package membership turns rooms into display views with batched user
// resolution and owns the room-membership authorization gate.
package membership

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
)

// Display fallbacks for references that no longer resolve.
const (
	UnknownUserName = "Unknown user"
	UntitledRoom    = "Untitled room"
)

// Store is the slice of the chat database the resolver reads. Lookups by
// id return chatdb.ErrNotFound when nothing matches.
type Store interface {
	FindUserByID(ctx context.Context, id string) (*chat.User, error)
	FindUsersByIDs(ctx context.Context, ids []string) ([]chat.User, error)
	FindRoomByID(ctx context.Context, id string) (*chat.Room, error)
	FindMessageByID(ctx context.Context, id string) (*chat.Message, error)
	FindMessageByFileID(ctx context.Context, fileID string) (*chat.Message, error)
	FindFileByName(ctx context.Context, filename string) (*chat.File, error)
}

// UserView is a user as shown inside a room.
type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RoomView is a room with its users resolved.
type RoomView struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	HasPassword      bool       `json:"hasPassword"`
	Creator          *UserView  `json:"creator,omitempty"`
	Participants     []UserView `json:"participants"`
	ParticipantCount int        `json:"participantsCount"`
	IsCreator        bool       `json:"isCreator"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Resolver is stateless; every call reads through to the store.
type Resolver struct {
	store Store
	log   logger.Logger
}

func New(store Store, log logger.Logger) *Resolver {
	return &Resolver{
		store: store,
		log:   logger.OrNop(log).With("component", "membership"),
	}
}

// IsParticipant is the single membership check every room-scoped
// authorization goes through.
func IsParticipant(room *chat.Room, userID string) bool {
	if room == nil || userID == "" {
		return false
	}
	return slices.Contains(room.ParticipantIDs, userID)
}

// ResolveRooms builds views for a page of rooms. All creators and
// participants across the page are fetched with one bulk lookup.
func (r *Resolver) ResolveRooms(ctx context.Context, rooms []chat.Room, currentUserID string) ([]RoomView, error) {
	if len(rooms) == 0 {
		return []RoomView{}, nil
	}

	var ids []string
	for i := range rooms {
		ids = append(ids, referencedUsers(&rooms[i])...)
	}

	users, err := r.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]RoomView, len(rooms))
	for i := range rooms {
		views[i] = buildView(&rooms[i], users, currentUserID)
	}
	return views, nil
}

// ResolveRoom builds the view of a single room.
func (r *Resolver) ResolveRoom(ctx context.Context, room *chat.Room, currentUserID string) (RoomView, error) {
	users, err := r.lookup(ctx, referencedUsers(room))
	if err != nil {
		return RoomView{}, err
	}
	return buildView(room, users, currentUserID), nil
}

func (r *Resolver) lookup(ctx context.Context, ids []string) (map[string]chat.User, error) {
	byID := make(map[string]chat.User, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}

	users, err := r.store.FindUsersByIDs(ctx, ids)
	if err != nil {
		r.log.Error("bulk user lookup failed", "op", "resolveRooms", "users", len(ids), "error", err)
		return nil, chat.ErrStoreUnavailable.Wrap(err)
	}
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

func referencedUsers(room *chat.Room) []string {
	ids := make([]string, 0, len(room.ParticipantIDs)+1)
	if room.CreatorID != "" {
		ids = append(ids, room.CreatorID)
	}
	return append(ids, room.ParticipantIDs...)
}

func buildView(room *chat.Room, users map[string]chat.User, currentUserID string) RoomView {
	v := RoomView{
		ID:               room.ID,
		Name:             room.Name,
		HasPassword:      room.HasPassword,
		Participants:     make([]UserView, 0, len(room.ParticipantIDs)),
		ParticipantCount: len(room.ParticipantIDs),
		IsCreator:        currentUserID != "" && room.CreatorID == currentUserID,
		CreatedAt:        room.CreatedAt,
	}
	if v.Name == "" {
		v.Name = UntitledRoom
	}
	if room.CreatorID != "" {
		creator := userView(room.CreatorID, users)
		v.Creator = &creator
	}
	for _, id := range room.ParticipantIDs {
		v.Participants = append(v.Participants, userView(id, users))
	}
	return v
}

func userView(id string, users map[string]chat.User) UserView {
	u, ok := users[id]
	if !ok {
		return UserView{ID: id, Name: UnknownUserName}
	}
	v := UserView{ID: u.ID, Name: u.Name, Email: u.Email}
	if v.Name == "" {
		v.Name = UnknownUserName
	}
	return v
}

// RequireUser fails with chat.ErrUserNotFound when userID is unknown.
func (r *Resolver) RequireUser(ctx context.Context, userID string) (*chat.User, error) {
	u, err := r.store.FindUserByID(ctx, userID)
	if errors.Is(err, chatdb.ErrNotFound) {
		return nil, chat.ErrUserNotFound
	}
	if err != nil {
		r.log.Error("user lookup failed", "op", "requireUser", "userId", userID, "error", err)
		return nil, chat.ErrStoreUnavailable.Wrap(err)
	}
	return u, nil
}

// AuthorizeRoomAccess returns the room when userID participates in it.
func (r *Resolver) AuthorizeRoomAccess(ctx context.Context, roomID, userID string) (*chat.Room, error) {
	if roomID == "" {
		return nil, chat.ErrRoomNotFound
	}
	room, err := r.store.FindRoomByID(ctx, roomID)
	if errors.Is(err, chatdb.ErrNotFound) {
		return nil, chat.ErrRoomNotFound
	}
	if err != nil {
		r.log.Error("room lookup failed", "op", "authorizeRoom", "roomId", roomID, "error", err)
		return nil, chat.ErrStoreUnavailable.Wrap(err)
	}
	if !IsParticipant(room, userID) {
		r.log.Warn("room access denied", "op", "authorizeRoom", "roomId", roomID, "userId", userID)
		return nil, chat.ErrRoomAccessDenied
	}
	return room, nil
}

// RoomOfMessage returns the id of the room holding messageID, or
// chat.ErrRoomNotFound when the message is unknown.
func (r *Resolver) RoomOfMessage(ctx context.Context, messageID string) (string, error) {
	msg, err := r.store.FindMessageByID(ctx, messageID)
	if errors.Is(err, chatdb.ErrNotFound) {
		return "", chat.ErrRoomNotFound
	}
	if err != nil {
		r.log.Error("message lookup failed", "op", "roomOfMessage", "messageId", messageID, "error", err)
		return "", chat.ErrStoreUnavailable.Wrap(err)
	}
	if msg.RoomID == "" {
		return "", chat.ErrRoomNotFound
	}
	return msg.RoomID, nil
}

// AuthorizeFileAccess follows file, message and room, and returns the file
// when requesterID participates in the room the file was posted to.
func (r *Resolver) AuthorizeFileAccess(ctx context.Context, filename, requesterID string) (*chat.File, error) {
	file, err := r.store.FindFileByName(ctx, filename)
	if err != nil {
		return nil, r.fileLookupError(err, "file", filename)
	}
	msg, err := r.store.FindMessageByFileID(ctx, file.ID)
	if err != nil {
		return nil, r.fileLookupError(err, "message", filename)
	}
	room, err := r.store.FindRoomByID(ctx, msg.RoomID)
	if err != nil {
		return nil, r.fileLookupError(err, "room", filename)
	}

	if !IsParticipant(room, requesterID) {
		r.log.Warn("file access denied", "op", "authorizeFile", "file", filename, "userId", requesterID)
		return nil, chat.ErrFileAccessDenied
	}
	return file, nil
}

func (r *Resolver) fileLookupError(err error, step, filename string) error {
	if errors.Is(err, chatdb.ErrNotFound) {
		return chat.ErrFileNotFound
	}
	r.log.Error("file authorization lookup failed", "op", "authorizeFile", "step", step, "file", filename, "error", err)
	return chat.ErrStoreUnavailable.Wrap(err)
}
