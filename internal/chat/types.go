// Package chat defines the domain records shared by the coordination layer:
// users, rooms, messages with their read receipts, and file metadata.
package chat

import "time"

// User is the minimal identity record the resolver renders.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Room is the membership view of a chat room.
type Room struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CreatorID      string    `json:"creatorId"`
	HasPassword    bool      `json:"hasPassword"`
	ParticipantIDs []string  `json:"participantIds"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Reader records that a user has seen a message.
type Reader struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is the read-state view of a chat message.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	FileID    string    `json:"fileId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Readers   []Reader  `json:"readers"`
}

// HasReader reports whether userID already appears in the message readers.
func (m *Message) HasReader(userID string) bool {
	for _, r := range m.Readers {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// File is the metadata row of an uploaded attachment.
type File struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	UploaderID string `json:"uploaderId"`
	Path       string `json:"path"`
}
