/*
Package user contains the user directory record and the presence status values
shown to connected clients.
*/
package user

import "time"

// Status is the presence status announced in user lists.
type Status string

// StatusOnline is the only status a registered connection can have.
const StatusOnline Status = "online"

// DefaultLastMessage is shown for users who never exchanged a message.
const DefaultLastMessage = "No messages yet"

// User is a durable account record.
type User struct {
	// ID is the stable identifier used as the websocket identity.
	ID string `json:"id"`

	// Username is the display name.
	Username string `json:"username"`

	// Email is unique across the directory.
	Email string `json:"email"`

	// PasswordHash is the bcrypt hash; never serialized.
	PasswordHash string `json:"-"`

	// LastMessage is the content of the most recent message sent or received.
	LastMessage string `json:"lastMessage,omitempty"`

	// LastMessageAt is when LastMessage was exchanged.
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Draft is a user that has not been stored yet.
type Draft struct {
	Username     string
	Email        string
	PasswordHash string
}

// LastMessageOrDefault returns LastMessage or DefaultLastMessage when empty.
func (u User) LastMessageOrDefault() string {
	if u.LastMessage == "" {
		return DefaultLastMessage
	}
	return u.LastMessage
}
