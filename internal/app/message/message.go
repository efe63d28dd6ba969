/*
Package message defines the persisted private-message record exchanged between users.
*/
package message

import "time"

// Message is an immutable, persisted message. ID and Timestamp are the values
// assigned by the store and are canonical for every copy sent to clients.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Draft is a message that has not been stored yet.
// An empty ReceiverID marks a message posted to the public board over HTTP.
type Draft struct {
	SenderID   string
	ReceiverID string
	Content    string
	Timestamp  time.Time
}

// Involves reports whether userID sent or received m.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}
