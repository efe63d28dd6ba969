/*
Package chat contains the realtime core: the presence registry, the per-connection
session state machine, the router for private messages and typing indicators, and
the websocket transport that feeds them.

This file defines the wire events exchanged with clients. Inbound frames are decoded
once, at the boundary, into a closed set of event types; outbound events carry their
own "type" discriminator when encoded.
*/
package chat

import (
	"encoding/json"
	"time"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
)

// EventType is the "type" discriminator of every frame.
type EventType string

const (
	TypeAuth           EventType = "auth"
	TypePrivateMessage EventType = "private_message"
	TypeTyping         EventType = "typing"
	TypeUserList       EventType = "user_list"
	TypeError          EventType = "error"
	TypeMessageHistory EventType = "message_history"
)

// DeliveryStatus is reported on the sender's copy of a private message.
type DeliveryStatus string

const (
	// StatusDelivered means the message was written to the recipient's open connection.
	StatusDelivered DeliveryStatus = "delivered"

	// StatusPending means the message was stored but the recipient is offline.
	StatusPending DeliveryStatus = "pending"
)

// InboundEvent is implemented by every event a client may send.
type InboundEvent interface {
	inbound()
}

// AuthEvent binds the connection to a user identity.
type AuthEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PrivateMessageEvent asks the server to store and relay a message.
type PrivateMessageEvent struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// TypingEvent is relayed to the recipient if online and dropped otherwise.
type TypingEvent struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

func (AuthEvent) inbound()           {}
func (PrivateMessageEvent) inbound() {}
func (TypingEvent) inbound()         {}

// DecodeInbound parses one client frame.
// Undecodable frames yield ErrMalformedFrame; an unknown type yields ErrUnsupportedEvent.
func DecodeInbound(data []byte) (InboundEvent, *errs.CustomError) {
	var envelope struct {
		Type EventType `json:"type"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
		return nil, errs.NewError(errs.ErrMalformedFrame)
	}

	var (
		event InboundEvent
		err   error
	)

	switch envelope.Type {
	case TypeAuth:
		var ev AuthEvent
		err = json.Unmarshal(data, &ev)
		event = ev

	case TypePrivateMessage:
		var ev PrivateMessageEvent
		err = json.Unmarshal(data, &ev)
		event = ev

	case TypeTyping:
		var ev TypingEvent
		err = json.Unmarshal(data, &ev)
		event = ev

	default:
		return nil, errs.NewError(errs.ErrUnsupportedEvent, envelope.Type)
	}

	if err != nil {
		return nil, errs.NewError(errs.ErrMalformedFrame)
	}

	return event, nil
}

// OutboundEvent is implemented by every event the server sends.
type OutboundEvent interface {
	outbound()
}

// UserEntry is one online user in a user_list event.
type UserEntry struct {
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Status   user.Status `json:"status"`
}

// UserListEvent announces the users currently online.
type UserListEvent struct {
	Users []UserEntry `json:"users"`
}

// PrivateMessageOut carries a stored message to its recipient, or back to its
// sender with a delivery status.
type PrivateMessageOut struct {
	MessageID  string         `json:"messageId"`
	Content    string         `json:"content"`
	SenderID   string         `json:"senderId"`
	SenderName string         `json:"senderName"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     DeliveryStatus `json:"status,omitempty"`
}

// TypingOut tells the recipient that the sender started or stopped typing.
type TypingOut struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	IsTyping   bool   `json:"isTyping"`
}

// ErrorEvent reports a recoverable failure to the client that caused it.
type ErrorEvent struct {
	Content string `json:"content"`
	Code    int    `json:"code"`
}

// MessageHistoryEvent replays the most recent messages of a user, newest first.
type MessageHistoryEvent struct {
	Messages []message.Message `json:"messages"`
}

func (UserListEvent) outbound()       {}
func (PrivateMessageOut) outbound()   {}
func (TypingOut) outbound()           {}
func (ErrorEvent) outbound()          {}
func (MessageHistoryEvent) outbound() {}

// NewErrorEvent converts a CustomError into an error event.
func NewErrorEvent(err *errs.CustomError) ErrorEvent {
	return ErrorEvent{Content: err.Message, Code: err.Code}
}

func (e UserListEvent) MarshalJSON() ([]byte, error) {
	type alias UserListEvent
	if e.Users == nil {
		e.Users = []UserEntry{}
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{TypeUserList, alias(e)})
}

func (e PrivateMessageOut) MarshalJSON() ([]byte, error) {
	type alias PrivateMessageOut
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{TypePrivateMessage, alias(e)})
}

func (e TypingOut) MarshalJSON() ([]byte, error) {
	type alias TypingOut
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{TypeTyping, alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{TypeError, alias(e)})
}

func (e MessageHistoryEvent) MarshalJSON() ([]byte, error) {
	type alias MessageHistoryEvent
	if e.Messages == nil {
		e.Messages = []message.Message{}
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{TypeMessageHistory, alias(e)})
}

// Encode serialises an outbound event into one text frame.
func Encode(event OutboundEvent) ([]byte, error) {
	return json.Marshal(event)
}
