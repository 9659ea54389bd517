// Package channel defines how the entity is reached from chat networks.
package channel

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is an inbound chat message.
type Message struct {
	ID       string
	Source   string // "matrix", "http", "cli"
	SenderID string
	RoomID   string
	Content  string
	At       time.Time
}

// NewMessage stamps a message with a fresh id and the current time.
func NewMessage(source, sender, room, content string) Message {
	return Message{
		ID:       uuid.NewString(),
		Source:   source,
		SenderID: sender,
		RoomID:   room,
		Content:  content,
		At:       time.Now().UTC(),
	}
}

// ConversationID is the key the entity keeps history under: one per
// room, falling back to the sender for direct channels.
func (m Message) ConversationID() string {
	if m.RoomID != "" {
		return m.Source + ":" + m.RoomID
	}
	return m.Source + ":" + m.SenderID
}

// Response is an outbound message.
type Response struct {
	RoomID  string
	Content string
}

// Reply addresses content back to where m came from.
func (m Message) Reply(content string) Response {
	return Response{RoomID: m.RoomID, Content: content}
}

// Channel is a chat transport.
type Channel interface {
	Name() string

	// Start listens until ctx is cancelled, passing messages to handler.
	Start(ctx context.Context, handler MessageHandler) error

	Send(ctx context.Context, resp Response) error
	Stop() error
}

// MessageHandler processes an inbound message.
type MessageHandler func(ctx context.Context, msg Message) error
