package chat

import (
	"time"

	"github.com/csremote/broker/pkg/session"
)

// Receipt is what the message sink assigns to an accepted chat message.
type Receipt struct {
	ID        int64
	Timestamp time.Time
}

// Message is the canonical form of a chat message, as broadcast to
// subscribers and kept in history.
type Message struct {
	ID        int64            `json:"id"`
	Identity  session.Identity `json:"identity"`
	Text      string           `json:"text"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewMessage(r Receipt, identity session.Identity, text string) Message {
	return Message{ID: r.ID, Identity: identity, Text: text, Timestamp: r.Timestamp.UTC()}
}
