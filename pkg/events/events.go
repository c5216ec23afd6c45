// Package events emits audit events about codes, sessions and sockets.
package events

import (
	"context"
	"time"

	"github.com/csremote/broker/pkg/session"
)

const (
	TopicCodeIssued     = "csremote.code.issued"
	TopicSessionStarted = "csremote.session.started"
	TopicSessionEnded   = "csremote.session.ended"
	TopicChatJoined     = "csremote.chat.joined"
	TopicChatLeft       = "csremote.chat.left"
	TopicChatMessage    = "csremote.chat.message"
	TopicSignalAttached = "csremote.signal.attached"
	TopicSignalDetached = "csremote.signal.detached"
)

// Publisher sends events somewhere. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

type CodeIssued struct {
	Owner     session.Identity `json:"owner"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type SessionStarted struct {
	Session session.ID       `json:"session"`
	Analyst session.Identity `json:"analyst"`
	Client  session.Identity `json:"client"`
}

type SessionEnded struct {
	Session session.ID `json:"session"`
}

// Socket is about a websocket joining or leaving a session channel.
type Socket struct {
	Session session.ID   `json:"session"`
	Conn    string       `json:"conn"`
	Role    session.Role `json:"role,omitempty"`
}

type ChatMessage struct {
	Session  session.ID       `json:"session"`
	Message  int64            `json:"message"`
	Identity session.Identity `json:"identity"`
}
