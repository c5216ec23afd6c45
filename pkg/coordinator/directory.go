package coordinator

import (
	"context"

	"github.com/csremote/broker/pkg/chat"
	"github.com/csremote/broker/pkg/session"
)

// SessionDirectory answers session questions on behalf of the CRUD layer.
// SessionParticipants returns session.ErrNotFound for unknown sessions.
type SessionDirectory interface {
	SessionExists(ctx context.Context, id session.ID) (bool, error)
	SessionParticipants(ctx context.Context, id session.ID) (session.Participants, error)
}

// MessageSink persists accepted chat messages.
type MessageSink interface {
	PersistChatMessage(ctx context.Context, id session.ID, identity session.Identity, text string) (chat.Receipt, error)
}

// SessionStarter opens and closes sessions for the pairing API.
type SessionStarter interface {
	StartSession(ctx context.Context, analyst, client session.Identity, code string) (session.ID, error)
	EndSession(ctx context.Context, id session.ID) error
}

// HistoryReader lists stored chat messages.
type HistoryReader interface {
	ChatHistory(ctx context.Context, id session.ID, limit int) ([]chat.Message, error)
}
