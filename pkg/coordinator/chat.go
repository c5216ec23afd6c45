package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/csremote/broker/pkg/chat"
	"github.com/csremote/broker/pkg/events"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/network/websocket"
	"github.com/csremote/broker/pkg/session"
	"github.com/goccy/go-json"
)

// handleChat serves one chat socket of a session. Participants are
// resolved once, every frame names its sender identity.
func (h *Hub) handleChat(w http.ResponseWriter, r *http.Request) {
	log := h.log.Extend(h.log.With().Str(logger.ChannelField, channelChat))
	defer recoverHandler(log)

	sid, ok := h.lookup(w, r, log)
	if !ok {
		return
	}
	parts, err := h.Directory.SessionParticipants(r.Context(), sid)
	if err != nil {
		if isNotFound(err) {
			_ = websocket.Reject(w, r, h.opts.Socket, websocket.CloseSessionMissing, "session not found")
			return
		}
		log.Error().Err(err).Str(logger.SessionField, sid.String()).Msg("participants lookup failed")
		_ = websocket.Reject(w, r, h.opts.Socket, websocket.CloseInternalError, "directory unavailable")
		return
	}

	conn, ok := h.upgrade(w, r, log)
	if !ok {
		return
	}
	defer h.release(conn)
	log = log.Extend(log.With().Str(logger.SessionField, sid.String()).Str(logger.ConnField, conn.Id().Short()))
	ctx := r.Context()
	ev := events.Socket{Session: sid, Conn: conn.Id().String()}

	h.fanout.Subscribe(sid, conn)
	socketsConnected.WithLabelValues(channelChat).Inc()
	h.publish(ctx, events.TopicChatJoined, ev)
	log.Debug().Msg("chat attached")

	defer func() {
		h.fanout.Unsubscribe(sid, conn)
		socketsConnected.WithLabelValues(channelChat).Dec()
		h.publish(context.WithoutCancel(ctx), events.TopicChatLeft, ev)
		log.Debug().Msg("chat detached")
	}()

	conn.Listen(func(raw []byte) {
		if err := h.acceptChat(ctx, sid, parts, raw); err != nil {
			chatRejected.WithLabelValues(rejectReason(err)).Inc()
			log.Debug().Err(err).Msg("chat frame dropped")
		}
	})
}

// acceptChat persists the frame and broadcasts its canonical echo.
func (h *Hub) acceptChat(ctx context.Context, sid session.ID, parts session.Participants, raw []byte) error {
	frame, err := h.frames.chat(raw)
	if err != nil {
		return err
	}
	if !parts.Has(frame.Identity) {
		return fmt.Errorf("%w: identity %v", ErrForbidden, frame.Identity)
	}

	var msg chat.Message
	_, err = h.fanout.Publish(sid, func() ([]byte, error) {
		receipt, err := h.Sink.PersistChatMessage(ctx, sid, frame.Identity, frame.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		msg = chat.NewMessage(receipt, frame.Identity, frame.Text)
		return json.Marshal(msg)
	})
	if err != nil {
		return err
	}
	chatBroadcasts.Inc()
	h.publish(ctx, events.TopicChatMessage, events.ChatMessage{Session: sid, Message: msg.ID, Identity: msg.Identity})
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol"
	}
	return "other"
}
