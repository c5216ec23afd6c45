package coordinator

import (
	"context"
	"net/http"

	"github.com/csremote/broker/pkg/events"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/network/websocket"
	"github.com/csremote/broker/pkg/session"
	"github.com/csremote/broker/pkg/signal"
)

// handleSignaling serves one signaling socket of a session. The socket
// holds a relay slot once it declares its role with {"role": "..."},
// every other frame goes verbatim to the opposite leg.
func (h *Hub) handleSignaling(w http.ResponseWriter, r *http.Request) {
	log := h.log.Extend(h.log.With().Str(logger.ChannelField, channelSignal))
	defer recoverHandler(log)

	sid, ok := h.lookup(w, r, log)
	if !ok {
		return
	}
	conn, ok := h.upgrade(w, r, log)
	if !ok {
		return
	}
	defer h.release(conn)
	log = log.Extend(log.With().Str(logger.SessionField, sid.String()).Str(logger.ConnField, conn.Id().Short()))
	ctx := r.Context()

	socketsConnected.WithLabelValues(channelSignal).Inc()
	defer socketsConnected.WithLabelValues(channelSignal).Dec()

	var role session.Role
	attach := func(to session.Role) {
		if role != "" && role != to {
			h.detach(ctx, sid, role, conn, log)
		}
		displaced, err := h.relay.Attach(sid, to, conn)
		if err != nil {
			log.Warn().Err(err).Msg("attach failed")
			return
		}
		if displaced != nil {
			log.Info().Str(logger.RoleField, string(to)).Msg("relay slot taken over")
		}
		if role != to {
			h.publish(ctx, events.TopicSignalAttached, events.Socket{Session: sid, Conn: conn.Id().String(), Role: to})
		}
		role = to
		log.Debug().Str(logger.RoleField, string(role)).Msg("signaling attached")
	}

	if h.opts.DefaultRole != "" {
		attach(h.opts.DefaultRole)
	}
	defer func() {
		if role != "" {
			h.detach(context.WithoutCancel(ctx), sid, role, conn, log)
		}
	}()

	conn.Listen(func(raw []byte) {
		declared, isDeclaration, err := h.frames.signal(raw)
		if err != nil {
			signalsRelayed.WithLabelValues("invalid").Inc()
			log.Debug().Err(err).Msg("signal frame dropped")
			return
		}
		if isDeclaration {
			attach(declared)
			return
		}
		if role == "" {
			signalsRelayed.WithLabelValues(signal.Dropped.String()).Inc()
			log.Debug().Msg("signal before role declaration dropped")
			return
		}
		out, err := h.relay.Relay(sid, role, raw)
		if err != nil {
			log.Warn().Err(err).Msg("relay failed")
			return
		}
		signalsRelayed.WithLabelValues(out.String()).Inc()
	})
}

func (h *Hub) detach(ctx context.Context, sid session.ID, role session.Role, conn *websocket.Conn, log *logger.Logger) {
	if h.relay.Detach(sid, role, conn) {
		log.Debug().Str(logger.RoleField, string(role)).Msg("signaling detached")
	}
	h.publish(ctx, events.TopicSignalDetached, events.Socket{Session: sid, Conn: conn.Id().String(), Role: role})
}
