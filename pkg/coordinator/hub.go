package coordinator

import (
	"context"
	"errors"
	"net/http"

	"github.com/csremote/broker/pkg/accesscode"
	"github.com/csremote/broker/pkg/chat"
	"github.com/csremote/broker/pkg/com"
	"github.com/csremote/broker/pkg/events"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/network/websocket"
	"github.com/csremote/broker/pkg/permission"
	"github.com/csremote/broker/pkg/session"
	"github.com/csremote/broker/pkg/signal"
)

type Options struct {
	Socket  websocket.Options
	MaxText int
	// DefaultRole is the relay slot of a signaling socket that has not
	// declared its role yet, empty keeps it out of the relay.
	DefaultRole session.Role
}

// Deps are the collaborators of the hub. Starter and History are optional.
type Deps struct {
	Directory SessionDirectory
	Sink      MessageSink
	Starter   SessionStarter
	History   HistoryReader
	Codes     *accesscode.Store
	Events    events.Publisher
}

// Hub attaches websockets to sessions and drives their receive loops.
type Hub struct {
	Deps

	opts   Options
	perms  *permission.Model
	fanout *chat.Fanout
	relay  *signal.Relay
	conns  *com.Map[websocket.ConnID, *websocket.Conn]
	frames frameReader
	log    *logger.Logger
}

func NewHub(deps Deps, opts Options, log *logger.Logger) *Hub {
	if deps.Codes == nil {
		deps.Codes = accesscode.NewStore()
	}
	if deps.Events == nil {
		deps.Events = &events.NoopPublisher{}
	}
	h := &Hub{
		Deps:   deps,
		opts:   opts,
		perms:  permission.New(),
		fanout: chat.NewFanout(log),
		relay:  signal.NewRelay(log),
		conns:  com.NewMap[websocket.ConnID, *websocket.Conn](),
		frames: newFrameReader(opts.MaxText),
		log:    log,
	}
	h.fanout.OnEvict = func(session.ID, chat.Subscriber, error) { chatEvictions.Inc() }
	return h
}

// lookup checks the session before the upgrade. A failed check answers
// the socket with a close frame and returns false.
func (h *Hub) lookup(w http.ResponseWriter, r *http.Request, log *logger.Logger) (session.ID, bool) {
	sid, err := session.ParseID(r.PathValue("session"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	exists, err := h.Directory.SessionExists(r.Context(), sid)
	if err != nil {
		log.Error().Err(err).Str(logger.SessionField, sid.String()).Msg("session lookup failed")
		_ = websocket.Reject(w, r, h.opts.Socket, websocket.CloseInternalError, "directory unavailable")
		return 0, false
	}
	if !exists {
		log.Debug().Str(logger.SessionField, sid.String()).Msg("no such session")
		_ = websocket.Reject(w, r, h.opts.Socket, websocket.CloseSessionMissing, "session not found")
		return 0, false
	}
	return sid, true
}

func (h *Hub) upgrade(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*websocket.Conn, bool) {
	conn, err := websocket.Upgrade(w, r, h.opts.Socket, log)
	if err != nil {
		log.Warn().Err(err).Msg("socket upgrade failed")
		return nil, false
	}
	h.conns.Put(conn.Id(), conn)
	return conn, true
}

func (h *Hub) release(conn *websocket.Conn) { h.conns.RemoveByKey(conn.Id()) }

func (h *Hub) publish(ctx context.Context, topic string, event any) {
	if err := h.Events.Publish(ctx, topic, event); err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}

func recoverHandler(log *logger.Logger) {
	if r := recover(); r != nil {
		log.Error().Msgf("recovered in handler: %v", r)
	}
}

// Run is a no-op, the hub is driven by the HTTP server.
func (h *Hub) Run() {}

// Shutdown closes every attached socket and waits for their loops.
func (h *Hub) Shutdown(ctx context.Context) error {
	conns := h.conns.Values()
	for _, c := range conns {
		c.CloseWith(websocket.CloseGoingAway, "shutdown")
	}
	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) String() string { return "hub" }

func isNotFound(err error) bool {
	return errors.Is(err, session.ErrNotFound) || errors.Is(err, accesscode.ErrNotFound)
}
