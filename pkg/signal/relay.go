// Package signal forwards opaque WebRTC negotiation messages between
// the analyst and the client legs of a session.
package signal

import (
	"github.com/csremote/broker/pkg/com"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/session"
)

type Peer interface {
	Send(data []byte) error
}

type Outcome int

const (
	// Dropped means the destination slot was empty.
	Dropped Outcome = iota
	Delivered
	// Failed means the destination did not take the message, its slot is kept.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "dropped"
	}
}

type route struct {
	analyst Peer
	client  Peer
}

func (r *route) slot(role session.Role) *Peer {
	if role == session.Analyst {
		return &r.analyst
	}
	return &r.client
}

func (r *route) empty() bool { return r.analyst == nil && r.client == nil }

// Relay holds at most one peer per role per session.
type Relay struct {
	routes *com.Lanes[session.ID, *route]
	log    *logger.Logger
}

func NewRelay(log *logger.Logger) *Relay {
	return &Relay{
		routes: com.NewLanes[session.ID](func() *route { return &route{} }),
		log:    log,
	}
}

// Attach puts the peer into the role slot and returns the peer it replaced, if any.
// The replaced peer is not closed.
func (r *Relay) Attach(sid session.ID, role session.Role, p Peer) (displaced Peer, err error) {
	if !role.Valid() {
		return nil, session.ErrBadRole
	}
	r.routes.Do(sid, func(rt *route) bool {
		slot := rt.slot(role)
		if *slot != p {
			displaced = *slot
		}
		*slot = p
		return false
	})
	return displaced, nil
}

// Detach clears the role slot only if it still holds the peer, so a displaced
// peer leaving late never removes its replacement. It reports whether the
// slot was cleared.
func (r *Relay) Detach(sid session.ID, role session.Role, p Peer) (cleared bool) {
	if !role.Valid() {
		return false
	}
	r.routes.Peek(sid, func(rt *route) bool {
		if slot := rt.slot(role); *slot != nil && *slot == p {
			*slot = nil
			cleared = true
		}
		return rt.empty()
	})
	return
}

// Relay forwards the message verbatim to the other leg of the session.
// An empty or failing destination is not an error.
func (r *Relay) Relay(sid session.ID, from session.Role, message []byte) (out Outcome, err error) {
	if !from.Valid() {
		return Dropped, session.ErrBadRole
	}
	to := from.Other()
	r.routes.Peek(sid, func(rt *route) bool {
		dst := *rt.slot(to)
		if dst == nil {
			return rt.empty()
		}
		if err := dst.Send(message); err != nil {
			r.log.Warn().Err(err).
				Str(logger.SessionField, sid.String()).
				Str(logger.RoleField, string(to)).
				Msg("signal delivery failed")
			out = Failed
			return false
		}
		out = Delivered
		return false
	})
	return out, nil
}

// Slots lists the occupied roles of the session.
func (r *Relay) Slots(sid session.ID) (roles []session.Role) {
	r.routes.Peek(sid, func(rt *route) bool {
		if rt.analyst != nil {
			roles = append(roles, session.Analyst)
		}
		if rt.client != nil {
			roles = append(roles, session.Client)
		}
		return rt.empty()
	})
	return
}

// Sessions returns the number of sessions with at least one occupied slot.
func (r *Relay) Sessions() int { return r.routes.Len() }
