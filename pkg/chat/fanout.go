// Package chat broadcasts session chat messages to every attached socket.
package chat

import (
	"slices"

	"github.com/csremote/broker/pkg/com"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/session"
)

// Subscriber is anything that takes an outgoing frame.
// Send must not block for long, it runs under the session lock.
type Subscriber interface {
	Send(data []byte) error
}

// Delivery reports the result of one broadcast.
type Delivery struct {
	Sent    int
	Evicted int
}

type room struct {
	subs []Subscriber
}

func (r *room) index(s Subscriber) int { return slices.Index(r.subs, s) }

func (r *room) remove(i int) { r.subs = slices.Delete(r.subs, i, i+1) }

// Fanout keeps the subscriber set of every active session.
// Calls for one session are serialized, different sessions do not block each other.
type Fanout struct {
	rooms *com.Lanes[session.ID, *room]
	log   *logger.Logger

	OnEvict func(sid session.ID, s Subscriber, err error)
}

func NewFanout(log *logger.Logger) *Fanout {
	return &Fanout{
		rooms: com.NewLanes[session.ID](func() *room { return &room{} }),
		log:   log,
	}
}

// Subscribe adds the subscriber to the session, adding it twice is a no-op.
func (f *Fanout) Subscribe(sid session.ID, s Subscriber) {
	f.rooms.Do(sid, func(r *room) bool {
		if r.index(s) < 0 {
			r.subs = append(r.subs, s)
		}
		return false
	})
}

// Unsubscribe removes the subscriber and reports whether it was there.
// An emptied session is dropped.
func (f *Fanout) Unsubscribe(sid session.ID, s Subscriber) (removed bool) {
	f.rooms.Peek(sid, func(r *room) bool {
		if i := r.index(s); i >= 0 {
			r.remove(i)
			removed = true
		}
		return len(r.subs) == 0
	})
	return
}

// Broadcast sends the payload to every subscriber of the session.
// A subscriber failing to take it is evicted, the rest still get the payload.
func (f *Fanout) Broadcast(sid session.ID, payload []byte) (d Delivery) {
	f.rooms.Peek(sid, func(r *room) bool {
		d = f.deliver(sid, r, payload)
		return len(r.subs) == 0
	})
	return
}

// Publish runs produce and broadcasts its result inside the session lock,
// so the order of publications is the order of delivery. Nothing is sent
// when produce fails.
func (f *Fanout) Publish(sid session.ID, produce func() ([]byte, error)) (d Delivery, err error) {
	f.rooms.Do(sid, func(r *room) bool {
		var payload []byte
		if payload, err = produce(); err == nil {
			d = f.deliver(sid, r, payload)
		}
		return len(r.subs) == 0
	})
	return
}

// Subscribers returns the number of subscribers of the session.
func (f *Fanout) Subscribers(sid session.ID) (n int) {
	f.rooms.Peek(sid, func(r *room) bool { n = len(r.subs); return n == 0 })
	return
}

// Sessions returns the number of sessions with subscribers.
func (f *Fanout) Sessions() int { return f.rooms.Len() }

func (f *Fanout) deliver(sid session.ID, r *room, payload []byte) (d Delivery) {
	alive := r.subs[:0]
	for _, s := range r.subs {
		if err := s.Send(payload); err != nil {
			d.Evicted++
			f.log.Debug().Err(err).Str(logger.SessionField, sid.String()).Msg("chat subscriber evicted")
			if f.OnEvict != nil {
				f.OnEvict(sid, s, err)
			}
			continue
		}
		d.Sent++
		alive = append(alive, s)
	}
	clear(r.subs[len(alive):])
	r.subs = alive
	return
}
