package coordinator

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/csremote/broker/pkg/chat"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/session"
	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"
)

type fakeDirectory struct {
	mu       sync.Mutex
	sessions map[session.ID]session.Participants
	ended    map[session.ID]bool
	messages []chat.Message
	next     int64
	attempts int
	dirErr   error
	sinkErr  error
	// endOnLookup ends the session right after SessionExists reports it
	endOnLookup bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		sessions: map[session.ID]session.Participants{42: {Analyst: 1, Client: 2}},
		ended:    map[session.ID]bool{},
	}
}

func (d *fakeDirectory) SessionExists(_ context.Context, id session.ID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dirErr != nil {
		return false, d.dirErr
	}
	_, ok := d.sessions[id]
	ok = ok && !d.ended[id]
	if ok && d.endOnLookup {
		d.ended[id] = true
	}
	return ok, nil
}

func (d *fakeDirectory) SessionParticipants(_ context.Context, id session.ID) (session.Participants, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.sessions[id]
	if !ok || d.ended[id] {
		return p, session.ErrNotFound
	}
	return p, nil
}

func (d *fakeDirectory) PersistChatMessage(_ context.Context, _ session.ID, identity session.Identity, text string) (chat.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.sinkErr != nil {
		return chat.Receipt{}, d.sinkErr
	}
	d.next++
	r := chat.Receipt{ID: d.next, Timestamp: time.Date(2024, 5, 1, 12, 0, 0, int(d.next), time.UTC)}
	d.messages = append(d.messages, chat.NewMessage(r, identity, text))
	return r, nil
}

func (d *fakeDirectory) StartSession(_ context.Context, analyst, client session.Identity, _ string) (session.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := session.ID(100 + len(d.sessions))
	d.sessions[id] = session.Participants{Analyst: analyst, Client: client}
	return id, nil
}

func (d *fakeDirectory) EndSession(_ context.Context, id session.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[id]; !ok || d.ended[id] {
		return session.ErrNotFound
	}
	d.ended[id] = true
	return nil
}

func (d *fakeDirectory) ChatHistory(_ context.Context, _ session.ID, _ int) ([]chat.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chat.Message(nil), d.messages...), nil
}

func (d *fakeDirectory) set(fn func(d *fakeDirectory)) { d.mu.Lock(); fn(d); d.mu.Unlock() }

func newTestHub(t *testing.T, opts Options) (*Hub, *fakeDirectory, *httptest.Server) {
	t.Helper()
	dir := newFakeDirectory()
	hub := NewHub(Deps{Directory: dir, Sink: dir, Starter: dir, History: dir}, opts, logger.Nop())
	srv := httptest.NewServer(hub.Routes())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})
	return hub, dir, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *gws.Conn {
	t.Helper()
	ws, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %v: %v", path, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *gws.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(gws.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, ws *gws.Conn) []byte {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, m, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func readChat(t *testing.T, ws *gws.Conn) chat.Message {
	t.Helper()
	var m chat.Message
	if err := json.Unmarshal(read(t, ws), &m); err != nil {
		t.Fatalf("bad chat frame: %v", err)
	}
	return m
}

// silent checks that nothing arrives for a short while.
// The connection can not be read after that.
func silent(t *testing.T, ws *gws.Conn) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, m, err := ws.ReadMessage(); err == nil {
		t.Errorf("unexpected frame %s", m)
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %v", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChatEchoToAllIncludingSender(t *testing.T) {
	hub, dir, srv := newTestHub(t, Options{})

	analyst := dial(t, srv, "/ws/chat/42")
	client := dial(t, srv, "/ws/chat/42")
	eventually(t, func() bool { return hub.fanout.Subscribers(42) == 2 }, "subscribers")

	send(t, client, `{"identity": 2, "text": "hi"}`)

	for name, ws := range map[string]*gws.Conn{"analyst": analyst, "client": client} {
		m := readChat(t, ws)
		if m.ID != 1 || m.Identity != 2 || m.Text != "hi" {
			t.Errorf("%v got %+v", name, m)
		}
		if !m.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 1, time.UTC)) {
			t.Errorf("%v got a non canonical timestamp %v", name, m.Timestamp)
		}
	}
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if len(dir.messages) != 1 {
		t.Errorf("expected one persisted message, have %v", len(dir.messages))
	}
}

func TestChatCanonicalWireFormat(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{})
	ws := dial(t, srv, "/ws/chat/42")
	eventually(t, func() bool { return hub.fanout.Subscribers(42) == 1 }, "subscriber")

	send(t, ws, `{"identity": 1, "text": "  hello  ", "id": 999, "timestamp": "1999-01-01T00:00:00Z"}`)
	var raw map[string]any
	if err := json.Unmarshal(read(t, ws), &raw); err != nil {
		t.Fatal(err)
	}
	if raw["id"] != float64(1) || raw["text"] != "hello" || raw["timestamp"] != "2024-05-01T12:00:00.000000001Z" {
		t.Errorf("unexpected echo %v", raw)
	}
	if len(raw) != 4 {
		t.Errorf("expected exactly id, identity, text, timestamp, got %v", raw)
	}
}

func TestChatDropsBadFramesAndKeepsConnection(t *testing.T) {
	hub, dir, srv := newTestHub(t, Options{MaxText: 5})
	ws := dial(t, srv, "/ws/chat/42")
	eventually(t, func() bool { return hub.fanout.Subscribers(42) == 1 }, "subscriber")

	send(t, ws, `{"identity": 3, "text": "intruder"}`)
	send(t, ws, `not json`)
	send(t, ws, `{"identity": 1, "text": "   "}`)
	send(t, ws, `{"identity": 1, "text": "too long"}`)
	send(t, ws, `{"text": "nobody"}`)

	dir.set(func(d *fakeDirectory) { d.sinkErr = errors.New("db down") })
	send(t, ws, `{"identity": 1, "text": "lost"}`)
	eventually(t, func() bool { dir.mu.Lock(); defer dir.mu.Unlock(); return dir.attempts == 1 }, "sink attempt")
	if hub.fanout.Subscribers(42) != 1 {
		t.Errorf("a rejected frame detached the socket")
	}

	dir.set(func(d *fakeDirectory) { d.sinkErr = nil })
	send(t, ws, `{"identity": 1, "text": "ok"}`)
	// nothing rejected went out before it
	if m := readChat(t, ws); m.Text != "ok" || m.Identity != 1 || m.ID != 1 {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestChatLegacyFields(t *testing.T) {
	_, _, srv := newTestHub(t, Options{})
	ws := dial(t, srv, "/ws/chat/42")

	send(t, ws, `{"usuario_id": 2, "mensagem": " oi "}`)
	m := readChat(t, ws)
	if m.Identity != 2 || m.Text != "oi" {
		t.Errorf("unexpected echo %+v", m)
	}
}

func TestChatOrderPerSession(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{})
	a := dial(t, srv, "/ws/chat/42")
	b := dial(t, srv, "/ws/chat/42")
	eventually(t, func() bool { return hub.fanout.Subscribers(42) == 2 }, "subscribers")

	for i := range 20 {
		send(t, a, `{"identity": 1, "text": "m`+string(rune('a'+i))+`"}`)
	}
	for _, ws := range []*gws.Conn{a, b} {
		var last int64
		for range 20 {
			m := readChat(t, ws)
			if m.ID <= last {
				t.Fatalf("out of order: %v after %v", m.ID, last)
			}
			last = m.ID
		}
	}
}

func TestChatUnsubscribeOnDisconnect(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{})
	ws := dial(t, srv, "/ws/chat/42")
	eventually(t, func() bool { return hub.fanout.Subscribers(42) == 1 }, "subscriber")
	_ = ws.Close()
	eventually(t, func() bool { return hub.fanout.Sessions() == 0 }, "session collected")
	eventually(t, func() bool { return hub.conns.IsEmpty() }, "conn released")
}

func expectClose(t *testing.T, srv *httptest.Server, path string, code int) {
	t.Helper()
	ws := dial(t, srv, path)
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	if !gws.IsCloseError(err, code) {
		t.Errorf("%v: expected close %v, got %v", path, code, err)
	}
}

func TestUnknownSessionIsClosed(t *testing.T) {
	_, dir, srv := newTestHub(t, Options{})
	expectClose(t, srv, "/ws/chat/7", 4004)
	expectClose(t, srv, "/ws/signaling/7", 4004)

	dir.set(func(d *fakeDirectory) { d.ended[42] = true })
	expectClose(t, srv, "/ws/chat/42", 4004)

	dir.set(func(d *fakeDirectory) { d.dirErr = errors.New("crud layer down") })
	expectClose(t, srv, "/ws/chat/42", 1011)
	expectClose(t, srv, "/ws/signaling/42", 1011)
}

func TestSessionEndedDuringChatAttach(t *testing.T) {
	hub, dir, srv := newTestHub(t, Options{})
	dir.set(func(d *fakeDirectory) { d.endOnLookup = true })
	expectClose(t, srv, "/ws/chat/42", 4004)
	if n := hub.fanout.Subscribers(42); n != 0 {
		t.Errorf("ended session got %v subscribers", n)
	}
}

func TestBadSessionPath(t *testing.T) {
	_, _, srv := newTestHub(t, Options{})
	_, resp, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat/abc", nil)
	if err == nil {
		t.Fatalf("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("expected 400, got %v", resp)
	}
}

func TestSignalingRelay(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{})
	analyst := dial(t, srv, "/ws/signaling/42")
	client := dial(t, srv, "/ws/signaling/42")

	send(t, analyst, `{"role": "analyst"}`)
	send(t, client, `{"role": "cliente"}`)
	eventually(t, func() bool { return len(hub.relay.Slots(42)) == 2 }, "both slots")

	offer := `{"type":"offer","sdp":"v=0\r\n o=- 1 2 IN IP4 127.0.0.1"}`
	send(t, analyst, offer)
	if got := string(read(t, client)); got != offer {
		t.Errorf("expected verbatim %v, got %v", offer, got)
	}
	answer := `{"type":"answer", "sdp": "x"}`
	send(t, client, answer)
	if got := string(read(t, analyst)); got != answer {
		t.Errorf("expected verbatim %v, got %v", answer, got)
	}
	silent(t, client)
}

func TestSignalingBeforeDeclarationDropped(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{})
	analyst := dial(t, srv, "/ws/signaling/42")
	client := dial(t, srv, "/ws/signaling/42")
	send(t, analyst, `{"role": "analyst"}`)
	eventually(t, func() bool { return len(hub.relay.Slots(42)) == 1 }, "analyst slot")

	send(t, client, `{"candidate": "early"}`)
	silent(t, analyst)

	// relaying to an empty slot is a silent drop
	send(t, analyst, `{"candidate": "nobody"}`)
	send(t, analyst, `[1, 2]`)
	send(t, analyst, `{"role": 5}`)
	send(t, analyst, `{"role": "observer"}`)
	if got := hub.relay.Slots(42); len(got) != 1 || got[0] != session.Analyst {
		t.Errorf("bad declarations changed slots: %v", got)
	}
}

func TestSignalingDefaultRole(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{DefaultRole: session.Client})
	client := dial(t, srv, "/ws/signaling/42")
	eventually(t, func() bool { return len(hub.relay.Slots(42)) == 1 }, "placeholder slot")

	// the second socket takes the placeholder slot over, then moves to its own role
	analyst := dial(t, srv, "/ws/signaling/42")
	eventually(t, func() bool { return hub.conns.Len() == 2 }, "second socket")
	send(t, analyst, `{"role": "analyst"}`)
	eventually(t, func() bool {
		s := hub.relay.Slots(42)
		return len(s) == 1 && s[0] == session.Analyst
	}, "analyst slot")

	send(t, client, `{"role": "client"}`)
	eventually(t, func() bool { return len(hub.relay.Slots(42)) == 2 }, "both slots")
	send(t, analyst, `{"candidate": 1}`)
	if got := string(read(t, client)); got != `{"candidate": 1}` {
		t.Errorf("unexpected %v", got)
	}
}

func TestSignalingLegacyDeclaration(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{DefaultRole: session.Client})
	client := dial(t, srv, "/ws/signaling/42")
	eventually(t, func() bool { return len(hub.relay.Slots(42)) == 1 }, "placeholder slot")
	analyst := dial(t, srv, "/ws/signaling/42")
	eventually(t, func() bool { return hub.conns.Len() == 2 }, "second socket")
	send(t, analyst, `{"role": "analyst"}`)
	eventually(t, func() bool {
		s := hub.relay.Slots(42)
		return len(s) == 1 && s[0] == session.Analyst
	}, "analyst slot")

	send(t, client, `{"user_type": "cliente"}`)
	eventually(t, func() bool { return len(hub.relay.Slots(42)) == 2 }, "both slots")
	send(t, client, `{"type": "answer"}`)
	if got := string(read(t, analyst)); got != `{"type": "answer"}` {
		t.Fatalf("declaration leaked to the other leg, got %v", got)
	}

	send(t, client, `{"user_type": "analista"}`)
	eventually(t, func() bool {
		s := hub.relay.Slots(42)
		return len(s) == 1 && s[0] == session.Analyst
	}, "client moved to the analyst slot")
	silent(t, analyst)
}

func TestSignalingReattach(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{})
	analyst := dial(t, srv, "/ws/signaling/42")
	first := dial(t, srv, "/ws/signaling/42")
	send(t, analyst, `{"role": "analyst"}`)
	send(t, first, `{"role": "client"}`)
	eventually(t, func() bool { return len(hub.relay.Slots(42)) == 2 }, "both slots")

	second := dial(t, srv, "/ws/signaling/42")
	send(t, second, `{"role": "client"}`)
	// frames of one socket are handled in order, the marker arrives after the takeover
	send(t, second, `{"marker": true}`)
	if got := string(read(t, analyst)); got != `{"marker": true}` {
		t.Fatalf("unexpected %v", got)
	}

	send(t, analyst, `{"type": "offer"}`)
	if got := string(read(t, second)); got != `{"type": "offer"}` {
		t.Errorf("new socket got %v", got)
	}
	silent(t, first)

	// the displaced socket leaving must not clear the slot of its replacement
	_ = first.Close()
	eventually(t, func() bool { return hub.conns.Len() == 2 }, "displaced socket released")
	send(t, analyst, `{"type": "candidate"}`)
	if got := string(read(t, second)); got != `{"type": "candidate"}` {
		t.Errorf("replacement lost its slot, got %v", got)
	}
}

func TestSignalingReassignRole(t *testing.T) {
	hub, _, srv := newTestHub(t, Options{})
	ws := dial(t, srv, "/ws/signaling/42")
	send(t, ws, `{"role": "client"}`)
	eventually(t, func() bool { s := hub.relay.Slots(42); return len(s) == 1 && s[0] == session.Client }, "client slot")

	send(t, ws, `{"role": "analyst"}`)
	eventually(t, func() bool { s := hub.relay.Slots(42); return len(s) == 1 && s[0] == session.Analyst }, "analyst slot")

	_ = ws.Close()
	eventually(t, func() bool { return hub.relay.Sessions() == 0 }, "slots cleared")
}

func TestShutdownClosesSockets(t *testing.T) {
	dir := newFakeDirectory()
	hub := NewHub(Deps{Directory: dir, Sink: dir}, Options{}, logger.Nop())
	srv := httptest.NewServer(hub.Routes())
	defer srv.Close()

	ws := dial(t, srv, "/ws/chat/42")
	eventually(t, func() bool { return hub.conns.Len() == 1 }, "tracked conn")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := hub.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := ws.ReadMessage(); !gws.IsCloseError(err, gws.CloseGoingAway) {
		t.Errorf("expected going away, got %v", err)
	}
}
