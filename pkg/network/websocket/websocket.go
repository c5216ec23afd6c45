package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/csremote/broker/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	CloseNormal         = websocket.CloseNormalClosure
	CloseGoingAway      = websocket.CloseGoingAway
	CloseInternalError  = websocket.CloseInternalServerErr
	CloseTryAgainLater  = websocket.CloseTryAgainLater
	CloseSessionMissing = 4004

	closeGrace = time.Second
)

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("send queue is full")
)

type Options struct {
	QueueSize      int
	MaxMessageSize int64
	// PingInterval enables keep-alive pings, the peer has to answer
	// within 10/9 of it.
	PingInterval time.Duration
	WriteWait    time.Duration
	// Origin restricts accepted websocket origins, empty allows any.
	Origin string
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
}

// Conn is a server-side websocket with a single writer goroutine
// fed by a bounded queue. Frames sent through one Conn keep their order.
type Conn struct {
	id   ConnID
	conn deadlinedConn
	send chan frame
	opts Options
	log  *logger.Logger

	mu        sync.Mutex
	closed    bool
	closeCode int
	closeMsg  string
	stop      chan struct{}

	writerDone chan struct{}
	done       chan struct{}
}

func upgrader(opts Options) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
		CheckOrigin: func(r *http.Request) bool {
			return opts.Origin == "" || r.Header.Get("Origin") == opts.Origin
		},
	}
}

// Upgrade switches the HTTP connection to websocket and starts its writer.
// The caller must run Listen afterward to release the connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options, log *logger.Logger) (*Conn, error) {
	opts.defaults()
	sock, err := upgrader(opts).Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	id := newConnID()
	c := &Conn{
		id:         id,
		conn:       deadlinedConn{sock: sock, wt: opts.WriteWait},
		send:       make(chan frame, opts.QueueSize),
		opts:       opts,
		log:        log.Extend(log.With().Str(logger.ConnField, id.Short())),
		closeCode:  CloseNormal,
		stop:       make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.writer()
	return c, nil
}

// Reject upgrades the connection only to close it right away with the code.
func Reject(w http.ResponseWriter, r *http.Request, opts Options, code int, reason string) error {
	opts.defaults()
	sock, err := upgrader(opts).Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn := deadlinedConn{sock: sock, wt: opts.WriteWait}
	err = conn.writeClose(code, reason)
	// wait for the peer to acknowledge the close
	_ = sock.SetReadDeadline(time.Now().Add(closeGrace))
	for err == nil {
		_, err = conn.read()
	}
	return sock.Close()
}

func (c *Conn) Id() ConnID { return c.id }

// Done is closed once the connection is fully released.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues a text frame without blocking. A full queue closes
// the connection.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	select {
	case c.send <- frame{kind: websocket.TextMessage, data: data}:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()
	c.log.Warn().Msg("send queue overflow")
	c.CloseWith(CloseTryAgainLater, "slow consumer")
	return ErrQueueFull
}

// CloseWith stops accepting frames, flushes the queue and sends
// a close frame with the code to the peer. Only the first call counts.
func (c *Conn) CloseWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeMsg = code, reason
	close(c.stop)
}

func (c *Conn) Close() { c.CloseWith(CloseNormal, "") }

// Listen pumps incoming messages into the handler until the connection
// ends. Blocking, serializes all reads. A nil handler discards messages.
func (c *Conn) Listen(onMessage func([]byte)) {
	defer func() {
		c.CloseWith(CloseNormal, "")
		<-c.writerDone
		_ = c.conn.sock.Close()
		close(c.done)
		c.log.Debug().Msg("ws closed")
	}()
	sock := c.conn.sock
	sock.SetReadLimit(c.opts.MaxMessageSize)
	if c.opts.PingInterval > 0 {
		pongTime := c.opts.PingInterval * 10 / 9
		_ = sock.SetReadDeadline(time.Now().Add(pongTime))
		sock.SetPongHandler(func(string) error { return sock.SetReadDeadline(time.Now().Add(pongTime)) })
	}
	for {
		message, err := c.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("ws read")
			}
			return
		}
		if onMessage != nil {
			onMessage(message)
		}
	}
}

// writer pumps frames from the send queue to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (c *Conn) writer() {
	var tick <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer close(c.writerDone)

	failed := false
	for !failed {
		select {
		case f := <-c.send:
			if err := c.conn.write(f.kind, f.data); err != nil {
				c.log.Debug().Err(err).Msg("ws write")
				failed = true
			}
		case <-tick:
			if err := c.conn.write(websocket.PingMessage, nil); err != nil {
				failed = true
			}
		case <-c.stop:
			c.flush()
			return
		}
	}
	// the socket is broken, make the reader quit
	c.CloseWith(CloseInternalError, "")
	_ = c.conn.sock.Close()
}

func (c *Conn) flush() {
	for {
		select {
		case f := <-c.send:
			if err := c.conn.write(f.kind, f.data); err != nil {
				return
			}
		default:
			c.mu.Lock()
			code, reason := c.closeCode, c.closeMsg
			c.mu.Unlock()
			_ = c.conn.writeClose(code, reason)
			_ = c.conn.sock.SetReadDeadline(time.Now().Add(closeGrace))
			return
		}
	}
}
