package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	kind int
	data []byte
}

type deadlinedConn struct {
	sock *websocket.Conn
	wt   time.Duration
}

func (conn *deadlinedConn) read() (message []byte, err error) {
	_, message, err = conn.sock.ReadMessage()
	return
}

func (conn *deadlinedConn) write(t int, mess []byte) error {
	if err := conn.sock.SetWriteDeadline(time.Now().Add(conn.wt)); err != nil {
		return err
	}
	return conn.sock.WriteMessage(t, mess)
}

func (conn *deadlinedConn) writeClose(code int, reason string) error {
	return conn.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(conn.wt))
}
