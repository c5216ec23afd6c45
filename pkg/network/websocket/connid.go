package websocket

import "github.com/rs/xid"

// ConnID identifies a socket for the whole broker run.
type ConnID string

func newConnID() ConnID { return ConnID(xid.New().String()) }

func (id ConnID) String() string { return string(id) }

// Short is the counter tail of the id, it tells sockets apart in log lines.
func (id ConnID) Short() string {
	if len(id) <= 5 {
		return string(id)
	}
	return string(id[len(id)-5:])
}
