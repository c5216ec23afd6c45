package httpx

import (
	"errors"
	"net"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"github.com/csremote/broker/pkg/logger"
)

const maxPortRollAttempts = 42

type Listener struct {
	net.Listener
}

// NewListener opens a TCP listener on the address. With rollPorts set
// a busy port makes it try the following ones.
func NewListener(address string, rollPorts bool, log *logger.Logger) (*Listener, error) {
	ls, err := net.Listen("tcp", address)
	if err != nil {
		if rollPorts && isErrorAddressAlreadyInUse(err) {
			host, port := Address(address).SplitHostPort()
			for i := port + 1; i < port+maxPortRollAttempts; i++ {
				ls, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(i)))
				if err == nil {
					return &Listener{ls}, nil
				}
				log.Debug().Err(err).Msgf("port roll %v", i)
			}
		}
		return nil, err
	}
	return &Listener{ls}, nil
}

func (l Listener) GetPort() int {
	if l.Listener == nil {
		return 0
	}
	tcp, ok := l.Addr().(*net.TCPAddr)
	if !ok || tcp == nil {
		return 0
	}
	return tcp.Port
}

func isErrorAddressAlreadyInUse(err error) bool {
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const WSAEADDRINUSE = 10048
	if runtime.GOOS == "windows" && errErrno == WSAEADDRINUSE {
		return true
	}
	return false
}
