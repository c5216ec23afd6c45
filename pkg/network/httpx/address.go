package httpx

import (
	"net"
	"strconv"
	"strings"
)

type Address string

// SplitHostPort returns the host and the numeric port of the address,
// a missing or non-numeric port comes back as zero.
func (a Address) SplitHostPort() (string, int) {
	host, port, err := net.SplitHostPort(string(a))
	if err != nil {
		return string(a), 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return host, 0
	}
	return host, p
}

// buildAddress joins network host from the first param
// with the port value of a listener from the second param.
//
// As example, address host.com:8080 and listener 123.123.123.123:8888 will be
// transformed to host.com:8888.
func buildAddress(address string, l Listener) string {
	addr, _, err := net.SplitHostPort(address)
	if err != nil {
		addr = address
	}
	if addr == "" {
		addr = "localhost"
	}

	port := l.GetPort()
	if port > 0 && port != 80 && port != 443 {
		addr += ":" + strconv.Itoa(port)
	}
	return addr
}

func extractHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.Contains(addr, "]") {
		return addr[:i]
	}
	return addr
}
