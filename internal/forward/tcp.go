package forward

import (
	"fmt"
	"net"
	"strconv"
	"time"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// TCP forwards a loopback port to a port on another address reachable over
// plain TCP, e.g. a browser in a container or VM.
type TCP struct {
	RemoteHost  string
	BindHost    string        // default 127.0.0.1
	DialTimeout time.Duration // default 5s
}

// Create listens locally and proxies every connection to RemoteHost:remotePort.
func (f *TCP) Create(localPort, remotePort int, reverse bool) (Handle, error) {
	if !reverse {
		return nil, fmt.Errorf("forward: tcp: %w", ErrDirectionUnsupported)
	}
	if remotePort <= 0 {
		return nil, fmt.Errorf("forward: invalid remote port %d", remotePort)
	}

	bind := f.BindHost
	if bind == "" {
		bind = "127.0.0.1"
	}
	dialTimeout := f.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	addr := net.JoinHostPort(bind, strconv.Itoa(localPort))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &PortAllocationError{Addr: addr, Err: err}
	}
	actual := l.Addr().(*net.TCPAddr).Port

	target := net.JoinHostPort(f.RemoteHost, strconv.Itoa(remotePort))
	t := newTunnel("tcp", bind, actual, remotePort, l, func() (net.Conn, error) {
		return net.DialTimeout("tcp", target, dialTimeout)
	})

	L_info("forward: tcp tunnel created", "localPort", actual, "remote", target)
	return t, nil
}
