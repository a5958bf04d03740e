// Package forward makes a remote debug port reachable from this host.
//
// A Handle maps a local port to a remote port. On the same host the mapping
// may be the identity (DoNothing); across machine boundaries it is a real
// tunnel (TCP proxy or SSH). Handles are owned by whoever created them and
// Close is idempotent.
package forward

import (
	"errors"
	"fmt"
)

// ErrDirectionUnsupported is returned by factories that can only forward in one
// direction.
var ErrDirectionUnsupported = errors.New("forwarder does not support this direction")

// Handle is a live (or closed) port mapping.
type Handle interface {
	LocalPort() int
	RemotePort() int
	// Host is the address the local port is reachable on.
	Host() string
	Close() error
	Closed() bool
}

// Factory creates handles. localPort 0 lets the factory pick a free port.
//
// reverse selects the direction: true forwards connections made on this
// host's local port to the remote port (the host reaches into the remote
// machine, as needed for DevTools); false exposes localPort on the remote
// side instead.
type Factory interface {
	Create(localPort, remotePort int, reverse bool) (Handle, error)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(localPort, remotePort int, reverse bool) (Handle, error)

// Create calls f.
func (f FactoryFunc) Create(localPort, remotePort int, reverse bool) (Handle, error) {
	return f(localPort, remotePort, reverse)
}

// PortAllocationError reports a port that could not be bound. It is fatal for
// the current bootstrap attempt and is never retried on the same port.
type PortAllocationError struct {
	Addr string
	Err  error
}

func (e *PortAllocationError) Error() string {
	return fmt.Sprintf("cannot allocate port %s: %v", e.Addr, e.Err)
}

func (e *PortAllocationError) Unwrap() error {
	return e.Err
}

// IsPortAllocation reports whether err is (or wraps) a PortAllocationError.
func IsPortAllocation(err error) bool {
	var pae *PortAllocationError
	return errors.As(err, &pae)
}

// Describe formats a handle for logs.
func Describe(h Handle) string {
	if h == nil {
		return "<none>"
	}
	state := "open"
	if h.Closed() {
		state = "closed"
	}
	return fmt.Sprintf("%s:%d->%d (%s)", h.Host(), h.LocalPort(), h.RemotePort(), state)
}
