package forward

import (
	"fmt"
	"sync/atomic"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// DoNothing is the same-host factory: the local port is the remote port.
type DoNothing struct{}

// Create returns an identity mapping. A requested local port must match the
// remote port since nothing is listening in between.
func (DoNothing) Create(localPort, remotePort int, reverse bool) (Handle, error) {
	if remotePort <= 0 {
		return nil, fmt.Errorf("forward: invalid remote port %d", remotePort)
	}
	if localPort != 0 && localPort != remotePort {
		return nil, fmt.Errorf("forward: identity mapping cannot map %d to %d", localPort, remotePort)
	}
	L_trace("forward: identity mapping", "port", remotePort, "reverse", reverse)
	return &identityHandle{port: remotePort}, nil
}

type identityHandle struct {
	port   int
	closed atomic.Bool
}

func (h *identityHandle) LocalPort() int  { return h.port }
func (h *identityHandle) RemotePort() int { return h.port }
func (h *identityHandle) Host() string    { return "127.0.0.1" }
func (h *identityHandle) Closed() bool    { return h.closed.Load() }

func (h *identityHandle) Close() error {
	h.closed.Store(true)
	return nil
}
