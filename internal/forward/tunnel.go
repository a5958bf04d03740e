package forward

import (
	"errors"
	"io"
	"net"
	"sync"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// tunnel accepts connections on a listener and pipes each one to a freshly
// dialed peer. It backs both the TCP and SSH forwarders.
type tunnel struct {
	name       string
	host       string
	localPort  int
	remotePort int

	listener net.Listener
	dial     func() (net.Conn, error)
	onClose  func() error

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func newTunnel(name, host string, localPort, remotePort int, l net.Listener, dial func() (net.Conn, error)) *tunnel {
	t := &tunnel{
		name:       name,
		host:       host,
		localPort:  localPort,
		remotePort: remotePort,
		listener:   l,
		dial:       dial,
		conns:      make(map[net.Conn]struct{}),
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return t
}

func (t *tunnel) LocalPort() int  { return t.localPort }
func (t *tunnel) RemotePort() int { return t.remotePort }
func (t *tunnel) Host() string    { return t.host }

func (t *tunnel) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops accepting, drops live connections and waits for the pipes to
// finish. Calling it again is a no-op.
func (t *tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for c := range t.conns {
		_ = c.Close()
	}
	t.mu.Unlock()

	err := t.listener.Close()
	t.wg.Wait()

	if t.onClose != nil {
		if cerr := t.onClose(); cerr != nil && err == nil {
			err = cerr
		}
	}

	L_debug("forward: closed", "kind", t.name, "local", t.localPort, "remote", t.remotePort)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (t *tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if !t.Closed() {
				L_warn("forward: accept failed, tunnel stopping", "kind", t.name, "local", t.localPort, "error", err)
			}
			return
		}
		if !t.track(conn) {
			_ = conn.Close()
			return
		}
		t.wg.Add(1)
		go t.pipe(conn)
	}
}

func (t *tunnel) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *tunnel) untrack(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
	_ = c.Close()
}

func (t *tunnel) pipe(conn net.Conn) {
	defer t.wg.Done()
	defer t.untrack(conn)

	peer, err := t.dial()
	if err != nil {
		L_debug("forward: dial failed", "kind", t.name, "remote", t.remotePort, "error", err)
		return
	}
	if !t.track(peer) {
		_ = peer.Close()
		return
	}
	defer t.untrack(peer)

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(peer, conn)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, peer)
		done <- struct{}{}
	}()
	<-done
}
