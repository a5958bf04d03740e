// Package bootstrap turns "a browser is (probably) starting" into a bound
// protocol client.
//
// Each attempt locates the debug endpoint, makes sure the held forwarder
// points at it, probes the agent through the forwarder and finally connects a
// client. Transient failures are retried until the timeout; configuration and
// port allocation failures end the call immediately.
package bootstrap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/cdpbridge/internal/cdp"
	"github.com/roelfdiedericks/cdpbridge/internal/endpoint"
	"github.com/roelfdiedericks/cdpbridge/internal/forward"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/probe"
	"github.com/roelfdiedericks/cdpbridge/internal/wait"
)

// ConnectionTimeoutError is returned when no client could be bound in time.
type ConnectionTimeoutError struct {
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	Last     error // last transient failure, may be nil
}

func (e *ConnectionTimeoutError) Error() string {
	msg := fmt.Sprintf("no devtools connection after %s (%d attempts)", e.Elapsed.Round(time.Millisecond), e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

// Unwrap exposes both wait.ErrTimeout and the last transient failure.
func (e *ConnectionTimeoutError) Unwrap() []error {
	if e.Last == nil {
		return []error{wait.ErrTimeout}
	}
	return []error{wait.ErrTimeout, e.Last}
}

// ProcessGoneError is returned as soon as the browser process is known to have
// exited. It does not wrap wait.ErrTimeout or *ConnectionTimeoutError, so a
// caller that retries on timeouts never retries a dead browser.
type ProcessGoneError struct {
	Elapsed  time.Duration
	Attempts int
	Last     error // last transient failure, may be nil
}

func (e *ProcessGoneError) Error() string {
	msg := fmt.Sprintf("browser process exited after %s (%d attempts)", e.Elapsed.Round(time.Millisecond), e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *ProcessGoneError) Unwrap() error {
	return e.Last
}

// IsProcessGone reports whether err is (or wraps) a ProcessGoneError.
func IsProcessGone(err error) bool {
	var pge *ProcessGoneError
	return errors.As(err, &pge)
}

// Stats counts the work done by a Bootstrapper over its lifetime.
type Stats struct {
	Attempts          int
	Locates           int
	Probes            int
	ForwardersCreated int
	ForwardersClosed  int
	ConnectFailures   int
	Bound             int
}

// Bootstrapper owns one forwarder between calls. It is not safe to run two
// Bootstrap calls at once; the second one blocks until the first returns.
type Bootstrapper struct {
	Locator    endpoint.Locator
	Forwarders forward.Factory
	Probe      probe.Prober
	Clients    cdp.Factory

	// ProcessAlive, when set, reports whether the browser process still runs.
	ProcessAlive func() bool

	Poll wait.Options

	mu    sync.Mutex
	fwd   forward.Handle
	stats Stats
}

// New creates a bootstrapper from its collaborators.
func New(loc endpoint.Locator, fwd forward.Factory, p probe.Prober, clients cdp.Factory) *Bootstrapper {
	return &Bootstrapper{
		Locator:    loc,
		Forwarders: fwd,
		Probe:      p,
		Clients:    clients,
	}
}

// Stats returns a snapshot of the counters.
func (b *Bootstrapper) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Forwarder returns the currently held forwarder, or nil.
func (b *Bootstrapper) Forwarder() forward.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fwd
}

// CloseForwarder closes and forgets the held forwarder. Safe to call any time
// and more than once.
func (b *Bootstrapper) CloseForwarder() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeForwarderLocked()
}

func (b *Bootstrapper) closeForwarderLocked() error {
	if b.fwd == nil {
		return nil
	}
	old := b.fwd
	b.fwd = nil
	b.stats.ForwardersClosed++
	L_debug("bootstrap: closing forwarder", "forwarder", forward.Describe(old))
	return old.Close()
}

// Bootstrap binds a client, retrying transient failures until timeout.
func (b *Bootstrapper) Bootstrap(timeout time.Duration) (cdp.Client, error) {
	if b.Locator == nil || b.Forwarders == nil || b.Probe == nil || b.Clients == nil {
		return nil, errors.New("bootstrap: missing collaborator")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	L_debug("bootstrap: starting", "timeout", timeout)

	var (
		client cdp.Client
		last   error
	)
	res, err := wait.For(timeout, b.Poll, func() (wait.Status, error) {
		b.stats.Attempts++
		c, err := b.attempt(&last)
		if err != nil {
			return wait.Retry, err
		}
		if c != nil {
			client = c
			return wait.Done, nil
		}
		if !b.processAlive() {
			return wait.Retry, errProcessGone
		}
		return wait.Retry, nil
	})

	if err == nil {
		b.stats.Bound++
		L_info("bootstrap: connected", "forwarder", forward.Describe(b.fwd), "attempts", res.Attempts, "elapsed", res.Elapsed.Round(time.Millisecond))
		return client, nil
	}

	// a timeout on the same tick as the exit still reports the exit
	if errors.Is(err, errProcessGone) || (errors.Is(err, wait.ErrTimeout) && !b.processAlive()) {
		L_warn("bootstrap: browser process is gone", "attempts", res.Attempts, "elapsed", res.Elapsed.Round(time.Millisecond))
		return nil, &ProcessGoneError{Elapsed: res.Elapsed, Attempts: res.Attempts, Last: last}
	}

	if !errors.Is(err, wait.ErrTimeout) {
		L_error("bootstrap: failed", "error", err, "attempts", res.Attempts)
		return nil, err
	}

	L_warn("bootstrap: timed out", "timeout", timeout, "attempts", res.Attempts, "last", last)
	return nil, &ConnectionTimeoutError{
		Timeout:  timeout,
		Elapsed:  res.Elapsed,
		Attempts: res.Attempts,
		Last:     last,
	}
}

var errProcessGone = errors.New("browser process exited")

func (b *Bootstrapper) processAlive() bool {
	return b.ProcessAlive == nil || b.ProcessAlive()
}

// attempt runs one locate, forward, probe, connect pass. A nil client with a
// nil error means retry; the reason is stored in last.
func (b *Bootstrapper) attempt(last *error) (cdp.Client, error) {
	b.stats.Locates++
	ep, err := b.Locator.Locate()
	if err != nil {
		if endpoint.IsNotReady(err) {
			L_trace("bootstrap: endpoint not ready", "error", err)
			*last = err
			return nil, nil
		}
		return nil, fmt.Errorf("locate endpoint: %w", err)
	}

	h, err := b.ensureForwarder(ep.DebugPort)
	if err != nil {
		return nil, err
	}

	b.stats.Probes++
	ready, err := b.Probe.IsReady(h)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", forward.Describe(h), err)
	}
	if !ready {
		L_trace("bootstrap: agent not ready", "forwarder", forward.Describe(h))
		*last = fmt.Errorf("agent on %s not ready", forward.Describe(h))
		return nil, nil
	}

	client, err := b.Clients.Create(cdp.Config{
		Host:       h.Host(),
		LocalPort:  h.LocalPort(),
		RemotePort: h.RemotePort(),
		Target:     ep.Target,
	})
	if err != nil {
		// the agent can go away between probe and connect
		b.stats.ConnectFailures++
		L_debug("bootstrap: connect failed, retrying", "forwarder", forward.Describe(h), "error", err)
		*last = fmt.Errorf("connect: %w", err)
		return nil, nil
	}
	return client, nil
}

// ensureForwarder keeps the held forwarder when it already targets port and
// otherwise replaces it, closing the old one before creating the new one.
func (b *Bootstrapper) ensureForwarder(port int) (forward.Handle, error) {
	if b.fwd != nil && !b.fwd.Closed() && b.fwd.RemotePort() == port {
		return b.fwd, nil
	}

	if b.fwd != nil {
		L_info("bootstrap: debug port changed, replacing forwarder", "old", forward.Describe(b.fwd), "port", port)
		if err := b.closeForwarderLocked(); err != nil {
			L_warn("bootstrap: closing stale forwarder failed", "error", err)
		}
	}

	h, err := b.Forwarders.Create(0, port, true)
	if err != nil {
		return nil, fmt.Errorf("forward port %d: %w", port, err)
	}
	b.fwd = h
	b.stats.ForwardersCreated++
	L_debug("bootstrap: forwarder created", "forwarder", forward.Describe(h))
	return h, nil
}
