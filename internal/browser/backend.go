// Package browser owns the lifecycle of one remotely debuggable browser: it
// launches (or finds) the process, binds a protocol client through the
// bootstrapper and tears everything down in order.
package browser

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/roelfdiedericks/cdpbridge/internal/bootstrap"
	"github.com/roelfdiedericks/cdpbridge/internal/cdp"
	"github.com/roelfdiedericks/cdpbridge/internal/endpoint"
	"github.com/roelfdiedericks/cdpbridge/internal/extensions"
	"github.com/roelfdiedericks/cdpbridge/internal/forward"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/probe"
	"github.com/roelfdiedericks/cdpbridge/internal/wait"
)

// ProcessHandle is the part of a browser process the backend needs.
type ProcessHandle interface {
	Alive() bool
	Kill() error
}

// Options wires a Backend.
type Options struct {
	Locator    endpoint.Locator
	Forwarders forward.Factory
	Probe      probe.Prober
	Clients    cdp.Factory

	// Process is killed on Close when OwnsProcess is set.
	Process     ProcessHandle
	OwnsProcess bool

	// Closers run last on Close, e.g. an SSH connection shared by forwarders.
	Closers []io.Closer

	SupportsExtensions bool
	Extensions         []extensions.Expectation

	StartupTimeout       time.Duration
	ExtensionTimeout     time.Duration
	CallTimeout          time.Duration
	Poll                 wait.Options
	ReloadOnStaleBinding bool

	// Device is applied to pages opened with NewPage; nil leaves rod's default.
	Device *devices.Device
}

// Status is a point-in-time view of a backend.
type Status struct {
	ID         string          `json:"id"`
	State      string          `json:"state"`
	Connected  bool            `json:"connected"`
	Forwarder  string          `json:"forwarder"`
	PID        int             `json:"pid,omitempty"`
	Bootstraps bootstrap.Stats `json:"bootstraps"`
}

// Backend binds and owns at most one protocol client and one forwarder.
// Bind and Close are serialized; delegations may run concurrently with each
// other while bound.
type Backend struct {
	ID string

	opts   Options
	boot   *bootstrap.Bootstrapper
	waiter *extensions.Waiter

	opMu sync.Mutex // held for a whole Bind or Close

	mu     sync.RWMutex // guards state and client
	state  State
	client cdp.Client
}

// New creates an unbound backend.
func New(opts Options) (*Backend, error) {
	if opts.Locator == nil || opts.Forwarders == nil || opts.Probe == nil || opts.Clients == nil {
		return nil, errors.New("browser: locator, forwarders, probe and clients are required")
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	if opts.ExtensionTimeout <= 0 {
		opts.ExtensionTimeout = extensions.DefaultTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}

	boot := bootstrap.New(opts.Locator, opts.Forwarders, opts.Probe, opts.Clients)
	boot.Poll = opts.Poll
	if opts.Process != nil {
		boot.ProcessAlive = opts.Process.Alive
	}

	b := &Backend{
		ID:   uuid.New().String(),
		opts: opts,
		boot: boot,
		waiter: extensions.NewWaiter(extensions.Options{
			Poll:                 opts.Poll,
			ReloadOnStaleBinding: opts.ReloadOnStaleBinding,
		}),
		state: Unbound,
	}
	L_debug("browser: backend created", "id", b.ID, "extensions", len(opts.Extensions))
	return b, nil
}

// State returns the current state.
func (b *Backend) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Backend) setState(to State) error {
	if err := checkTransition(b.state, to); err != nil {
		return err
	}
	L_trace("browser: state change", "id", b.ID, "from", b.state, "to", to)
	b.state = to
	return nil
}

// Bind bootstraps a client. Rebinding a bound backend closes the old client
// first. On failure the backend is Unbound and the error is a
// *BrowserGoneError or *ConnectionGoneError.
func (b *Backend) Bind() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return ErrBackendClosed
	}
	if err := b.setState(Bootstrapping); err != nil {
		b.mu.Unlock()
		return err
	}
	old := b.client
	b.client = nil
	b.mu.Unlock()

	if old != nil {
		L_debug("browser: rebinding, closing previous client", "id", b.ID)
		if err := old.Close(); err != nil {
			L_warn("browser: closing previous client failed", "id", b.ID, "error", err)
		}
	}

	client, err := b.boot.Bootstrap(b.opts.StartupTimeout)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		_ = b.setState(Unbound)
		return b.translate(err)
	}
	b.client = client
	if err := b.setState(Bound); err != nil {
		return err
	}
	L_info("browser: bound", "id", b.ID, "forwarder", forward.Describe(b.boot.Forwarder()))
	return nil
}

func (b *Backend) translate(err error) error {
	if bootstrap.IsProcessGone(err) || (b.opts.Process != nil && !b.opts.Process.Alive()) {
		L_error("browser: browser process is gone", "id", b.ID, "error", err)
		return &BrowserGoneError{Err: err}
	}
	L_error("browser: could not bind", "id", b.ID, "error", err)
	return &ConnectionGoneError{Err: err}
}

// Start binds and then waits for configured extensions.
func (b *Backend) Start() error {
	if err := b.Bind(); err != nil {
		return err
	}
	if !b.opts.SupportsExtensions || len(b.opts.Extensions) == 0 {
		return nil
	}
	return b.WaitForExtensions()
}

// Close releases the client, then the forwarder, then an owned process.
// Closing twice is a no-op and the backend stays Closed. A Close issued
// during Bind waits for it to finish.
func (b *Backend) Close() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return nil
	}
	client := b.client
	b.client = nil
	_ = b.setState(Closed)
	b.mu.Unlock()

	var errs []error
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close client: %w", err))
		}
	}
	if err := b.boot.CloseForwarder(); err != nil {
		errs = append(errs, fmt.Errorf("close forwarder: %w", err))
	}
	if b.opts.OwnsProcess && b.opts.Process != nil {
		if err := b.opts.Process.Kill(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range b.opts.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		L_warn("browser: closed with errors", "id", b.ID, "error", err)
	} else {
		L_info("browser: closed", "id", b.ID)
	}
	return err
}

// HasConnection reports whether the backend is bound to a live client.
func (b *Backend) HasConnection() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == Bound && b.client != nil && b.client.IsAlive()
}

// Status returns a snapshot for display. It waits for an in-flight Bind.
func (b *Backend) Status() Status {
	b.mu.RLock()
	state, client := b.state, b.client
	b.mu.RUnlock()

	st := Status{
		ID:         b.ID,
		State:      state.String(),
		Connected:  state == Bound && client != nil && client.IsAlive(),
		Forwarder:  forward.Describe(b.boot.Forwarder()),
		Bootstraps: b.boot.Stats(),
	}
	if p, ok := b.opts.Process.(*Process); ok && p != nil {
		st.PID = p.PID
	}
	return st
}

// withClient runs fn with the bound client under the read lock.
func (b *Backend) withClient(fn func(c cdp.Client) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch {
	case b.state == Closed:
		return ErrBackendClosed
	case b.state != Bound || b.client == nil:
		return ErrNotBound
	}
	return fn(b.client)
}

// WaitForExtensions blocks until every configured extension has loaded.
func (b *Backend) WaitForExtensions() error {
	if !b.opts.SupportsExtensions {
		return ErrExtensionsUnsupported
	}
	return b.withClient(func(c cdp.Client) error {
		return b.waiter.WaitForAll(b.opts.Extensions, c, b.opts.ExtensionTimeout)
	})
}

// Version returns the browser's version info.
func (b *Backend) Version() (*proto.BrowserGetVersionResult, error) {
	var v *proto.BrowserGetVersionResult
	err := b.withClient(func(c cdp.Client) (err error) {
		v, err = c.Version()
		return err
	})
	return v, err
}

// SupportsSystemInfo reports whether the bound browser answers SystemInfo.
func (b *Backend) SupportsSystemInfo() bool {
	info, err := b.SystemInfo()
	if err != nil {
		L_debug("browser: system info unsupported", "id", b.ID, "error", err)
		return false
	}
	return info != nil
}

// SystemInfo returns GPU and machine information.
func (b *Backend) SystemInfo() (*proto.SystemInfoGetInfoResult, error) {
	var info *proto.SystemInfoGetInfoResult
	err := b.withClient(func(c cdp.Client) (err error) {
		info, err = c.SystemInfo()
		return err
	})
	return info, err
}

// StartTracing starts a browser-wide trace.
func (b *Backend) StartTracing(opts cdp.TraceOptions) error {
	return b.withClient(func(c cdp.Client) error {
		return c.StartTracing(opts, b.opts.CallTimeout)
	})
}

// StopTracing stops the trace and returns its events.
func (b *Backend) StopTracing() (*cdp.TraceData, error) {
	var data *cdp.TraceData
	err := b.withClient(func(c cdp.Client) (err error) {
		data, err = c.StopTracing(b.opts.CallTimeout)
		return err
	})
	return data, err
}

// DumpMemory requests a memory dump and returns its id. A zero timeout uses
// the call timeout.
func (b *Backend) DumpMemory(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = b.opts.CallTimeout
	}
	var id string
	err := b.withClient(func(c cdp.Client) (err error) {
		id, err = c.DumpMemory(timeout)
		return err
	})
	return id, err
}

// SetMemoryPressureNotificationsSuppressed enables or disables pressure notifications.
func (b *Backend) SetMemoryPressureNotificationsSuppressed(suppressed bool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = b.opts.CallTimeout
	}
	return b.withClient(func(c cdp.Client) error {
		return c.SetMemoryPressureNotificationsSuppressed(suppressed, timeout)
	})
}

// SimulateMemoryPressureNotification sends a pressure notification.
func (b *Backend) SimulateMemoryPressureNotification(level string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = b.opts.CallTimeout
	}
	return b.withClient(func(c cdp.Client) error {
		return c.SimulateMemoryPressureNotification(level, timeout)
	})
}

// NewPage opens a tab, applying the configured device emulation.
func (b *Backend) NewPage(url string) (*rod.Page, error) {
	var page *rod.Page
	err := b.withClient(func(c cdp.Client) (err error) {
		page, err = c.NewPage(url)
		return err
	})
	if err != nil {
		return nil, err
	}
	if b.opts.Device != nil {
		if err := page.Emulate(*b.opts.Device); err != nil {
			L_warn("browser: device emulation failed", "id", b.ID, "error", err)
		}
	}
	return page, nil
}
