package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// RodFactory connects go-rod clients.
type RodFactory struct {
	ConnectTimeout time.Duration // default 10s
	CallTimeout    time.Duration // default 30s, for delegated calls without their own timeout
	Stealth        bool          // NewPage uses go-rod/stealth
}

// Create dials the debugger websocket and attaches a rod.Browser to it.
func (f *RodFactory) Create(cfg Config) (Client, error) {
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return nil, fmt.Errorf("resolve debugger url: %w", err)
	}

	connectTimeout := f.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, wsURL, nil); err != nil {
		return nil, fmt.Errorf("connect %s: %w", wsURL, err)
	}

	browser := rod.New().Client(cdp.New().Start(ws))
	if err := browser.Connect(); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("attach browser: %w", err)
	}

	callTimeout := f.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	L_debug("cdp: client bound", "url", wsURL, "config", cfg.String())
	return &RodClient{
		browser:     browser,
		ws:          ws,
		wsURL:       wsURL,
		callTimeout: callTimeout,
		stealth:     f.Stealth,
	}, nil
}

// RodClient is a Client over a go-rod browser connection. Closing it drops
// the connection; the browser process keeps running.
type RodClient struct {
	browser     *rod.Browser
	ws          *cdp.WebSocket
	wsURL       string
	callTimeout time.Duration
	stealth     bool

	mu      sync.Mutex
	closed  bool
	tracing *traceSession
}

type traceSession struct {
	mu     sync.Mutex
	events []json.RawMessage
	done   chan struct{}
}

// Browser exposes the underlying rod.Browser.
func (c *RodClient) Browser() *rod.Browser {
	return c.browser
}

// WebSocketURL is the URL the client dialed.
func (c *RodClient) WebSocketURL() string {
	return c.wsURL
}

func (c *RodClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// timed returns a browser bounded by d (callTimeout when d <= 0). release must
// be called once the call returns so the timer does not outlive it.
func (c *RodClient) timed(d time.Duration) (b *rod.Browser, release func()) {
	if d <= 0 {
		d = c.callTimeout
	}
	b = c.browser.Timeout(d)
	return b, func() { b.CancelTimeout() }
}

// IsAlive asks the browser for its version.
func (c *RodClient) IsAlive() (ok bool) {
	if c.isClosed() {
		return false
	}
	// rod panics on a torn down client instead of returning an error
	defer func() {
		if r := recover(); r != nil {
			L_debug("cdp: liveness check panicked, connection is dead", "panic", r)
			ok = false
		}
	}()
	tb, release := c.timed(5 * time.Second)
	defer release()
	_, err := proto.BrowserGetVersion{}.Call(tb)
	return err == nil
}

// Close drops the websocket. Safe to call more than once.
func (c *RodClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.ws.Close()
	L_debug("cdp: client closed", "url", c.wsURL)
	return err
}

// Version returns the browser's product and protocol versions.
func (c *RodClient) Version() (*proto.BrowserGetVersionResult, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	tb, release := c.timed(0)
	defer release()
	return proto.BrowserGetVersion{}.Call(tb)
}

// SystemInfo returns GPU and machine information.
func (c *RodClient) SystemInfo() (*proto.SystemInfoGetInfoResult, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	tb, release := c.timed(0)
	defer release()
	return proto.SystemInfoGetInfo{}.Call(tb)
}

// StartTracing begins a browser-wide trace reporting events over the socket.
func (c *RodClient) StartTracing(opts TraceOptions, timeout time.Duration) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	if c.tracing != nil {
		c.mu.Unlock()
		return fmt.Errorf("cdp: tracing already running")
	}
	session := &traceSession{done: make(chan struct{})}
	c.tracing = session
	c.mu.Unlock()

	categories := append([]string(nil), opts.Categories...)
	if opts.MemoryDumps {
		categories = append(categories, "disabled-by-default-memory-infra")
	}

	// Subscribe before starting so no batch is missed
	wait := c.browser.EachEvent(func(e *proto.TracingDataCollected) {
		session.mu.Lock()
		defer session.mu.Unlock()
		for _, ev := range e.Value {
			raw, err := json.Marshal(ev)
			if err == nil {
				session.events = append(session.events, raw)
			}
		}
	}, func(e *proto.TracingTracingComplete) bool {
		return true
	})
	go func() {
		wait()
		close(session.done)
	}()

	tb, release := c.timed(timeout)
	defer release()
	err := proto.TracingStart{
		TransferMode: proto.TracingStartTransferModeReportEvents,
		TraceConfig: &proto.TracingTraceConfig{
			IncludedCategories: categories,
		},
	}.Call(tb)
	if err != nil {
		c.mu.Lock()
		c.tracing = nil
		c.mu.Unlock()
		return fmt.Errorf("start tracing: %w", err)
	}
	L_debug("cdp: tracing started", "categories", categories)
	return nil
}

// StopTracing ends the trace and returns the collected events.
func (c *RodClient) StopTracing(timeout time.Duration) (*TraceData, error) {
	c.mu.Lock()
	session := c.tracing
	c.tracing = nil
	c.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("cdp: tracing not running")
	}
	if timeout <= 0 {
		timeout = c.callTimeout
	}

	tb, release := c.timed(timeout)
	defer release()
	if err := (proto.TracingEnd{}).Call(tb); err != nil {
		return nil, fmt.Errorf("stop tracing: %w", err)
	}

	select {
	case <-session.done:
	case <-time.After(timeout):
		return nil, fmt.Errorf("cdp: trace did not complete within %s", timeout)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	L_debug("cdp: tracing stopped", "events", len(session.events))
	return &TraceData{Events: session.events}, nil
}

// DumpMemory requests a global memory dump. Tracing with MemoryDumps must be running.
func (c *RodClient) DumpMemory(timeout time.Duration) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	tb, release := c.timed(timeout)
	defer release()
	res, err := proto.TracingRequestMemoryDump{Deterministic: true}.Call(tb)
	if err != nil {
		return "", fmt.Errorf("memory dump: %w", err)
	}
	if !res.Success {
		return "", fmt.Errorf("memory dump %s reported failure", res.DumpGUID)
	}
	return res.DumpGUID, nil
}

// SetMemoryPressureNotificationsSuppressed toggles pressure notifications in all processes.
func (c *RodClient) SetMemoryPressureNotificationsSuppressed(suppressed bool, timeout time.Duration) error {
	if c.isClosed() {
		return ErrClosed
	}
	tb, release := c.timed(timeout)
	defer release()
	return proto.MemorySetPressureNotificationsSuppressed{Suppressed: suppressed}.Call(tb)
}

// SimulateMemoryPressureNotification sends a "moderate" or "critical" notification.
func (c *RodClient) SimulateMemoryPressureNotification(level string, timeout time.Duration) error {
	if c.isClosed() {
		return ErrClosed
	}
	switch level {
	case "moderate", "critical":
	default:
		return fmt.Errorf("cdp: unknown memory pressure level %q", level)
	}
	tb, release := c.timed(timeout)
	defer release()
	return proto.MemorySimulatePressureNotification{Level: proto.MemoryPressureLevel(level)}.Call(tb)
}

// ExtensionContexts lists page-like targets whose URL is a chrome-extension:// URL.
func (c *RodClient) ExtensionContexts() (map[string][]ExtensionContext, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	tb, release := c.timed(0)
	defer release()
	res, err := proto.TargetGetTargets{}.Call(tb)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	out := make(map[string][]ExtensionContext)
	for _, ti := range res.TargetInfos {
		switch string(ti.Type) {
		case "background_page", "page":
		default:
			continue
		}
		id, ok := ExtensionIDFromURL(ti.URL)
		if !ok {
			continue
		}
		out[id] = append(out[id], &rodExtensionContext{
			client: c,
			info: ContextInfo{
				ExtensionID: id,
				TargetID:    string(ti.TargetID),
				Type:        string(ti.Type),
				URL:         ti.URL,
			},
			targetID: ti.TargetID,
		})
	}
	return out, nil
}

// NewPage opens a tab, through go-rod/stealth when enabled.
func (c *RodClient) NewPage(url string) (*rod.Page, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if !c.stealth {
		return c.browser.Page(proto.TargetCreateTarget{URL: url})
	}
	page, err := stealth.Page(c.browser)
	if err != nil {
		return nil, err
	}
	if url != "" {
		if err := page.Navigate(url); err != nil {
			return page, fmt.Errorf("navigate %s: %w", url, err)
		}
	}
	return page, nil
}

type rodExtensionContext struct {
	client   *RodClient
	info     ContextInfo
	targetID proto.TargetTargetID

	mu   sync.Mutex
	page *rod.Page
}

func (x *rodExtensionContext) Info() ContextInfo {
	return x.info
}

func (x *rodExtensionContext) attach() (*rod.Page, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.page != nil {
		return x.page, nil
	}
	page, err := x.client.browser.PageFromTarget(x.targetID)
	if err != nil {
		return nil, err
	}
	x.page = page
	return page, nil
}

const documentReadyJS = `(prefix) => document.URL.startsWith(prefix) &&
	(document.readyState === 'complete' || document.readyState === 'interactive')`

const runtimeMissingJS = `() => typeof chrome === 'undefined' || chrome.runtime == null`

func (x *rodExtensionContext) DocumentReady(urlPrefix string) (bool, error) {
	return x.evalBool(documentReadyJS, urlPrefix)
}

func (x *rodExtensionContext) RuntimeMissing() (bool, error) {
	return x.evalBool(runtimeMissingJS)
}

func (x *rodExtensionContext) evalBool(js string, args ...interface{}) (bool, error) {
	page, err := x.attach()
	if err != nil {
		return false, err
	}
	timed := page.Timeout(x.client.callTimeout)
	defer timed.CancelTimeout()
	res, err := timed.Eval(js, args...)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (x *rodExtensionContext) Reload() error {
	page, err := x.attach()
	if err != nil {
		return err
	}
	L_info("cdp: reloading extension context", "extension", x.info.ExtensionID, "target", x.info.TargetID)
	return page.Reload()
}
