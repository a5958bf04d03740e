// Package cdptest provides an in-memory cdp.Client for tests.
package cdptest

import (
	"errors"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roelfdiedericks/cdpbridge/internal/cdp"
)

// ErrNoBrowser is returned by NewPage; the fake has no real browser behind it.
var ErrNoBrowser = errors.New("cdptest: no browser")

// Client is a scriptable cdp.Client. The zero value is alive and has no
// extension contexts.
type Client struct {
	Config cdp.Config

	mu       sync.Mutex
	dead     bool
	closes   int
	calls    []string
	tracing  bool
	contexts map[string][]*Context
	listErr  error
	infoErr  error
}

var (
	_ cdp.Client           = (*Client)(nil)
	_ cdp.ExtensionContext = (*Context)(nil)
)

// New returns a live fake bound to cfg.
func New(cfg cdp.Config) *Client {
	return &Client{Config: cfg}
}

func (c *Client) record(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

// Calls returns the delegated method names in call order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Kill makes IsAlive report false, like a dropped connection.
func (c *Client) Kill() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

// Closes returns how many times Close was called.
func (c *Client) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *Client) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead && c.closes == 0
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *Client) Version() (*proto.BrowserGetVersionResult, error) {
	c.record("Version")
	return &proto.BrowserGetVersionResult{ProtocolVersion: "1.3", Product: "HeadlessChrome/120.0.0.0"}, nil
}

// FailSystemInfo makes SystemInfo return err (nil clears it), like a browser
// without the SystemInfo domain.
func (c *Client) FailSystemInfo(err error) {
	c.mu.Lock()
	c.infoErr = err
	c.mu.Unlock()
}

func (c *Client) SystemInfo() (*proto.SystemInfoGetInfoResult, error) {
	c.record("SystemInfo")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.infoErr != nil {
		return nil, c.infoErr
	}
	return &proto.SystemInfoGetInfoResult{ModelName: "fake", CommandLine: "chrome --headless"}, nil
}

func (c *Client) StartTracing(opts cdp.TraceOptions, timeout time.Duration) error {
	c.record("StartTracing")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracing {
		return errors.New("cdptest: tracing already running")
	}
	c.tracing = true
	return nil
}

func (c *Client) StopTracing(timeout time.Duration) (*cdp.TraceData, error) {
	c.record("StopTracing")
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracing {
		return nil, errors.New("cdptest: tracing not running")
	}
	c.tracing = false
	return &cdp.TraceData{}, nil
}

func (c *Client) DumpMemory(timeout time.Duration) (string, error) {
	c.record("DumpMemory")
	return "dump-1", nil
}

func (c *Client) SetMemoryPressureNotificationsSuppressed(suppressed bool, timeout time.Duration) error {
	c.record("SetMemoryPressureNotificationsSuppressed")
	return nil
}

func (c *Client) SimulateMemoryPressureNotification(level string, timeout time.Duration) error {
	c.record("SimulateMemoryPressureNotification")
	return nil
}

func (c *Client) NewPage(url string) (*rod.Page, error) {
	c.record("NewPage")
	return nil, ErrNoBrowser
}

// AddContext registers a live extension context and returns it for scripting.
func (c *Client) AddContext(extensionID, url string) *Context {
	x := &Context{info: cdp.ContextInfo{
		ExtensionID: extensionID,
		TargetID:    extensionID + "-" + url,
		Type:        "background_page",
		URL:         url,
	}}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contexts == nil {
		c.contexts = make(map[string][]*Context)
	}
	c.contexts[extensionID] = append(c.contexts[extensionID], x)
	return x
}

// FailListing makes ExtensionContexts return err (nil clears it).
func (c *Client) FailListing(err error) {
	c.mu.Lock()
	c.listErr = err
	c.mu.Unlock()
}

func (c *Client) ExtensionContexts() (map[string][]cdp.ExtensionContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make(map[string][]cdp.ExtensionContext, len(c.contexts))
	for id, xs := range c.contexts {
		for _, x := range xs {
			out[id] = append(out[id], x)
		}
	}
	return out, nil
}

// Context is a scriptable extension context. A new context is not ready.
type Context struct {
	info cdp.ContextInfo

	mu             sync.Mutex
	ready          bool
	runtimeMissing bool
	evalErr        error
	prefixes       []string
	reloads        int
	onReload       func(x *Context)
}

func (x *Context) Info() cdp.ContextInfo {
	return x.info
}

// SetReady sets the DocumentReady answer.
func (x *Context) SetReady(ready bool) {
	x.mu.Lock()
	x.ready = ready
	x.mu.Unlock()
}

// SetRuntimeMissing sets the RuntimeMissing answer.
func (x *Context) SetRuntimeMissing(missing bool) {
	x.mu.Lock()
	x.runtimeMissing = missing
	x.mu.Unlock()
}

// SetEvalError makes every evaluation fail with err (nil clears it).
func (x *Context) SetEvalError(err error) {
	x.mu.Lock()
	x.evalErr = err
	x.mu.Unlock()
}

// OnReload runs fn (outside the lock) after each Reload.
func (x *Context) OnReload(fn func(x *Context)) {
	x.mu.Lock()
	x.onReload = fn
	x.mu.Unlock()
}

// Reloads returns how many times Reload was called.
func (x *Context) Reloads() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.reloads
}

// Prefixes returns the URL prefixes DocumentReady was asked about.
func (x *Context) Prefixes() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.prefixes...)
}

func (x *Context) DocumentReady(urlPrefix string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.prefixes = append(x.prefixes, urlPrefix)
	if x.evalErr != nil {
		return false, x.evalErr
	}
	return x.ready, nil
}

func (x *Context) RuntimeMissing() (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.evalErr != nil {
		return false, x.evalErr
	}
	return x.runtimeMissing, nil
}

func (x *Context) Reload() error {
	x.mu.Lock()
	x.reloads++
	fn := x.onReload
	x.mu.Unlock()
	if fn != nil {
		fn(x)
	}
	return nil
}
