// Package cdp binds a DevTools protocol client to a forwarded debug port.
//
// The wire protocol is go-rod's; this package only exposes the handful of
// browser-level operations the backend delegates to.
package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("cdp: client closed")

// Config locates the agent through a forwarder.
type Config struct {
	Host       string // default 127.0.0.1
	LocalPort  int
	RemotePort int
	Target     string // browser target path; empty = resolve via /json/version
}

func (c Config) String() string {
	return fmt.Sprintf("local=%d remote=%d target=%q", c.LocalPort, c.RemotePort, c.Target)
}

func (c Config) hostPort() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.LocalPort))
}

// WebSocketURL returns the debugger URL on the local side of the forwarder.
func (c Config) WebSocketURL() (string, error) {
	if c.LocalPort <= 0 {
		return "", fmt.Errorf("cdp: invalid local port %d", c.LocalPort)
	}
	if c.Target != "" {
		return "ws://" + c.hostPort() + "/" + strings.TrimPrefix(c.Target, "/"), nil
	}
	// ResolveURL keeps the host we asked, so forwarded ports survive
	return launcher.ResolveURL(c.hostPort())
}

// ContextInfo describes a live extension context.
type ContextInfo struct {
	ExtensionID string `json:"extensionId"`
	TargetID    string `json:"targetId"`
	Type        string `json:"type"`
	URL         string `json:"url"`
}

// ExtensionContext is a page-like target running extension code.
type ExtensionContext interface {
	Info() ContextInfo
	// DocumentReady reports whether the context shows a document under
	// urlPrefix that has at least finished parsing.
	DocumentReady(urlPrefix string) (bool, error)
	// RuntimeMissing reports a loaded document without a chrome.runtime
	// binding. Such a context never recovers without a reload.
	RuntimeMissing() (bool, error)
	Reload() error
}

// TraceOptions configures a tracing session.
type TraceOptions struct {
	Categories []string
	// MemoryDumps adds the memory-infra category needed by DumpMemory.
	MemoryDumps bool
}

// TraceData is what a tracing session collected.
type TraceData struct {
	Events []json.RawMessage
}

// Client is a live protocol session with a browser.
type Client interface {
	IsAlive() bool
	Close() error

	Version() (*proto.BrowserGetVersionResult, error)
	SystemInfo() (*proto.SystemInfoGetInfoResult, error)

	StartTracing(opts TraceOptions, timeout time.Duration) error
	StopTracing(timeout time.Duration) (*TraceData, error)
	DumpMemory(timeout time.Duration) (string, error)
	SetMemoryPressureNotificationsSuppressed(suppressed bool, timeout time.Duration) error
	SimulateMemoryPressureNotification(level string, timeout time.Duration) error

	// ExtensionContexts maps extension id to its live contexts.
	ExtensionContexts() (map[string][]ExtensionContext, error)
	NewPage(url string) (*rod.Page, error)
}

// Factory connects a client. A connect failure is reported as an error; the
// bootstrapper decides whether to retry.
type Factory interface {
	Create(cfg Config) (Client, error)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(cfg Config) (Client, error)

// Create calls f.
func (f FactoryFunc) Create(cfg Config) (Client, error) {
	return f(cfg)
}

// ExtensionURL is the canonical URL prefix of an extension's pages.
func ExtensionURL(id string) string {
	return "chrome-extension://" + id + "/"
}

// ExtensionIDFromURL extracts the id from a chrome-extension:// URL.
func ExtensionIDFromURL(u string) (string, bool) {
	const prefix = "chrome-extension://"
	if !strings.HasPrefix(u, prefix) {
		return "", false
	}
	rest := u[len(prefix):]
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}
