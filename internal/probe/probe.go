// Package probe decides whether the DevTools agent behind a forwarded port is
// serving requests.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/cdpbridge/internal/forward"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// ErrBadConfig is the only error a probe returns; "not ready" is a false result.
var ErrBadConfig = errors.New("probe: invalid configuration")

// Prober checks agent readiness. It must be cheap enough to call every poll tick.
type Prober interface {
	IsReady(h forward.Handle) (bool, error)
}

// Func adapts a plain function to a Prober.
type Func func(h forward.Handle) (bool, error)

// IsReady calls f.
func (f Func) IsReady(h forward.Handle) (bool, error) {
	return f(h)
}

// VersionInfo is the /json/version payload.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// HTTPProbe asks /json/version on the forwarded port. With Handshake set it
// also opens (and immediately closes) the advertised debugger websocket, which
// catches agents that answer HTTP before accepting protocol connections.
type HTTPProbe struct {
	Timeout   time.Duration // per request, default 1s
	Handshake bool
	Client    *http.Client
}

// NewHTTPProbe creates a probe with defaults.
func NewHTTPProbe(handshake bool) *HTTPProbe {
	return &HTTPProbe{Timeout: time.Second, Handshake: handshake}
}

func (p *HTTPProbe) timeout() time.Duration {
	if p.Timeout <= 0 {
		return time.Second
	}
	return p.Timeout
}

func (p *HTTPProbe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: p.timeout()}
}

// IsReady reports whether the agent answered.
func (p *HTTPProbe) IsReady(h forward.Handle) (bool, error) {
	base, err := baseURL(h)
	if err != nil {
		return false, err
	}

	info, err := p.Version(base)
	if err != nil {
		L_trace("probe: agent not ready", "url", base, "error", err)
		return false, nil
	}
	if info.WebSocketDebuggerURL == "" {
		L_trace("probe: agent answered without debugger url", "url", base)
		return false, nil
	}
	if !p.Handshake {
		return true, nil
	}

	wsURL, err := rewriteHost(info.WebSocketDebuggerURL, h)
	if err != nil {
		L_debug("probe: unusable debugger url", "url", info.WebSocketDebuggerURL, "error", err)
		return false, nil
	}
	if err := p.handshake(wsURL); err != nil {
		L_trace("probe: websocket handshake failed", "url", wsURL, "error", err)
		return false, nil
	}
	return true, nil
}

// Version fetches /json/version from base (http://host:port).
func (p *HTTPProbe) Version(base string) (*VersionInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/version", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return &info, nil
}

func (p *HTTPProbe) handshake(wsURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: p.timeout()}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout())
	defer cancel()

	//nolint:bodyclose // WebSocket upgrade - response body handled by gorilla/websocket
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

func baseURL(h forward.Handle) (string, error) {
	if h == nil {
		return "", fmt.Errorf("%w: nil forwarder", ErrBadConfig)
	}
	port := h.LocalPort()
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("%w: local port %d", ErrBadConfig, port)
	}
	host := h.Host()
	if host == "" {
		host = "127.0.0.1"
	}
	if net.ParseIP(host) == nil && host != "localhost" {
		return "", fmt.Errorf("%w: host %q", ErrBadConfig, host)
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// rewriteHost points a debugger URL, which names the browser's own port, at
// the forwarded local endpoint.
func rewriteHost(raw string, h forward.Handle) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	host := h.Host()
	if host == "" {
		host = "127.0.0.1"
	}
	u.Host = net.JoinHostPort(host, strconv.Itoa(h.LocalPort()))
	return u.String(), nil
}
