package probe

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/cdpbridge/internal/forward"
)

type handle struct {
	host string
	port int
}

func (h handle) LocalPort() int  { return h.port }
func (h handle) RemotePort() int { return h.port }
func (h handle) Host() string    { return h.host }
func (h handle) Close() error    { return nil }
func (h handle) Closed() bool    { return false }

// fakeAgent serves /json/version and a websocket at /devtools/browser/x.
// It refuses the version request until ready is set.
type fakeAgent struct {
	ready       atomic.Bool
	omitWS      atomic.Bool
	rejectWS    atomic.Bool
	handshakes  atomic.Int32
	server      *httptest.Server
	advertisePt int // port the agent believes it listens on
}

func newFakeAgent(t *testing.T) *fakeAgent {
	a := &fakeAgent{advertisePt: 9222}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		if !a.ready.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		info := VersionInfo{Browser: "HeadlessChrome/120.0", ProtocolVersion: "1.3"}
		if !a.omitWS.Load() {
			info.WebSocketDebuggerURL = "ws://127.0.0.1:" + strconv.Itoa(a.advertisePt) + "/devtools/browser/x"
		}
		_ = json.NewEncoder(w).Encode(info)
	})
	mux.HandleFunc("/devtools/browser/x", func(w http.ResponseWriter, r *http.Request) {
		if a.rejectWS.Load() {
			http.Error(w, "no", http.StatusForbidden)
			return
		}
		a.handshakes.Add(1)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = c.ReadMessage()
		c.Close()
	})
	a.server = httptest.NewServer(mux)
	t.Cleanup(a.server.Close)
	return a
}

func (a *fakeAgent) forwarded(t *testing.T) handle {
	_, portStr, err := net.SplitHostPort(a.server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return handle{host: "127.0.0.1", port: port}
}

func TestHTTPProbeReadiness(t *testing.T) {
	agent := newFakeAgent(t)
	h := agent.forwarded(t)
	p := NewHTTPProbe(false)

	ready, err := p.IsReady(h)
	require.NoError(t, err, "not ready is never an error")
	assert.False(t, ready)

	agent.ready.Store(true)
	agent.omitWS.Store(true)
	ready, err = p.IsReady(h)
	require.NoError(t, err)
	assert.False(t, ready, "no debugger url means not ready")

	agent.omitWS.Store(false)
	ready, err = p.IsReady(h)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestHTTPProbeHandshake(t *testing.T) {
	agent := newFakeAgent(t)
	agent.ready.Store(true)
	h := agent.forwarded(t)
	p := NewHTTPProbe(true)

	agent.rejectWS.Store(true)
	ready, err := p.IsReady(h)
	require.NoError(t, err)
	assert.False(t, ready)

	agent.rejectWS.Store(false)
	ready, err = p.IsReady(h)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, int32(1), agent.handshakes.Load(), "handshake must target the forwarded port")
}

func TestHTTPProbeNothingListening(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	ready, err := NewHTTPProbe(false).IsReady(handle{host: "127.0.0.1", port: port})
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestHTTPProbeBadConfig(t *testing.T) {
	p := NewHTTPProbe(false)

	_, err := p.IsReady(nil)
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = p.IsReady(handle{host: "127.0.0.1", port: 0})
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = p.IsReady(handle{host: "not a host", port: 9222})
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestRewriteHost(t *testing.T) {
	got, err := rewriteHost("ws://127.0.0.1:9222/devtools/browser/abc", handle{host: "127.0.0.1", port: 40001})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:40001/devtools/browser/abc", got)

	_, err = rewriteHost("http://127.0.0.1:9222/x", handle{host: "127.0.0.1", port: 1})
	assert.Error(t, err)
}

func TestFuncProber(t *testing.T) {
	var p Prober = Func(func(h forward.Handle) (bool, error) { return true, nil })
	ok, err := p.IsReady(nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
