package cdp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionIDFromURL(t *testing.T) {
	tests := []struct {
		url    string
		wantID string
		wantOK bool
	}{
		{"chrome-extension://abcdef/background.html", "abcdef", true},
		{"chrome-extension://abcdef/", "abcdef", true},
		{"chrome-extension://abcdef", "abcdef", true},
		{"chrome-extension://abcdef?x=1", "abcdef", true},
		{"chrome-extension:///", "", false},
		{"https://example.com/", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, ok := ExtensionIDFromURL(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
	assert.Equal(t, "chrome-extension://abc/", ExtensionURL("abc"))
}

func TestWebSocketURLWithTarget(t *testing.T) {
	u, err := Config{LocalPort: 40001, RemotePort: 9222, Target: "/devtools/browser/abc"}.WebSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:40001/devtools/browser/abc", u)

	u, err = Config{Host: "localhost", LocalPort: 40001, Target: "devtools/browser/abc"}.WebSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:40001/devtools/browser/abc", u)

	_, err = Config{Target: "devtools/browser/abc"}.WebSocketURL()
	assert.Error(t, err)
}

func TestWebSocketURLResolvesThroughForwardedPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		// the agent advertises its own port, not the forwarded one
		fmt.Fprint(w, `{"webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/xyz"}`)
	}))
	defer srv.Close()

	local := srv.Listener.Addr().(*net.TCPAddr).Port

	u, err := Config{LocalPort: local, RemotePort: 9222}.WebSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:"+strconv.Itoa(local)+"/devtools/browser/xyz", u)
}

func TestFactoryFunc(t *testing.T) {
	boom := errors.New("boom")
	var f Factory = FactoryFunc(func(cfg Config) (Client, error) {
		assert.Equal(t, 40001, cfg.LocalPort)
		return nil, boom
	})
	_, err := f.Create(Config{LocalPort: 40001})
	assert.ErrorIs(t, err, boom)
}

func TestConfigString(t *testing.T) {
	s := Config{LocalPort: 1, RemotePort: 2, Target: "t"}.String()
	assert.Equal(t, `local=1 remote=2 target="t"`, s)
}
