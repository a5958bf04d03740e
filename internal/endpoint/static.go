package endpoint

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// StaticLocator returns a fixed endpoint parsed from configuration, for
// browsers started outside our control (e.g. chrome --remote-debugging-port=9222).
type StaticLocator struct {
	Host     string
	endpoint Endpoint
}

// NewStaticLocator parses an endpoint in one of these forms:
//
//	ws://host:9222/devtools/browser/<id>
//	http://host:9222
//	host:9222
//	9222
//
// A missing host defaults to 127.0.0.1. A missing target is left empty; the
// protocol client resolves it through /json/version.
func NewStaticLocator(raw string) (*StaticLocator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrMalformed)
	}

	if port, err := strconv.Atoi(raw); err == nil {
		if !validPort(port) {
			return nil, fmt.Errorf("%w: bad port %d", ErrMalformed, port)
		}
		return &StaticLocator{Host: "127.0.0.1", endpoint: Endpoint{DebugPort: port}}, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %q has no port", ErrMalformed, raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || !validPort(port) {
		return nil, fmt.Errorf("%w: bad port %q", ErrMalformed, portStr)
	}
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}

	return &StaticLocator{
		Host: host,
		endpoint: Endpoint{
			DebugPort: port,
			Target:    strings.Trim(u.Path, "/"),
		},
	}, nil
}

// Locate returns the configured endpoint.
func (l *StaticLocator) Locate() (Endpoint, error) {
	return l.endpoint, nil
}
