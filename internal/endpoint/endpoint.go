// Package endpoint locates the DevTools debugging endpoint of a browser
// instance.
//
// Locators are called repeatedly while a browser starts up. A locator that
// cannot answer yet returns an error wrapping ErrNotReady; callers treat that
// as "retry later". Any other error is permanent.
package endpoint

import (
	"errors"
	"fmt"
)

// ErrNotReady marks a transient failure: the port information is missing or
// incomplete, usually because the browser is still starting.
var ErrNotReady = errors.New("debug endpoint not ready")

// ErrMalformed marks endpoint information that can never become valid.
var ErrMalformed = errors.New("malformed debug endpoint")

// Endpoint is the result of a single locate call. It is not cached: the
// browser may rebind its port between calls.
type Endpoint struct {
	DebugPort int
	Target    string // browser target path, e.g. "devtools/browser/<id>"; may be empty
}

func (e Endpoint) String() string {
	if e.Target == "" {
		return fmt.Sprintf("port=%d", e.DebugPort)
	}
	return fmt.Sprintf("port=%d target=%s", e.DebugPort, e.Target)
}

// Locator returns the current endpoint of a browser instance.
type Locator interface {
	Locate() (Endpoint, error)
}

// Func adapts a plain function to a Locator.
type Func func() (Endpoint, error)

// Locate calls f.
func (f Func) Locate() (Endpoint, error) {
	return f()
}

// IsNotReady reports whether err is a transient locate failure.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
