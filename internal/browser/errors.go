package browser

import "errors"

var (
	// ErrBackendClosed is returned by every operation after Close.
	ErrBackendClosed = errors.New("browser backend closed")
	// ErrNotBound is returned by delegations before a successful Bind.
	ErrNotBound = errors.New("browser backend not bound")
	// ErrExtensionsUnsupported is returned by WaitForExtensions when the
	// backend was built without extension support.
	ErrExtensionsUnsupported = errors.New("browser backend does not support extensions")
)

// BrowserGoneError means binding failed and the browser process is dead.
type BrowserGoneError struct {
	Err error
}

func (e *BrowserGoneError) Error() string {
	return "browser is gone: " + e.Err.Error()
}

func (e *BrowserGoneError) Unwrap() error {
	return e.Err
}

// ConnectionGoneError means binding failed while the browser process is
// still running, or its state is unknown.
type ConnectionGoneError struct {
	Err error
}

func (e *ConnectionGoneError) Error() string {
	return "browser connection is gone: " + e.Err.Error()
}

func (e *ConnectionGoneError) Unwrap() error {
	return e.Err
}
