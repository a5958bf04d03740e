// Package extensions waits for browser extensions to finish loading.
package extensions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roelfdiedericks/cdpbridge/internal/cdp"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/wait"
)

// DefaultTimeout matches how long Chrome can take to bring up a cold
// extension with a large background page.
const DefaultTimeout = 60 * time.Second

// Expectation names an extension that must be loaded.
type Expectation struct {
	ID   string `json:"id"`
	Path string `json:"path,omitempty"` // unpacked directory, informational
}

// Options tune a Waiter.
type Options struct {
	Poll wait.Options
	// ReloadOnStaleBinding reloads a context whose document is ready but whose
	// extension runtime binding is missing.
	ReloadOnStaleBinding bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{ReloadOnStaleBinding: true}
}

// WaitTimeoutError carries what was known at the last poll.
type WaitTimeoutError struct {
	Timeout time.Duration
	// Missing is the sorted list of expected ids not ready at the last poll.
	Missing []string
	// Live maps every extension id seen at the last poll to its contexts.
	Live map[string][]cdp.ContextInfo
	// ListErr is the last failure to enumerate contexts, if any.
	ListErr error
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("extensions not loaded after %s: missing %s", e.Timeout, strings.Join(e.Missing, ", "))
}

func (e *WaitTimeoutError) Unwrap() error {
	return wait.ErrTimeout
}

// Diagnostics renders the payload for logs.
func (e *WaitTimeoutError) Diagnostics() string {
	payload := struct {
		Missing []string                     `json:"missing"`
		Live    map[string][]cdp.ContextInfo `json:"live"`
		ListErr string                       `json:"listError,omitempty"`
	}{Missing: e.Missing, Live: e.Live}
	if e.ListErr != nil {
		payload.ListErr = e.ListErr.Error()
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}

// Waiter polls extension contexts until every expectation is ready.
type Waiter struct {
	opts Options
}

// NewWaiter creates a waiter.
func NewWaiter(opts Options) *Waiter {
	return &Waiter{opts: opts}
}

// Snapshot is the outcome of one poll.
type Snapshot struct {
	Ready   map[string]bool
	Live    map[string][]cdp.ContextInfo
	ListErr error
}

// Missing returns the sorted ids of expectations not ready in s.
func (s Snapshot) Missing(expectations []Expectation) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, exp := range expectations {
		if seen[exp.ID] {
			continue
		}
		seen[exp.ID] = true
		if !s.Ready[exp.ID] {
			missing = append(missing, exp.ID)
		}
	}
	sort.Strings(missing)
	return missing
}

// WaitForAll returns nil once every context of every expected extension is
// ready, or a *WaitTimeoutError.
func (w *Waiter) WaitForAll(expectations []Expectation, client cdp.Client, timeout time.Duration) error {
	if len(expectations) == 0 {
		return nil
	}
	if client == nil {
		return errors.New("extensions: no client")
	}
	for _, exp := range expectations {
		if exp.ID == "" {
			return errors.New("extensions: expectation without id")
		}
	}

	L_debug("extensions: waiting", "count", len(expectations), "timeout", timeout)

	var last Snapshot
	res, err := wait.For(timeout, w.opts.Poll, func() (wait.Status, error) {
		last = w.Check(expectations, client)
		if len(last.Missing(expectations)) == 0 {
			return wait.Done, nil
		}
		return wait.Retry, nil
	})
	if err == nil {
		L_info("extensions: all loaded", "count", len(expectations), "elapsed", res.Elapsed.Round(time.Millisecond))
		return nil
	}
	if !errors.Is(err, wait.ErrTimeout) {
		return err
	}

	te := &WaitTimeoutError{
		Timeout: timeout,
		Missing: last.Missing(expectations),
		Live:    last.Live,
		ListErr: last.ListErr,
	}
	L_error("extensions: timed out waiting for extensions", "missing", te.Missing)
	L_error("extensions: live contexts at timeout:\n%s", te.Diagnostics())
	return te
}

// Check evaluates every expectation once.
func (w *Waiter) Check(expectations []Expectation, client cdp.Client) Snapshot {
	snap := Snapshot{
		Ready: make(map[string]bool),
		Live:  make(map[string][]cdp.ContextInfo),
	}

	contexts, err := client.ExtensionContexts()
	if err != nil {
		L_trace("extensions: listing contexts failed", "error", err)
		snap.ListErr = err
		return snap
	}
	for id, xs := range contexts {
		for _, x := range xs {
			snap.Live[id] = append(snap.Live[id], x.Info())
		}
	}

	for _, exp := range expectations {
		if _, done := snap.Ready[exp.ID]; done {
			continue
		}
		snap.Ready[exp.ID] = w.extensionReady(exp.ID, contexts[exp.ID])
	}
	return snap
}

// extensionReady requires every live context of the extension to pass the
// document check. A context that cannot be evaluated yet counts as not ready.
func (w *Waiter) extensionReady(id string, contexts []cdp.ExtensionContext) bool {
	if len(contexts) == 0 {
		return false
	}
	prefix := cdp.ExtensionURL(id)
	for _, x := range contexts {
		ok, err := x.DocumentReady(prefix)
		if err != nil {
			L_trace("extensions: evaluate failed", "extension", id, "url", x.Info().URL, "error", err)
			return false
		}
		if !ok {
			return false
		}
		if w.opts.ReloadOnStaleBinding && w.staleBinding(x) {
			return false
		}
	}
	return true
}

func (w *Waiter) staleBinding(x cdp.ExtensionContext) bool {
	stale, err := x.RuntimeMissing()
	if err != nil || !stale {
		return false
	}
	info := x.Info()
	L_warn("extensions: runtime binding missing, reloading", "extension", info.ExtensionID, "url", info.URL)
	if err := x.Reload(); err != nil {
		L_warn("extensions: reload failed", "extension", info.ExtensionID, "error", err)
	}
	return true
}
