package endpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/paths"
)

// ActivePortLocator reads the DevToolsActivePort file Chrome writes into its
// user data dir when started with --remote-debugging-port=0.
//
// The file has two lines: the port, then the browser target path
// ("/devtools/browser/<id>"). Chrome writes it non-atomically, so a missing
// file, an empty file, or a file with only the first line is reported as
// ErrNotReady.
type ActivePortLocator struct {
	Path string
}

// NewActivePortLocator creates a locator for the given user data dir.
func NewActivePortLocator(userDataDir string) *ActivePortLocator {
	return &ActivePortLocator{Path: paths.ActivePortPath(userDataDir)}
}

// Locate reads and parses the file.
func (l *ActivePortLocator) Locate() (Endpoint, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Endpoint{}, fmt.Errorf("%w: %s does not exist yet", ErrNotReady, l.Path)
		}
		// Permission flaps and partial writes on some filesystems clear up on retry
		return Endpoint{}, fmt.Errorf("%w: read %s: %v", ErrNotReady, l.Path, err)
	}
	return ParseActivePort(string(data))
}

// Remove deletes a stale file left by a previous browser run. A missing file
// is not an error.
func (l *ActivePortLocator) Remove() error {
	err := os.Remove(l.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		L_debug("endpoint: removed stale active port file", "path", l.Path)
	}
	return nil
}

// ParseActivePort parses DevToolsActivePort contents.
func ParseActivePort(contents string) (Endpoint, error) {
	lines := strings.Split(strings.ReplaceAll(contents, "\r\n", "\n"), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) == "" || strings.TrimSpace(lines[1]) == "" {
		return Endpoint{}, fmt.Errorf("%w: active port file incomplete", ErrNotReady)
	}

	port, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || !validPort(port) {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrMalformed, lines[0])
	}

	target := strings.TrimPrefix(strings.TrimSpace(lines[1]), "/")
	return Endpoint{DebugPort: port, Target: target}, nil
}
