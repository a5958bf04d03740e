package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-rod/rod/lib/launcher"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// Downloader handles Chromium binary management
type Downloader struct {
	binDir   string
	revision string
	mu       sync.Mutex
	binPath  string // Cached path to binary once found or downloaded
}

// NewDownloader creates a new Chromium downloader
func NewDownloader(binDir, revision string) *Downloader {
	return &Downloader{
		binDir:   binDir,
		revision: revision,
	}
}

// EnsureBrowser ensures Chromium is downloaded and returns the path to the binary.
// This is safe to call concurrently.
func (d *Downloader) EnsureBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.binPath != "" {
		if _, err := os.Stat(d.binPath); err == nil {
			return d.binPath, nil
		}
		// Binary was removed, need to re-download
		d.binPath = ""
	}

	if err := os.MkdirAll(d.binDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create browser bin directory: %w", err)
	}

	b := launcher.NewBrowser()
	b.RootDir = d.binDir
	if d.revision != "" {
		rev, err := strconv.Atoi(d.revision)
		if err != nil {
			return "", fmt.Errorf("invalid chromium revision %q: %w", d.revision, err)
		}
		b.Revision = rev
	}

	L_debug("browser: ensuring browser is available", "binDir", d.binDir, "revision", b.Revision)

	// Download if needed (this is a no-op if already downloaded)
	binPath, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download browser: %w", err)
	}

	d.binPath = binPath
	L_info("browser: ready", "path", binPath)
	return binPath, nil
}

// Resolve returns a usable binary: an explicit path wins, then a previous
// download, then a fresh download when allowed.
func (d *Downloader) Resolve(explicit string, autoDownload bool) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("browser binary %s: %w", explicit, err)
		}
		return explicit, nil
	}
	if bin, err := d.FindExistingBrowser(); err == nil {
		return bin, nil
	} else if !autoDownload {
		return "", fmt.Errorf("browser not available and autoDownload is disabled: %w", err)
	}
	return d.EnsureBrowser()
}

// IsDownloaded returns true if the browser has been downloaded
func (d *Downloader) IsDownloaded() bool {
	_, err := d.FindExistingBrowser()
	return err == nil
}

// BinDir returns the binary directory
func (d *Downloader) BinDir() string {
	return d.binDir
}

// FindExistingBrowser looks for an existing browser binary in the bin directory
func (d *Downloader) FindExistingBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.binPath != "" {
		if _, err := os.Stat(d.binPath); err == nil {
			return d.binPath, nil
		}
	}

	entries, err := os.ReadDir(d.binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("browser not downloaded: bin directory does not exist")
		}
		return "", fmt.Errorf("failed to read bin directory: %w", err)
	}

	// rod unpacks into chromium-<revision>/
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidates := []string{
			filepath.Join(d.binDir, entry.Name(), "chrome"),
			filepath.Join(d.binDir, entry.Name(), "chrome.exe"),
			filepath.Join(d.binDir, entry.Name(), "Chromium.app", "Contents", "MacOS", "Chromium"),
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				d.binPath = candidate
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("browser not downloaded: no chromium binary found in %s", d.binDir)
}
