package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/paths"
)

// Files Chrome leaves behind in a user data dir. A crashed session keeps the
// singleton locks (Chrome then refuses to start) and its DevToolsActivePort
// (which would point the bootstrapper at a dead port).
var staleProfileFiles = []string{
	"SingletonLock",
	"SingletonCookie",
	"SingletonSocket",
	paths.ActivePortFile,
}

// ProfileInfo contains information about a browser profile
type ProfileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`     // Total size in bytes
	LastUsed time.Time `json:"lastUsed"` // Last modification time
}

// ProfileManager handles browser profile (user data dir) operations
type ProfileManager struct {
	profilesDir string
}

// NewProfileManager creates a new profile manager
func NewProfileManager(profilesDir string) *ProfileManager {
	return &ProfileManager{
		profilesDir: profilesDir,
	}
}

// Dir returns the path to a profile directory (does not create it)
func (m *ProfileManager) Dir(name string) string {
	if name == "" {
		name = "default"
	}
	return filepath.Join(m.profilesDir, name)
}

// Exists checks if a profile exists
func (m *ProfileManager) Exists(name string) bool {
	info, err := os.Stat(m.Dir(name))
	return err == nil && info.IsDir()
}

// Prepare creates the profile directory and removes stale files from a
// previous session. The returned dir is ready to pass as --user-data-dir.
func (m *ProfileManager) Prepare(name string) (string, error) {
	profileDir := m.Dir(name)
	if err := paths.EnsureDir(profileDir); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}

	for _, f := range staleProfileFiles {
		p := filepath.Join(profileDir, f)
		// Lstat: SingletonLock is a dangling symlink once its owner is dead
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			L_warn("browser: failed to remove stale profile file", "file", p, "error", err)
		} else {
			L_debug("browser: removed stale profile file", "file", p)
		}
	}

	L_debug("browser: profile prepared", "name", name, "path", profileDir)
	return profileDir, nil
}

// List returns information about all profiles
func (m *ProfileManager) List() ([]ProfileInfo, error) {
	entries, err := os.ReadDir(m.profilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ProfileInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	var profiles []ProfileInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := profileInfo(entry.Name(), filepath.Join(m.profilesDir, entry.Name()))
		if err != nil {
			L_warn("browser: failed to get profile info", "name", entry.Name(), "error", err)
			continue
		}
		profiles = append(profiles, info)
	}
	return profiles, nil
}

func profileInfo(name, path string) (ProfileInfo, error) {
	info := ProfileInfo{Name: name, Path: path}
	err := filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !fi.IsDir() {
			info.Size += fi.Size()
		}
		if fi.ModTime().After(info.LastUsed) {
			info.LastUsed = fi.ModTime()
		}
		return nil
	})
	return info, err
}

// Delete completely removes a profile
func (m *ProfileManager) Delete(name string) error {
	if name == "" || name == "default" {
		return fmt.Errorf("cannot delete default profile")
	}
	if !m.Exists(name) {
		return fmt.Errorf("profile does not exist: %s", name)
	}
	if err := os.RemoveAll(m.Dir(name)); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	L_info("browser: deleted profile", "name", name)
	return nil
}

// FormatSize returns a human-readable size string
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
