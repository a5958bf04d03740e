package browser

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/devices"

	"github.com/roelfdiedericks/cdpbridge/internal/extensions"
	"github.com/roelfdiedericks/cdpbridge/internal/wait"
)

// Forwarder modes
const (
	ForwardLocal = "local" // same host, identity mapping
	ForwardTCP   = "tcp"   // plain TCP proxy to RemoteHost
	ForwardSSH   = "ssh"   // tunnel through an SSH server
)

// Config holds browser and connection configuration
type Config struct {
	Dir            string `json:"dir" toml:"dir" yaml:"dir"`                                  // Browser data directory (empty = ~/.cdpbridge/browser)
	BinPath        string `json:"binPath" toml:"binPath" yaml:"binPath"`                      // Use this browser binary instead of a downloaded one
	AutoDownload   bool   `json:"autoDownload" toml:"autoDownload" yaml:"autoDownload"`       // Download Chromium if missing
	Revision       string `json:"revision" toml:"revision" yaml:"revision"`                   // Chromium revision (empty = rod's default)
	Headless       bool   `json:"headless" toml:"headless" yaml:"headless"`                   // Run in headless mode
	NoSandbox      bool   `json:"noSandbox" toml:"noSandbox" yaml:"noSandbox"`                // Disable sandbox (needed for Docker/root)
	DefaultProfile string `json:"defaultProfile" toml:"defaultProfile" yaml:"defaultProfile"` // Default profile name
	Stealth        bool   `json:"stealth" toml:"stealth" yaml:"stealth"`                      // Open pages through go-rod/stealth
	Device         string `json:"device" toml:"device" yaml:"device"`                         // Device emulation for new pages: "clear", "laptop", "iphone-x", ...

	Flags map[string]string `json:"flags" toml:"flags" yaml:"flags"` // Extra browser flags, name -> value ("" for switches)

	Timeout          string `json:"timeout" toml:"timeout" yaml:"timeout"`                            // Delegated call timeout (e.g., "30s")
	StartupTimeout   string `json:"startupTimeout" toml:"startupTimeout" yaml:"startupTimeout"`       // Bootstrap timeout
	ExtensionTimeout string `json:"extensionTimeout" toml:"extensionTimeout" yaml:"extensionTimeout"` // Extension readiness timeout
	PollInterval     string `json:"pollInterval" toml:"pollInterval" yaml:"pollInterval"`             // First sleep between attempts
	MaxPollInterval  string `json:"maxPollInterval" toml:"maxPollInterval" yaml:"maxPollInterval"`    // Sleeps grow up to this

	Endpoint  string          `json:"endpoint" toml:"endpoint" yaml:"endpoint"`    // Existing browser for attach (e.g. "ws://localhost:9222")
	Handshake bool            `json:"handshake" toml:"handshake" yaml:"handshake"` // Probe also opens the debugger websocket
	Forwarder ForwarderConfig `json:"forwarder" toml:"forwarder" yaml:"forwarder"`

	Extensions           []ExtensionConfig `json:"extensions" toml:"extensions" yaml:"extensions"`
	ReloadOnStaleBinding bool              `json:"reloadOnStaleBinding" toml:"reloadOnStaleBinding" yaml:"reloadOnStaleBinding"`
}

// ForwarderConfig selects how the debug port is reached.
type ForwarderConfig struct {
	Mode       string    `json:"mode" toml:"mode" yaml:"mode"`                   // local, tcp or ssh
	RemoteHost string    `json:"remoteHost" toml:"remoteHost" yaml:"remoteHost"` // Host the browser listens on (tcp, ssh)
	SSH        SSHConfig `json:"ssh" toml:"ssh" yaml:"ssh"`
}

// SSHConfig holds the SSH tunnel settings
type SSHConfig struct {
	Addr           string `json:"addr" toml:"addr" yaml:"addr"`                                 // host:port of the SSH server
	User           string `json:"user" toml:"user" yaml:"user"`
	KeyFile        string `json:"keyFile" toml:"keyFile" yaml:"keyFile"`
	Password       string `json:"password,omitempty" toml:"password" yaml:"password,omitempty"`
	KnownHostsFile string `json:"knownHostsFile" toml:"knownHostsFile" yaml:"knownHostsFile"`
	Timeout        string `json:"timeout" toml:"timeout" yaml:"timeout"`
}

// ExtensionConfig names an extension to load and wait for
type ExtensionConfig struct {
	ID   string `json:"id" toml:"id" yaml:"id"`
	Path string `json:"path" toml:"path" yaml:"path"` // Unpacked extension directory, passed to --load-extension
}

// DefaultConfig returns the default browser configuration
func DefaultConfig() Config {
	return Config{
		Dir:                  "", // Will resolve to ~/.cdpbridge/browser
		AutoDownload:         true,
		Headless:             true,
		DefaultProfile:       "default",
		Stealth:              true,
		Device:               "clear",
		Flags:                map[string]string{},
		Timeout:              "30s",
		StartupTimeout:       "30s",
		ExtensionTimeout:     "60s",
		PollInterval:         "100ms",
		MaxPollInterval:      "500ms",
		Forwarder:            ForwarderConfig{Mode: ForwardLocal, RemoteHost: "127.0.0.1"},
		ReloadOnStaleBinding: true,
	}
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Forwarder.Mode {
	case "", ForwardLocal, ForwardTCP:
	case ForwardSSH:
		if c.Forwarder.SSH.Addr == "" || c.Forwarder.SSH.User == "" {
			return fmt.Errorf("ssh forwarder needs addr and user")
		}
	default:
		return fmt.Errorf("unknown forwarder mode %q", c.Forwarder.Mode)
	}
	for name, v := range map[string]string{
		"timeout":          c.Timeout,
		"startupTimeout":   c.StartupTimeout,
		"extensionTimeout": c.ExtensionTimeout,
		"pollInterval":     c.PollInterval,
		"maxPollInterval":  c.MaxPollInterval,
		"ssh.timeout":      c.Forwarder.SSH.Timeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	for i, ext := range c.Extensions {
		if ext.ID == "" {
			return fmt.Errorf("extension %d has no id", i)
		}
	}
	return nil
}

// ResolveDir returns the browser directory, defaulting to <base>/browser
func (c *Config) ResolveDir(baseDir string) string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(baseDir, "browser")
}

// ResolveBinDir returns the chromium binary directory
func (c *Config) ResolveBinDir(baseDir string) string {
	return filepath.Join(c.ResolveDir(baseDir), "bin")
}

// ResolveProfilesDir returns the profiles directory
func (c *Config) ResolveProfilesDir(baseDir string) string {
	return filepath.Join(c.ResolveDir(baseDir), "profiles")
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// ResolveTimeout returns the delegated call timeout
func (c *Config) ResolveTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// ResolveStartupTimeout returns the bootstrap timeout
func (c *Config) ResolveStartupTimeout() time.Duration {
	return parseDuration(c.StartupTimeout, 30*time.Second)
}

// ResolveExtensionTimeout returns the extension readiness timeout
func (c *Config) ResolveExtensionTimeout() time.Duration {
	return parseDuration(c.ExtensionTimeout, extensions.DefaultTimeout)
}

// ResolvePoll returns the polling options
func (c *Config) ResolvePoll() wait.Options {
	return wait.Options{
		Interval:    parseDuration(c.PollInterval, wait.DefaultInterval),
		MaxInterval: parseDuration(c.MaxPollInterval, wait.DefaultMaxInterval),
	}
}

// ExtensionExpectations returns what WaitForExtensions waits for
func (c *Config) ExtensionExpectations() []extensions.Expectation {
	out := make([]extensions.Expectation, 0, len(c.Extensions))
	for _, ext := range c.Extensions {
		out = append(out, extensions.Expectation{ID: ext.ID, Path: ext.Path})
	}
	return out
}

// ExtensionPaths returns the unpacked extension directories to load
func (c *Config) ExtensionPaths() []string {
	var out []string
	for _, ext := range c.Extensions {
		if ext.Path != "" {
			out = append(out, ext.Path)
		}
	}
	return out
}

// ResolveDevice returns the devices.Device for the configured device name.
// Supported friendly names:
//   - "clear" - No emulation, page fills window (default)
//   - "laptop" or "laptop-mdpi", "laptop-hidpi", "laptop-touch"
//   - "iphone-x", "iphone-8", "iphone-8-plus", "iphone-se"
//   - "ipad", "ipad-mini", "ipad-pro"
//   - "pixel-2", "pixel-2-xl", "galaxy-s5", "galaxy-fold"
//   - "nexus-5", "nexus-7", "nexus-10"
func (c *Config) ResolveDevice() devices.Device {
	switch strings.ToLower(c.Device) {
	case "", "clear":
		return devices.Clear
	case "laptop", "laptop-mdpi":
		return devices.LaptopWithMDPIScreen
	case "laptop-hidpi":
		return devices.LaptopWithHiDPIScreen
	case "laptop-touch":
		return devices.LaptopWithTouch
	case "iphone-x":
		return devices.IPhoneX
	case "iphone-8":
		return devices.IPhone6or7or8
	case "iphone-8-plus":
		return devices.IPhone6or7or8Plus
	case "iphone-se":
		return devices.IPhone5orSE
	case "ipad":
		return devices.IPad
	case "ipad-mini":
		return devices.IPadMini
	case "ipad-pro":
		return devices.IPadPro
	case "pixel-2":
		return devices.Pixel2
	case "pixel-2-xl":
		return devices.Pixel2XL
	case "galaxy-s5":
		return devices.GalaxyS5
	case "galaxy-fold":
		return devices.GalaxyFold
	case "nexus-5":
		return devices.Nexus5
	case "nexus-7":
		return devices.Nexus7
	case "nexus-10":
		return devices.Nexus10
	default:
		// Unknown device, default to clear
		return devices.Clear
	}
}
