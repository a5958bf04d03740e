package browser

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/devices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/cdpbridge/internal/extensions"
	"github.com/roelfdiedericks/cdpbridge/internal/forward"
	"github.com/roelfdiedericks/cdpbridge/internal/wait"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.ResolveTimeout())
	assert.Equal(t, 30*time.Second, cfg.ResolveStartupTimeout())
	assert.Equal(t, 60*time.Second, cfg.ResolveExtensionTimeout())
	assert.Equal(t, wait.Options{Interval: 100 * time.Millisecond, MaxInterval: 500 * time.Millisecond}, cfg.ResolvePoll())
	assert.True(t, cfg.ReloadOnStaleBinding)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"tcp mode", func(c *Config) { c.Forwarder.Mode = ForwardTCP }, ""},
		{"empty mode", func(c *Config) { c.Forwarder.Mode = "" }, ""},
		{"unknown mode", func(c *Config) { c.Forwarder.Mode = "carrier-pigeon" }, "unknown forwarder mode"},
		{"ssh without addr", func(c *Config) { c.Forwarder.Mode = ForwardSSH }, "needs addr and user"},
		{"ssh complete", func(c *Config) {
			c.Forwarder.Mode = ForwardSSH
			c.Forwarder.SSH = SSHConfig{Addr: "box:22", User: "me", Timeout: "5s"}
		}, ""},
		{"bad timeout", func(c *Config) { c.StartupTimeout = "soon" }, "invalid startupTimeout"},
		{"bad ssh timeout", func(c *Config) {
			c.Forwarder.Mode = ForwardSSH
			c.Forwarder.SSH = SSHConfig{Addr: "box:22", User: "me", Timeout: "x"}
		}, "invalid ssh.timeout"},
		{"extension without id", func(c *Config) {
			c.Extensions = []ExtensionConfig{{ID: "abc"}, {Path: "/ext"}}
		}, "extension 1 has no id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestResolveDurationsFallBack(t *testing.T) {
	cfg := Config{Timeout: "-1s", StartupTimeout: "bogus", PollInterval: "20ms"}
	assert.Equal(t, 30*time.Second, cfg.ResolveTimeout())
	assert.Equal(t, 30*time.Second, cfg.ResolveStartupTimeout())
	assert.Equal(t, extensions.DefaultTimeout, cfg.ResolveExtensionTimeout())
	assert.Equal(t, 20*time.Millisecond, cfg.ResolvePoll().Interval)
	assert.Equal(t, wait.DefaultMaxInterval, cfg.ResolvePoll().MaxInterval)
}

func TestResolveDirs(t *testing.T) {
	base := filepath.Join("home", "u", ".cdpbridge")
	cfg := Config{}
	assert.Equal(t, filepath.Join(base, "browser"), cfg.ResolveDir(base))
	assert.Equal(t, filepath.Join(base, "browser", "bin"), cfg.ResolveBinDir(base))
	assert.Equal(t, filepath.Join(base, "browser", "profiles"), cfg.ResolveProfilesDir(base))

	cfg.Dir = filepath.Join("srv", "chrome")
	assert.Equal(t, filepath.Join("srv", "chrome", "profiles"), cfg.ResolveProfilesDir(base))
}

func TestExtensionHelpers(t *testing.T) {
	cfg := Config{Extensions: []ExtensionConfig{
		{ID: "aaa", Path: "/ext/a"},
		{ID: "bbb"},
	}}
	assert.Equal(t, []extensions.Expectation{{ID: "aaa", Path: "/ext/a"}, {ID: "bbb"}}, cfg.ExtensionExpectations())
	assert.Equal(t, []string{"/ext/a"}, cfg.ExtensionPaths())
}

func TestResolveDevice(t *testing.T) {
	tests := []struct {
		name string
		want devices.Device
	}{
		{"", devices.Clear},
		{"clear", devices.Clear},
		{"iPhone-X", devices.IPhoneX},
		{"laptop", devices.LaptopWithMDPIScreen},
		{"pixel-2", devices.Pixel2},
		{"toaster", devices.Clear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Device: tt.name}
			assert.Equal(t, tt.want.Title, cfg.ResolveDevice().Title)
		})
	}
}

func TestForwarderFactory(t *testing.T) {
	tests := []struct {
		name     string
		fc       ForwarderConfig
		host     string
		wantType any
		closer   bool
		wantErr  bool
	}{
		{"local default", ForwarderConfig{}, "", forward.DoNothing{}, false, false},
		{"local with loopback endpoint", ForwarderConfig{Mode: ForwardLocal}, "127.0.0.1", forward.DoNothing{}, false, false},
		{"local with remote endpoint", ForwarderConfig{Mode: ForwardLocal}, "10.0.0.5", &forward.TCP{}, false, false},
		{"tcp", ForwarderConfig{Mode: ForwardTCP, RemoteHost: "10.0.0.7"}, "", &forward.TCP{}, false, false},
		{"ssh", ForwarderConfig{Mode: ForwardSSH, SSH: SSHConfig{Addr: "box:22", User: "me"}}, "", &forward.SSH{}, true, false},
		{"unknown", ForwarderConfig{Mode: "udp"}, "", nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, closer, err := forwarderFactory(tt.fc, tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, f)
			assert.Equal(t, tt.closer, closer != nil)
		})
	}

	f, _, err := forwarderFactory(ForwarderConfig{Mode: ForwardTCP}, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", f.(*forward.TCP).RemoteHost, "endpoint host wins over the default")
}

func TestNewForEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	b, err := NewForEndpoint(cfg, "localhost:9333")
	require.NoError(t, err)
	assert.Equal(t, Unbound, b.State())
	require.NoError(t, b.Close())

	_, err = NewForEndpoint(cfg, "ws://localhost:notaport")
	assert.Error(t, err)

	cfg.Forwarder.Mode = "udp"
	_, err = NewForEndpoint(cfg, "")
	assert.Error(t, err)
}

func TestNewForLaunchedNeedsProcess(t *testing.T) {
	_, err := NewForLaunched(DefaultConfig(), nil)
	assert.Error(t, err)
}
