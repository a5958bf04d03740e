package browser

import (
	"fmt"
	"io"
	"time"

	"github.com/roelfdiedericks/cdpbridge/internal/cdp"
	"github.com/roelfdiedericks/cdpbridge/internal/endpoint"
	"github.com/roelfdiedericks/cdpbridge/internal/forward"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/paths"
	"github.com/roelfdiedericks/cdpbridge/internal/probe"
)

// NewForLaunched builds a backend for a browser this process started. The
// endpoint comes from the profile's DevToolsActivePort and the process is
// killed on Close.
func NewForLaunched(cfg Config, proc *Process) (*Backend, error) {
	if proc == nil {
		return nil, fmt.Errorf("browser: no process")
	}
	opts, err := baseOptions(cfg, "")
	if err != nil {
		return nil, err
	}
	opts.Locator = endpoint.NewActivePortLocator(proc.ProfileDir)
	opts.Process = proc
	opts.OwnsProcess = true
	return New(opts)
}

// NewForEndpoint builds a backend for a browser started elsewhere, reached
// at cfg.Endpoint (or endpoint when non-empty).
func NewForEndpoint(cfg Config, raw string) (*Backend, error) {
	if raw == "" {
		raw = cfg.Endpoint
	}
	if raw == "" {
		raw = "ws://localhost:9222"
	}
	loc, err := endpoint.NewStaticLocator(raw)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", raw, err)
	}
	opts, err := baseOptions(cfg, loc.Host)
	if err != nil {
		return nil, err
	}
	opts.Locator = loc
	L_info("browser: attaching", "endpoint", raw, "forwarder", cfg.Forwarder.Mode)
	return New(opts)
}

// baseOptions builds everything except the locator and process. endpointHost
// is where an attached browser listens; empty for launched browsers.
func baseOptions(cfg Config, endpointHost string) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}

	fwd, closer, err := forwarderFactory(cfg.Forwarder, endpointHost)
	if err != nil {
		return Options{}, err
	}

	device := cfg.ResolveDevice()
	opts := Options{
		Forwarders: fwd,
		Probe:      &probe.HTTPProbe{Timeout: time.Second, Handshake: cfg.Handshake},
		Clients: &cdp.RodFactory{
			CallTimeout: cfg.ResolveTimeout(),
			Stealth:     cfg.Stealth,
		},
		SupportsExtensions:   true,
		Extensions:           cfg.ExtensionExpectations(),
		StartupTimeout:       cfg.ResolveStartupTimeout(),
		ExtensionTimeout:     cfg.ResolveExtensionTimeout(),
		CallTimeout:          cfg.ResolveTimeout(),
		Poll:                 cfg.ResolvePoll(),
		ReloadOnStaleBinding: cfg.ReloadOnStaleBinding,
		Device:               &device,
	}
	if closer != nil {
		opts.Closers = append(opts.Closers, closer)
	}
	return opts, nil
}

func forwarderFactory(fc ForwarderConfig, endpointHost string) (forward.Factory, io.Closer, error) {
	remote := fc.RemoteHost
	if endpointHost != "" && endpointHost != "127.0.0.1" {
		remote = endpointHost
	}
	if remote == "" {
		remote = "127.0.0.1"
	}

	switch fc.Mode {
	case "", ForwardLocal:
		if remote != "127.0.0.1" {
			L_info("browser: endpoint is not local, using tcp forwarder", "host", remote)
			return &forward.TCP{RemoteHost: remote}, nil, nil
		}
		return forward.DoNothing{}, nil, nil
	case ForwardTCP:
		return &forward.TCP{RemoteHost: remote}, nil, nil
	case ForwardSSH:
		keyFile, err := paths.ExpandTilde(fc.SSH.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		knownHosts, err := paths.ExpandTilde(fc.SSH.KnownHostsFile)
		if err != nil {
			return nil, nil, err
		}
		f := forward.NewSSH(forward.SSHConfig{
			Addr:           fc.SSH.Addr,
			User:           fc.SSH.User,
			KeyFile:        keyFile,
			Password:       fc.SSH.Password,
			KnownHostsFile: knownHosts,
			Timeout:        parseDuration(fc.SSH.Timeout, 10*time.Second),
			RemoteHost:     remote,
		})
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("unknown forwarder mode %q", fc.Mode)
	}
}
