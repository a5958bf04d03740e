package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/roelfdiedericks/cdpbridge/internal/browser"
	"github.com/roelfdiedericks/cdpbridge/internal/cdp"
	"github.com/roelfdiedericks/cdpbridge/internal/config"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/paths"
)

// healthInterval is how often a held connection is checked
const healthInterval = 2 * time.Second

// ConnectFlags select the browser to attach to and how to reach it
type ConnectFlags struct {
	Endpoint      string `arg:"" optional:"" help:"DevTools endpoint: ws://host:port/devtools/browser/<id>, host:port or port (default from config)."`
	Forward       string `help:"Forwarder: local, tcp or ssh."`
	RemoteHost    string `help:"Host the browser listens on, as seen from the forwarder."`
	SSHAddr       string `name:"ssh-addr" help:"SSH server host:port."`
	SSHUser       string `name:"ssh-user" help:"SSH user."`
	SSHKey        string `name:"ssh-key" help:"SSH private key file."`
	SSHKnownHosts string `name:"ssh-known-hosts" help:"known_hosts file for host key checking."`
	Handshake     bool   `help:"Probe readiness with a websocket handshake, not just /json/version."`
}

func (f *ConnectFlags) apply(o *config.Overrides) {
	o.Browser.Endpoint = f.Endpoint
	o.Browser.Handshake = f.Handshake
	o.Browser.Forwarder = browser.ForwarderConfig{
		Mode:       f.Forward,
		RemoteHost: f.RemoteHost,
		SSH: browser.SSHConfig{
			Addr:           f.SSHAddr,
			User:           f.SSHUser,
			KeyFile:        f.SSHKey,
			KnownHostsFile: f.SSHKnownHosts,
		},
	}
}

// ExtensionFlags name extensions to wait for
type ExtensionFlags struct {
	Extension []string `help:"Extension to wait for, as <id> or <id>=<unpacked dir> (repeatable)." short:"e"`
}

func (f *ExtensionFlags) apply(o *config.Overrides) error {
	for _, raw := range f.Extension {
		ext, err := parseExtension(raw)
		if err != nil {
			return err
		}
		o.Browser.Extensions = append(o.Browser.Extensions, ext)
	}
	return nil
}

func parseExtension(raw string) (browser.ExtensionConfig, error) {
	id, path, _ := strings.Cut(strings.TrimSpace(raw), "=")
	id = strings.TrimSpace(id)
	if id == "" {
		return browser.ExtensionConfig{}, fmt.Errorf("extension %q has no id", raw)
	}
	return browser.ExtensionConfig{ID: id, Path: strings.TrimSpace(path)}, nil
}

// attach loads config and returns a started backend for an existing browser
func attach(g *Globals, cf ConnectFlags, ef ExtensionFlags) (*browser.Backend, error) {
	var o config.Overrides
	cf.apply(&o)
	if err := ef.apply(&o); err != nil {
		return nil, err
	}
	cfg, err := g.load(o)
	if err != nil {
		return nil, err
	}

	be, err := browser.NewForEndpoint(cfg.Browser, "")
	if err != nil {
		return nil, err
	}
	if err := be.Start(); err != nil {
		be.Close()
		return nil, err
	}
	return be, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// hold keeps the backend bound until ctx is done or exited closes. A lost
// connection is rebound; a dead browser ends the hold.
func hold(ctx context.Context, be *browser.Backend, exited <-chan struct{}) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			L_info("cdpbridge: shutting down")
			return nil
		case <-exited:
			return errors.New("browser exited")
		case <-ticker.C:
			if be.HasConnection() {
				continue
			}
			L_warn("cdpbridge: connection lost, rebinding", "id", be.ID)
			if err := be.Bind(); err != nil {
				var gone *browser.BrowserGoneError
				if errors.As(err, &gone) {
					return err
				}
				L_warn("cdpbridge: rebind failed, will retry", "error", err)
			}
		}
	}
}

func openPages(be *browser.Backend, urls []string) {
	for _, u := range urls {
		if _, err := be.NewPage(u); err != nil {
			L_error("cdpbridge: failed to open page", "url", u, "error", err)
			continue
		}
		L_info("cdpbridge: opened page", "url", u)
	}
}

type LaunchCmd struct {
	ExtensionFlags

	Profile   string            `help:"Profile name (default from config)." short:"p"`
	Open      []string          `help:"Open a tab at URL once bound (repeatable)." short:"o"`
	Headed    bool              `help:"Show the browser window."`
	NoStealth bool              `help:"Do not hide automation markers."`
	Device    string            `help:"Device to emulate in opened tabs (e.g. iphone-x, laptop)."`
	Flag      map[string]string `help:"Extra browser flag, name=value (repeatable)."`
}

func (c *LaunchCmd) Run(g *Globals) error {
	o := config.Overrides{Headed: c.Headed, NoStealth: c.NoStealth}
	o.Browser.Device = c.Device
	o.Browser.Flags = c.Flag
	if err := c.ExtensionFlags.apply(&o); err != nil {
		return err
	}
	cfg, err := g.load(o)
	if err != nil {
		return err
	}

	base, err := paths.BaseDir()
	if err != nil {
		return err
	}
	proc, err := browser.NewLauncher(cfg.Browser, base).Launch(c.Profile)
	if err != nil {
		return err
	}

	be, err := browser.NewForLaunched(cfg.Browser, proc)
	if err != nil {
		proc.Kill()
		return err
	}
	if err := be.Start(); err != nil {
		be.Close()
		return err
	}
	defer be.Close()

	if err := printJSON(os.Stdout, g.JQ, be.Status()); err != nil {
		return err
	}
	openPages(be, c.Open)

	ctx, stop := signalContext()
	defer stop()
	return hold(ctx, be, proc.Exited())
}

type AttachCmd struct {
	ConnectFlags
	ExtensionFlags

	Open []string `help:"Open a tab at URL once bound (repeatable)." short:"o"`
	Wait bool     `help:"Stay bound until interrupted." short:"w"`
}

func (c *AttachCmd) Run(g *Globals) error {
	be, err := attach(g, c.ConnectFlags, c.ExtensionFlags)
	if err != nil {
		return err
	}
	defer be.Close()

	v, err := be.Version()
	if err != nil {
		return err
	}
	report := map[string]interface{}{
		"status":  be.Status(),
		"version": v,
	}
	if be.SupportsSystemInfo() {
		if info, err := be.SystemInfo(); err != nil {
			L_warn("cdpbridge: system info unavailable", "error", err)
		} else {
			report["systemInfo"] = info
		}
	}
	if err := printJSON(os.Stdout, g.JQ, report); err != nil {
		return err
	}
	openPages(be, c.Open)

	if !c.Wait {
		return nil
	}
	ctx, stop := signalContext()
	defer stop()
	return hold(ctx, be, nil)
}

type TraceCmd struct {
	ConnectFlags

	Duration   time.Duration `help:"How long to record." default:"5s" short:"d"`
	Categories []string      `help:"Trace categories (default: the browser's defaults)."`
	MemoryDump bool          `help:"Request a memory dump before stopping."`
	Out        string        `help:"Output file (Chrome trace event format)." default:"trace.json" short:"O"`
}

func (c *TraceCmd) Run(g *Globals) error {
	be, err := attach(g, c.ConnectFlags, ExtensionFlags{})
	if err != nil {
		return err
	}
	defer be.Close()

	opts := cdp.TraceOptions{Categories: c.Categories, MemoryDumps: c.MemoryDump}
	if err := be.StartTracing(opts); err != nil {
		return err
	}
	L_info("cdpbridge: tracing", "duration", c.Duration)

	ctx, stop := signalContext()
	defer stop()
	select {
	case <-ctx.Done():
		L_info("cdpbridge: interrupted, stopping trace early")
	case <-time.After(c.Duration):
	}

	if c.MemoryDump {
		id, err := be.DumpMemory(0)
		if err != nil {
			L_warn("cdpbridge: memory dump failed", "error", err)
		} else {
			L_info("cdpbridge: memory dump", "id", id)
		}
	}

	data, err := be.StopTracing()
	if err != nil {
		return err
	}
	if err := writeTrace(c.Out, data.Events); err != nil {
		return err
	}
	L_info("cdpbridge: trace written", "path", c.Out, "events", len(data.Events))
	return nil
}

type PressureCmd struct {
	ConnectFlags

	Level    string `help:"Pressure level." enum:"moderate,critical" default:"critical"`
	Suppress bool   `help:"Suppress pressure notifications instead of sending one."`
}

func (c *PressureCmd) Run(g *Globals) error {
	be, err := attach(g, c.ConnectFlags, ExtensionFlags{})
	if err != nil {
		return err
	}
	defer be.Close()

	if c.Suppress {
		return be.SetMemoryPressureNotificationsSuppressed(true, 0)
	}
	if err := be.SetMemoryPressureNotificationsSuppressed(false, 0); err != nil {
		return err
	}
	if err := be.SimulateMemoryPressureNotification(c.Level, 0); err != nil {
		return err
	}
	L_info("cdpbridge: memory pressure sent", "level", c.Level)
	return nil
}
