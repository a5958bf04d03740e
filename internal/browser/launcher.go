package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// Launcher starts browser processes with an ephemeral debug port. The port
// is not known up front: Chrome writes it to DevToolsActivePort in the
// profile once the agent listens.
type Launcher struct {
	config     Config
	downloader *Downloader
	profiles   *ProfileManager
}

// NewLauncher creates a launcher rooted at baseDir (usually ~/.cdpbridge).
func NewLauncher(cfg Config, baseDir string) *Launcher {
	return &Launcher{
		config:     cfg,
		downloader: NewDownloader(cfg.ResolveBinDir(baseDir), cfg.Revision),
		profiles:   NewProfileManager(cfg.ResolveProfilesDir(baseDir)),
	}
}

// Downloader returns the downloader
func (l *Launcher) Downloader() *Downloader {
	return l.downloader
}

// Profiles returns the profile manager
func (l *Launcher) Profiles() *ProfileManager {
	return l.profiles
}

// Args returns the browser command line (without the binary) for a profile dir.
func (l *Launcher) Args(profileDir string) []string {
	ln := launcher.New().
		UserDataDir(profileDir).
		Headless(l.config.Headless).
		Set(flags.RemoteDebuggingPort, "0").
		Set("disable-dev-shm-usage") // For Docker/limited memory

	// Headed windows otherwise come up tiny
	if !l.config.Headless {
		ln = ln.Set("window-size", "1920,1080").
			Set("start-maximized")
	}
	if l.config.Stealth {
		ln = ln.Set("disable-blink-features", "AutomationControlled")
	}
	if l.config.NoSandbox {
		ln = ln.Set("no-sandbox")
	}
	if exts := l.config.ExtensionPaths(); len(exts) > 0 {
		ln = ln.Set("load-extension", exts...).
			Delete("disable-extensions").
			Delete("disable-component-extensions-with-background-pages")
		// old headless mode has no extension support
		if l.config.Headless {
			ln = ln.Set(flags.Headless, "new")
		}
	}
	for name, value := range l.config.Flags {
		if value == "" {
			ln = ln.Set(flags.Flag(name))
		} else {
			ln = ln.Set(flags.Flag(name), value)
		}
	}
	return ln.FormatArgs()
}

// Launch resolves the binary, prepares the profile and starts the browser.
func (l *Launcher) Launch(profile string) (*Process, error) {
	if profile == "" {
		profile = l.config.DefaultProfile
	}

	bin, err := l.downloader.Resolve(l.config.BinPath, l.config.AutoDownload)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure browser: %w", err)
	}

	profileDir, err := l.profiles.Prepare(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare profile: %w", err)
	}

	args := l.Args(profileDir)
	L_debug("browser: launching", "profile", profile, "bin", bin, "args", args)

	logPath := filepath.Join(profileDir, "cdpbridge-browser.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser log: %w", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	p := newProcess(cmd, profile, profileDir, logFile)
	L_info("browser: launched", "profile", profile, "pid", p.PID, "log", logPath)
	return p, nil
}

// Process is a browser started by a Launcher.
type Process struct {
	PID        int
	Profile    string
	ProfileDir string

	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
	logFile *os.File

	killOnce sync.Once
}

func newProcess(cmd *exec.Cmd, profile, profileDir string, logFile *os.File) *Process {
	p := &Process{
		PID:        cmd.Process.Pid,
		Profile:    profile,
		ProfileDir: profileDir,
		cmd:        cmd,
		done:       make(chan struct{}),
		logFile:    logFile,
	}
	go func() {
		p.exitErr = cmd.Wait()
		if p.logFile != nil {
			p.logFile.Close()
		}
		L_debug("browser: process exited", "pid", p.PID, "error", p.exitErr)
		close(p.done)
	}()
	return p
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Exited is closed when the process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.done
}

// ExitErr returns the wait error once the process exited.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Kill stops the process and waits up to 5s for it to exit. Safe to call
// more than once.
func (p *Process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		if !p.Alive() {
			return
		}
		if e := p.cmd.Process.Kill(); e != nil && !errors.Is(e, os.ErrProcessDone) {
			err = fmt.Errorf("kill browser %d: %w", p.PID, e)
			return
		}
		select {
		case <-p.done:
			L_debug("browser: process killed", "pid", p.PID)
		case <-time.After(5 * time.Second):
			err = fmt.Errorf("browser %d did not exit after kill", p.PID)
		}
	})
	return err
}
