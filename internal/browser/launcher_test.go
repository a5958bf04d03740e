package browser

import (
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLauncherArgs(t *testing.T) {
	base := t.TempDir()
	profileDir := filepath.Join(base, "profiles", "work")

	t.Run("defaults", func(t *testing.T) {
		l := NewLauncher(DefaultConfig(), base)
		args := l.Args(profileDir)
		assert.Contains(t, args, "--remote-debugging-port=0")
		assert.Contains(t, args, "--user-data-dir="+profileDir)
		assert.Contains(t, args, "--disable-dev-shm-usage")
		assert.Contains(t, args, "--disable-blink-features=AutomationControlled")
		for _, a := range args {
			assert.False(t, strings.HasPrefix(a, "--rod-"), "launcher-only flag %s leaked", a)
		}
	})

	t.Run("extensions force new headless", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.NoSandbox = true
		cfg.Extensions = []ExtensionConfig{{ID: "a", Path: "/ext/a"}, {ID: "b", Path: "/ext/b"}}
		args := NewLauncher(cfg, base).Args(profileDir)
		assert.Contains(t, args, "--load-extension=/ext/a,/ext/b")
		assert.Contains(t, args, "--headless=new")
		assert.Contains(t, args, "--no-sandbox")
		assert.NotContains(t, args, "--disable-extensions")
	})

	t.Run("headed window and extra flags", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Headless = false
		cfg.Flags = map[string]string{"lang": "en-GB", "mute-audio": ""}
		args := NewLauncher(cfg, base).Args(profileDir)
		assert.Contains(t, args, "--window-size=1920,1080")
		assert.Contains(t, args, "--lang=en-GB")
		assert.Contains(t, args, "--mute-audio")
		for _, a := range args {
			assert.NotEqual(t, "--headless", a)
		}
	})
}

func TestLaunchWithoutBrowser(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoDownload = false
	l := NewLauncher(cfg, t.TempDir())
	_, err := l.Launch("")
	assert.ErrorContains(t, err, "autoDownload is disabled")

	cfg.BinPath = filepath.Join(t.TempDir(), "no-such-chrome")
	_, err = NewLauncher(cfg, t.TempDir()).Launch("")
	assert.Error(t, err)
}

func TestProcessKill(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(sleep, "30")
	require.NoError(t, cmd.Start())

	p := newProcess(cmd, "default", t.TempDir(), nil)
	assert.True(t, p.Alive())
	assert.NoError(t, p.ExitErr())

	require.NoError(t, p.Kill())
	assert.False(t, p.Alive())
	assert.Error(t, p.ExitErr(), "killed process reports a wait error")
	require.NoError(t, p.Kill(), "second kill is a no-op")

	select {
	case <-p.Exited():
	case <-time.After(time.Second):
		t.Fatal("Exited not closed")
	}
}

func TestProcessExitsOnItsOwn(t *testing.T) {
	tru, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	cmd := exec.Command(tru)
	require.NoError(t, cmd.Start())
	p := newProcess(cmd, "default", t.TempDir(), nil)

	require.Eventually(t, func() bool { return !p.Alive() }, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, p.ExitErr())
	assert.NoError(t, p.Kill())
}
