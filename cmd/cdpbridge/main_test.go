package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/cdpbridge/internal/browser"
	"github.com/roelfdiedericks/cdpbridge/internal/config"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("cdpbridge"))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestParseCommands(t *testing.T) {
	cli, ctx := parse(t, "attach", "10.0.0.5:9222", "--forward", "ssh", "--ssh-addr", "jump:22", "--ssh-user", "ops", "-e", "abc=/ext/abc", "--wait")
	assert.True(t, strings.HasPrefix(ctx.Command(), "attach"))
	assert.Equal(t, "10.0.0.5:9222", cli.Attach.Endpoint)
	assert.Equal(t, "ssh", cli.Attach.Forward)
	assert.Equal(t, []string{"abc=/ext/abc"}, cli.Attach.Extension)
	assert.True(t, cli.Attach.Wait)

	cli, ctx = parse(t, "-c", "/tmp/x.toml", "launch", "--headed", "-o", "https://example.com", "--flag", "lang=de")
	assert.Equal(t, "launch", ctx.Command())
	assert.Equal(t, "/tmp/x.toml", cli.Config)
	assert.True(t, cli.Launch.Headed)
	assert.Equal(t, map[string]string{"lang": "de"}, cli.Launch.Flag)

	cli, _ = parse(t, "trace", "9222", "--memory-dump", "-d", "2s")
	assert.True(t, cli.Trace.MemoryDump)
	assert.Equal(t, "trace.json", cli.Trace.Out)

	_, ctx = parse(t, "profiles", "delete", "old")
	assert.Equal(t, "profiles delete <name>", ctx.Command())
}

func TestParseExtension(t *testing.T) {
	tests := []struct {
		in      string
		want    browser.ExtensionConfig
		wantErr bool
	}{
		{"abc", browser.ExtensionConfig{ID: "abc"}, false},
		{"abc=/ext/abc", browser.ExtensionConfig{ID: "abc", Path: "/ext/abc"}, false},
		{" abc = /ext ", browser.ExtensionConfig{ID: "abc", Path: "/ext"}, false},
		{"=/ext", browser.ExtensionConfig{}, true},
		{"", browser.ExtensionConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseExtension(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectFlagsApply(t *testing.T) {
	f := ConnectFlags{Endpoint: "9333", Forward: "tcp", RemoteHost: "10.0.0.5", Handshake: true}
	var o config.Overrides
	f.apply(&o)

	cfg := config.Default()
	require.NoError(t, cfg.ApplyOverrides(o))
	assert.Equal(t, "9333", cfg.Browser.Endpoint)
	assert.Equal(t, browser.ForwardTCP, cfg.Browser.Forwarder.Mode)
	assert.Equal(t, "10.0.0.5", cfg.Browser.Forwarder.RemoteHost)
	assert.True(t, cfg.Browser.Handshake)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdpbridge.toml")
	g := &Globals{}

	require.NoError(t, (&ConfigInitCmd{Path: path}).Run(g))
	assert.Error(t, (&ConfigInitCmd{Path: path}).Run(g), "refuses to overwrite")
	require.NoError(t, (&ConfigInitCmd{Path: path, Force: true}).Run(g))

	cfg, used, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, config.Default(), cfg)
	b, err := config.Backup(path)
	require.NoError(t, err)
	require.NotNil(t, b, "the overwritten file is kept")
}

func TestWriteTrace(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		events []json.RawMessage
	}{
		{"empty", nil},
		{"events", []json.RawMessage{
			json.RawMessage(`{"name":"RunTask","ph":"X","ts":1}`),
			json.RawMessage(`{"name":"periodic_interval","ph":"v","args":{"dumps":{}}}`),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, writeTrace(path, tt.events))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			var got struct {
				TraceEvents []json.RawMessage `json:"traceEvents"`
			}
			require.NoError(t, json.Unmarshal(data, &got))
			require.Len(t, got.TraceEvents, len(tt.events))
			for i := range tt.events {
				assert.JSONEq(t, string(tt.events[i]), string(got.TraceEvents[i]))
			}

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
		})
	}
}

func TestPrintJSON(t *testing.T) {
	v := map[string]interface{}{
		"version": map[string]string{"product": "HeadlessChrome/120.0"},
		"pages":   []int{1, 2},
	}
	tests := []struct {
		name, filter, want string
	}{
		{"raw string", ".version.product", "HeadlessChrome/120.0\n"},
		{"number stream", ".pages[]", "1\n2\n"},
		{"object", ".version", "{\n  \"product\": \"HeadlessChrome/120.0\"\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, printJSON(&buf, tt.filter, v))
			assert.Equal(t, tt.want, buf.String())
		})
	}

	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, "", v))
	assert.JSONEq(t, `{"version": {"product": "HeadlessChrome/120.0"}, "pages": [1, 2]}`, buf.String())

	assert.Error(t, printJSON(&buf, ".[", v), "bad filter")
	assert.Error(t, printJSON(&buf, ".pages | error(\"boom\")", v))
}
