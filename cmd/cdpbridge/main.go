package main

import (
	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/cdpbridge/internal/config"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

const version = "0.1.0"

// Globals are flags shared by every command
type Globals struct {
	Config   string `help:"Config file (default: ./cdpbridge.{json,toml}, then ~/.cdpbridge/)." type:"path" short:"c"`
	LogLevel string `help:"Log level: trace, debug, info, warn, error." name:"log-level" short:"l"`
	Debug    bool   `help:"Shorthand for --log-level=debug with caller info."`
	JQ       string `name:"jq" help:"Filter JSON output through a jq expression (e.g. '.version.product')."`
}

type CLI struct {
	Globals

	Launch   LaunchCmd   `cmd:"" help:"Launch a browser and bind to its DevTools endpoint."`
	Attach   AttachCmd   `cmd:"" help:"Bind to a browser started elsewhere and print its details."`
	Trace    TraceCmd    `cmd:"" help:"Record a browser-wide trace."`
	Pressure PressureCmd `cmd:"" help:"Send a simulated memory pressure notification."`
	Cfg      ConfigCmd   `cmd:"" name:"config" help:"Manage the config file."`
	Profiles ProfilesCmd `cmd:"" help:"Manage browser profiles."`
	Browser  BrowserCmd  `cmd:"" help:"Manage the downloaded browser."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// load reads the config, applies command line overrides and starts logging
func (g *Globals) load(o config.Overrides) (*config.Config, error) {
	// early logging so config loading can report problems
	Init(DefaultLogConfig())

	cfg, path, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}

	if o.LogLevel == "" {
		o.LogLevel = g.LogLevel
	}
	if g.Debug {
		o.LogLevel = "debug"
		cfg.Log.ShowCaller = true
	}
	if err := cfg.ApplyOverrides(o); err != nil {
		return nil, err
	}

	lc, err := cfg.Logging()
	if err != nil {
		return nil, err
	}
	Init(lc)
	if path != "" {
		L_debug("cdpbridge: using config", "path", path)
	}
	return cfg, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cdpbridge"),
		kong.Description("Bootstrap and hold DevTools protocol connections to Chromium browsers."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
