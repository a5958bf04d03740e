package main

import (
	"fmt"
	"os"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/roelfdiedericks/cdpbridge/internal/browser"
	"github.com/roelfdiedericks/cdpbridge/internal/config"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/paths"
)

type ConfigCmd struct {
	Init    ConfigInitCmd    `cmd:"" help:"Write a config file with the defaults."`
	Show    ConfigShowCmd    `cmd:"" help:"Print the effective configuration."`
	Backups ConfigBackupsCmd `cmd:"" help:"Show the backup of the config file."`
	Restore ConfigRestoreCmd `cmd:"" help:"Swap the config file with its backup (run again to undo)."`
}

type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" help:"Where to write (default ~/.cdpbridge/cdpbridge.json; the extension picks json, toml or yaml)."`
	Force bool   `help:"Overwrite an existing file (it is kept as .bak)." short:"f"`
}

func (c *ConfigInitCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		def, err := paths.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = def
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(g *Globals) error {
	cfg, err := g.load(config.Overrides{})
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, g.JQ, cfg)
}

// configPath is the file the config commands act on
func configPath(g *Globals) (string, error) {
	if g.Config != "" {
		return g.Config, nil
	}
	path, err := paths.ConfigPath()
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("no config file found (run 'cdpbridge config init')")
	}
	return path, nil
}

type ConfigBackupsCmd struct{}

func (c *ConfigBackupsCmd) Run(g *Globals) error {
	path, err := configPath(g)
	if err != nil {
		return err
	}
	b, err := config.Backup(path)
	if err != nil {
		return err
	}
	if b == nil {
		fmt.Println("no backup of", path)
		return nil
	}
	fmt.Printf("%s  %9s  %s\n", b.ModTime.Format("2006-01-02 15:04:05"), browser.FormatSize(b.Size), b.Path)
	return nil
}

type ConfigRestoreCmd struct{}

// Run swaps the config file with its backup.
func (c *ConfigRestoreCmd) Run(g *Globals) error {
	path, err := configPath(g)
	if err != nil {
		return err
	}
	return config.RestoreBackup(path)
}

// launcherFor builds a launcher from the loaded config
func launcherFor(g *Globals) (*browser.Launcher, error) {
	cfg, err := g.load(config.Overrides{})
	if err != nil {
		return nil, err
	}
	base, err := paths.BaseDir()
	if err != nil {
		return nil, err
	}
	return browser.NewLauncher(cfg.Browser, base), nil
}

type ProfilesCmd struct {
	List   ProfilesListCmd   `cmd:"" default:"1" help:"List profiles."`
	Delete ProfilesDeleteCmd `cmd:"" help:"Delete a profile."`
}

type ProfilesListCmd struct{}

func (c *ProfilesListCmd) Run(g *Globals) error {
	l, err := launcherFor(g)
	if err != nil {
		return err
	}
	profiles, err := l.Profiles().List()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("no profiles")
		return nil
	}
	for _, p := range profiles {
		fmt.Printf("%-20s  %9s  %s\n", p.Name, browser.FormatSize(p.Size), p.LastUsed.Format("2006-01-02 15:04"))
	}
	return nil
}

type ProfilesDeleteCmd struct {
	Name string `arg:"" help:"Profile to delete."`
}

func (c *ProfilesDeleteCmd) Run(g *Globals) error {
	l, err := launcherFor(g)
	if err != nil {
		return err
	}
	return l.Profiles().Delete(c.Name)
}

type BrowserCmd struct {
	Status   BrowserStatusCmd   `cmd:"" default:"1" help:"Show which browser binary would be used."`
	Download BrowserDownloadCmd `cmd:"" help:"Download Chromium if it is not present."`
}

type BrowserStatusCmd struct{}

func (c *BrowserStatusCmd) Run(g *Globals) error {
	l, err := launcherFor(g)
	if err != nil {
		return err
	}
	d := l.Downloader()
	fmt.Println("bin dir:", d.BinDir())
	bin, err := d.FindExistingBrowser()
	if err != nil {
		fmt.Println("browser: not downloaded")
		return nil
	}
	fmt.Println("browser:", bin)
	return nil
}

type BrowserDownloadCmd struct{}

func (c *BrowserDownloadCmd) Run(g *Globals) error {
	l, err := launcherFor(g)
	if err != nil {
		return err
	}
	bin, err := l.Downloader().EnsureBrowser()
	if err != nil {
		return err
	}
	L_info("cdpbridge: browser ready", "path", bin)
	fmt.Println(bin)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("cdpbridge %s (chromium revision %d)\n", version, launcher.RevisionDefault)
	return nil
}
