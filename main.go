package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"mpe-router/config"
	"mpe-router/debug"
	"mpe-router/midi"
	"mpe-router/router"
	"mpe-router/theme"
	"mpe-router/tui"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/mpe-router/config.json)")
	debugLog := flag.Bool("debug", false, "write debug.log to the config directory")
	outName := flag.String("out", "", "output port name (overrides config)")
	flag.Parse()

	if err := run(*configPath, *debugLog, *outName); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, debugLog bool, outName string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if outName != "" {
		cfg.Output.PortName = outName
		cfg.Output.Virtual = false
	}

	if debugLog || cfg.Debug {
		if err := enableDebug(); err != nil {
			return fmt.Errorf("enable debug log: %w", err)
		}
		defer debug.Disable()
	}

	th, err := loadTheme(cfg)
	if err != nil {
		return err
	}

	send, out, err := midi.OpenOutput(cfg.Output.PortName, cfg.Output.Virtual)
	if err != nil {
		return err
	}
	defer out.Close()

	r := router.New(routerOptions(cfg), send)
	if cfg.Zone.Announce {
		r.Announce()
	}

	// Create MIDI device manager (handles hot-plug)
	deviceMgr := midi.NewDeviceManager(cfg.ExcludedInput)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deviceMgr.Run(ctx)
	go r.Run(ctx, deviceMgr.Packets(), deviceMgr.Events())

	debug.Log("main", "routing %s to %s", cfg.Mode, cfg.Output.PortName)

	m := tui.NewModel(r, deviceMgr, th, cfg.Output.PortName)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func routerOptions(cfg *config.Config) router.Options {
	opts := router.Options{Zone: cfg.MPEZone()}
	if cfg.Mode == config.ModeAssign {
		opts.Mode = router.ModeAssign
	}
	if rng, ok := cfg.LegacyRange(); ok {
		opts.Legacy = &rng
	}
	return opts
}

func enableDebug() error {
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	return debug.Enable(dir)
}

// loadTheme uses the configured palette file, or the built-in palette.
func loadTheme(cfg *config.Config) (*theme.Theme, error) {
	palette := theme.DefaultPalette()
	if cfg.UI.Palette != "" {
		p, err := theme.LoadGPL(cfg.UI.Palette)
		if err != nil {
			return nil, fmt.Errorf("load palette: %w", err)
		}
		palette = p
	}
	return theme.New(palette), nil
}
