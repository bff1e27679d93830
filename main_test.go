package main

import (
	"os"
	"path/filepath"
	"testing"

	"mpe-router/config"
	"mpe-router/mpe"
	"mpe-router/router"
)

func TestRouterOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeAssign
	cfg.Zone = config.ZoneConfig{Kind: "upper", MemberChannels: 5}

	opts := routerOptions(cfg)
	if opts.Mode != router.ModeAssign || opts.Zone != mpe.NewZone(mpe.UpperZone, 5) || opts.Legacy != nil {
		t.Errorf("options = %+v", opts)
	}

	cfg.Legacy = &config.RangeConfig{First: 1, Last: 8}
	opts = routerOptions(cfg)
	if opts.Legacy == nil || *opts.Legacy != mpe.NewRange(1, 8) {
		t.Errorf("legacy = %+v", opts.Legacy)
	}
}

func TestLoadThemeBadPalette(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UI.Palette = filepath.Join(t.TempDir(), "missing.gpl")

	if _, err := loadTheme(cfg); err == nil {
		t.Error("missing palette file accepted")
	}
}

func TestLoadThemePalette(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.gpl")
	if err := os.WriteFile(path, []byte("GIMP Palette\n0 0 0 black\n255 255 255 white\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.UI.Palette = path

	th, err := loadTheme(cfg)
	if err != nil || th == nil {
		t.Fatalf("loadTheme = %v, %v", th, err)
	}

	cfg.UI.Palette = ""
	if _, err := loadTheme(cfg); err != nil {
		t.Errorf("default palette: %v", err)
	}
}

func TestEnableDebugWithoutHome(t *testing.T) {
	t.Setenv("HOME", "")

	if err := enableDebug(); err == nil {
		t.Error("debug log enabled without a home directory")
	}
}
