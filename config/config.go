package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mpe-router/mpe"
)

// Mode selects how input messages are spread over the zone
type Mode string

const (
	ModeRemap  Mode = "remap"  // multiplex MPE sources with the channel remapper
	ModeAssign Mode = "assign" // spread single-channel keyboards with the channel assigner
)

// OutputConfig defines the synth MIDI output
type OutputConfig struct {
	PortName string `json:"portName,omitempty"`
	Virtual  bool   `json:"virtual,omitempty"` // create a virtual port called PortName
}

// ZoneConfig describes the MPE zone on the output side
type ZoneConfig struct {
	Kind           string `json:"kind"` // "lower" or "upper"
	MemberChannels int    `json:"memberChannels"`
	Announce       bool   `json:"announce,omitempty"` // send the MPE Configuration Message on start
}

// RangeConfig is a legacy channel range used instead of a zone
type RangeConfig struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// InputConfig filters which input ports become sources
type InputConfig struct {
	Exclude []string `json:"exclude,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	Palette string `json:"palette,omitempty"` // path to a GIMP .gpl palette
}

// Config is the main configuration structure
type Config struct {
	Mode   Mode         `json:"mode"`
	Output OutputConfig `json:"output"`
	Zone   ZoneConfig   `json:"zone"`
	Legacy *RangeConfig `json:"legacy,omitempty"`
	Inputs InputConfig  `json:"inputs,omitempty"`
	UI     UIConfig     `json:"ui,omitempty"`
	Debug  bool         `json:"debug,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeRemap,
		Output: OutputConfig{
			PortName: "mpe-router",
			Virtual:  true,
		},
		Zone: ZoneConfig{
			Kind:           "lower",
			MemberChannels: 15,
		},
		Inputs: InputConfig{
			Exclude: []string{"Midi Through", "mpe-router"},
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mpe-router"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, or returns defaults if it does not exist.
// Fields missing from the file keep their default values.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory
func (c *Config) SaveTo(path string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks values that cannot be clamped into something sensible
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeRemap, ModeAssign:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	switch c.Zone.Kind {
	case "lower", "upper":
	default:
		return fmt.Errorf("unknown zone kind %q", c.Zone.Kind)
	}
	if c.Zone.MemberChannels < 1 || c.Zone.MemberChannels > 15 {
		return fmt.Errorf("zone member channels %d outside 1-15", c.Zone.MemberChannels)
	}

	if l := c.Legacy; l != nil {
		if l.First < mpe.MinChannel || l.Last > mpe.MaxChannel || l.First > l.Last {
			return fmt.Errorf("legacy range %d-%d invalid", l.First, l.Last)
		}
	}

	if c.Output.PortName == "" {
		return fmt.Errorf("output port name is empty")
	}
	return nil
}

// MPEZone converts the zone settings
func (c *Config) MPEZone() mpe.Zone {
	kind := mpe.LowerZone
	if c.Zone.Kind == "upper" {
		kind = mpe.UpperZone
	}
	return mpe.NewZone(kind, c.Zone.MemberChannels)
}

// LegacyRange returns the legacy range, if one is configured
func (c *Config) LegacyRange() (mpe.Range, bool) {
	if c.Legacy == nil {
		return mpe.Range{}, false
	}
	return mpe.NewRange(c.Legacy.First, c.Legacy.Last), true
}

// ExcludedInput reports whether an input port should be ignored. Patterns
// match anywhere in the port name, ignoring case.
func (c *Config) ExcludedInput(portName string) bool {
	name := strings.ToLower(portName)
	for _, p := range c.Inputs.Exclude {
		if p != "" && strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// AddExclude adds a port name pattern to the exclude list once
func (c *Config) AddExclude(pattern string) {
	for _, p := range c.Inputs.Exclude {
		if p == pattern {
			return
		}
	}
	c.Inputs.Exclude = append(c.Inputs.Exclude, pattern)
}
