package surface

import (
	"fmt"
	"io/ioutil"

	"github.com/halcyonaudio/sfc/haptic"
	"github.com/halcyonaudio/sfc/panelctrl"

	"gopkg.in/yaml.v3"
)

// Config describes a surface installation: which bus to open, the panel
// hardware revision, the named haptic modes and the per-knob defaults.
type Config struct {
	Bus      string `yaml:"bus"`
	Revision string `yaml:"revision"`

	HapticModes []ModeConfig `yaml:"haptic_modes"`
	Knobs       []KnobConfig `yaml:"knobs"`
}

type ModeConfig struct {
	Name           string         `yaml:"name"`
	WidthDegrees   float64        `yaml:"width_degrees"`
	StartDegrees   *float64       `yaml:"start_degrees"`
	Friction       float64        `yaml:"friction"`
	NumDetents     int            `yaml:"num_detents"`
	DetentStrength float64        `yaml:"detent_strength"`
	Indents        []IndentConfig `yaml:"indents"`
}

type IndentConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Position uint16 `yaml:"position"`
}

type KnobConfig struct {
	Index int    `yaml:"index"`
	Mode  string `yaml:"mode"`
}

// Load reads, normalizes and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config parse: %v", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Normalize fills defaults so Validate and the driver see a complete config.
func (c *Config) Normalize() {
	if c.Bus == "" {
		c.Bus = "platform:/dev/i2c-1"
	}
	if c.Revision == "" {
		c.Revision = "a"
	}

	for i := range c.HapticModes {
		m := &c.HapticModes[i]
		if m.WidthDegrees == 0 {
			m.WidthDegrees = 360
		}
	}
}

// Validate rejects configurations the hardware cannot honor.
func (c *Config) Validate() error {
	switch c.Revision {
	case "a", "b":
	default:
		return fmt.Errorf("config: unknown revision %q", c.Revision)
	}

	seen := map[string]bool{}
	for _, m := range c.HapticModes {
		if m.Name == "" {
			return fmt.Errorf("config: haptic mode without a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("config: duplicate haptic mode %q", m.Name)
		}
		seen[m.Name] = true

		if m.WidthDegrees < 0 {
			return fmt.Errorf("config: mode %q: negative width", m.Name)
		}
		if m.Friction < 0 || m.Friction > 1 {
			return fmt.Errorf("config: mode %q: friction must be in [0,1]", m.Name)
		}
		if m.DetentStrength < 0 || m.DetentStrength > 1 {
			return fmt.Errorf("config: mode %q: detent strength must be in [0,1]", m.Name)
		}
		if m.NumDetents < 0 {
			return fmt.Errorf("config: mode %q: negative detent count", m.Name)
		}

		arcMode := haptic.Mode{WidthDegrees: m.WidthDegrees, StartDegrees: -1}
		if m.StartDegrees != nil {
			arcMode.StartDegrees = *m.StartDegrees
		}
		lo, hi := arcMode.HWRange()

		enabled := 0
		for _, in := range m.Indents {
			if in.Position > haptic.MaxPosition {
				return fmt.Errorf("config: mode %q: indent position %d out of range", m.Name, in.Position)
			}
			if in.Enabled && (in.Position < lo || in.Position > hi) {
				return fmt.Errorf("config: mode %q: indent position %d outside the knob arc", m.Name, in.Position)
			}
			if in.Enabled {
				enabled++
			}
		}
		if enabled > haptic.MaxIndents {
			return fmt.Errorf("config: mode %q: more than %d enabled indents", m.Name, haptic.MaxIndents)
		}
	}

	for _, k := range c.Knobs {
		if k.Index < 0 || k.Index >= MaxMotors {
			return fmt.Errorf("config: knob index %d out of range", k.Index)
		}
		if k.Mode != "" && !seen[k.Mode] {
			return fmt.Errorf("config: knob %d references unknown mode %q", k.Index, k.Mode)
		}
	}

	return nil
}

// BuildModes converts the mode configs into the immutable haptic modes the
// driver hands to the motors.
func (c *Config) BuildModes() map[string]*haptic.Mode {
	modes := make(map[string]*haptic.Mode, len(c.HapticModes))

	for _, mc := range c.HapticModes {
		mode := &haptic.Mode{
			Name:           mc.Name,
			WidthDegrees:   mc.WidthDegrees,
			StartDegrees:   -1,
			Friction:       mc.Friction,
			NumDetents:     mc.NumDetents,
			DetentStrength: mc.DetentStrength,
		}
		if mc.StartDegrees != nil {
			mode.StartDegrees = *mc.StartDegrees
		}

		for _, in := range mc.Indents {
			mode.Indents = append(mode.Indents, haptic.Indent{
				Enabled:  in.Enabled,
				Position: in.Position,
			})
		}

		modes[mc.Name] = mode
	}

	return modes
}

func (c *Config) revision() panelctrl.Revision {
	if c.Revision == "b" {
		return panelctrl.RevB
	}
	return panelctrl.RevA
}
