package surface

import (
	"strings"
	"testing"
)

func validConfig() Config {
	start := 90.0
	return Config{
		Revision: "b",
		HapticModes: []ModeConfig{
			{Name: "pan", WidthDegrees: 270, Friction: 0.5},
			{Name: "switch", WidthDegrees: 90, StartDegrees: &start, Indents: []IndentConfig{
				{Enabled: true, Position: 12000},
				{Enabled: true, Position: 14000},
			}},
		},
		Knobs: []KnobConfig{
			{Index: 0, Mode: "pan"},
			{Index: 20, Mode: "switch"},
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate err=%v", err)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := Config{
		HapticModes: []ModeConfig{{Name: "free"}},
	}
	cfg.Normalize()

	if cfg.Bus == "" {
		t.Fatal("bus default missing")
	}
	if cfg.Revision != "a" {
		t.Fatalf("revision default = %q", cfg.Revision)
	}
	if cfg.HapticModes[0].WidthDegrees != 360 {
		t.Fatalf("width default = %v", cfg.HapticModes[0].WidthDegrees)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown revision", func(c *Config) { c.Revision = "c" }, "revision"},
		{"nameless mode", func(c *Config) { c.HapticModes[0].Name = "" }, "without a name"},
		{"duplicate mode", func(c *Config) { c.HapticModes[1].Name = "pan" }, "duplicate"},
		{"bad friction", func(c *Config) { c.HapticModes[0].Friction = 1.5 }, "friction"},
		{"bad detent strength", func(c *Config) { c.HapticModes[0].DetentStrength = -1 }, "detent strength"},
		{"negative detents", func(c *Config) { c.HapticModes[0].NumDetents = -1 }, "detent count"},
		{"indent out of range", func(c *Config) {
			c.HapticModes[0].Indents = []IndentConfig{{Enabled: true, Position: 40000}}
		}, "out of range"},
		{"indent outside arc", func(c *Config) {
			// Valid position, but the switch mode's 90 degree arc starting at
			// 90 degrees only spans raw 8192..16384.
			c.HapticModes[1].Indents[1].Position = 20000
		}, "outside the knob arc"},
		{"knob index", func(c *Config) { c.Knobs[0].Index = 21 }, "knob index"},
		{"unknown knob mode", func(c *Config) { c.Knobs[0].Mode = "missing" }, "unknown mode"},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)
		cfg.Normalize()

		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestBuildModes(t *testing.T) {
	cfg := validConfig()
	modes := cfg.BuildModes()

	pan, ok := modes["pan"]
	if !ok {
		t.Fatal("mode pan missing")
	}
	if pan.StartDegrees >= 0 {
		t.Fatal("unset start should stay negative (centered)")
	}

	sw := modes["switch"]
	if sw.StartDegrees != 90 {
		t.Fatalf("start = %v", sw.StartDegrees)
	}
	if len(sw.IndentPositions()) != 2 {
		t.Fatalf("indents = %v", sw.IndentPositions())
	}
}
