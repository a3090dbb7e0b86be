// Package surface is the public driver for the control surface: one panel
// controller and up to 21 motorized haptic knobs sharing a single I2C bus.
// Callers go through Surface; bring-up, addressing and calibration are
// handled internally.
package surface

import (
	"errors"
	"fmt"
	"sync"

	"github.com/halcyonaudio/sfc/fwproto"
	"github.com/halcyonaudio/sfc/haptic"
	"github.com/halcyonaudio/sfc/motorctrl"
	"github.com/halcyonaudio/sfc/panelctrl"
	"github.com/halcyonaudio/sfc/sfcbus"
)

// MaxMotors is the number of motor controllers a surface can carry.
const MaxMotors = motorctrl.MaxMotors

// NumSwitches is the number of panel switches.
const NumSwitches = panelctrl.NumSwitches

// ErrKnobInactive is returned for operations on a knob that never finished
// calibration. A knob that was never found and one that permanently failed
// calibration are reported the same way.
var ErrKnobInactive = errors.New("knob is not active")

// MotorStatus tracks one motor through bring-up. It is owned by the
// orchestrator and frozen once Active is set.
type MotorStatus struct {
	Present bool
	Started bool

	EncoderRequested  bool
	EncoderAcked      bool
	EncoderCalibrated bool
	EncoderRetries    int

	DatumRequested bool
	DatumFound     bool

	Active bool
}

// Surface is the driver facade. Methods that touch the bus serialize on the
// bus lock; the bring-up status readers serialize on an internal mutex held
// across Init and Reinit. All methods are safe to call from multiple
// goroutines.
type Surface struct {
	mu sync.Mutex

	bus  *sfcbus.Bus
	logf sfcbus.LogFunc

	timing   Timing
	revision panelctrl.Revision

	panel  *panelctrl.Panel
	motors [MaxMotors]*motorctrl.Motor

	status    [MaxMotors]MotorStatus
	numFound  int
	panelInfo fwproto.Info
	motorInfo [MaxMotors]fwproto.Info

	modes        map[string]*haptic.Mode
	defaultModes [MaxMotors]string
}

// New builds a surface driver on an already opened bus. The configuration
// supplies the hardware revision, the named haptic modes and the per-knob
// defaults; it must have passed Validate.
func New(bus *sfcbus.Bus, cfg *Config, logf sfcbus.LogFunc) (*Surface, error) {
	s := &Surface{
		bus:      bus,
		logf:     logf,
		timing:   DefaultTiming(),
		revision: cfg.revision(),
		panel:    panelctrl.New(bus, logf),
		modes:    cfg.BuildModes(),
	}

	for i := range s.motors {
		m, err := motorctrl.New(bus, i, logf)
		if err != nil {
			return nil, err
		}
		s.motors[i] = m
	}

	for _, k := range cfg.Knobs {
		s.defaultModes[k.Index] = k.Mode
	}

	return s, nil
}

func (s *Surface) log(format string, params ...interface{}) {
	if s.logf != nil {
		s.logf(format, params...)
	}
}

// SetTiming overrides the bring-up retry and poll budgets. Must be called
// before Init.
func (s *Surface) SetTiming(t Timing) {
	s.timing = t
}

// Init runs discovery and calibration and prepares the surface for normal
// operation. It blocks until every motor is either active or has exhausted
// its retry budgets.
func (s *Surface) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bus.Lock()
	err := s.bringUp()
	s.bus.Unlock()
	if err != nil {
		return err
	}

	s.log("surface up: %d motors found, %d active", s.numFound, s.numActive())

	return s.applyDefaults()
}

// Reinit re-runs discovery and calibration without reopening the bus. Used
// after a suspected hardware fault.
func (s *Surface) Reinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bus.Lock()
	for i := range s.status {
		s.status[i] = MotorStatus{}
	}
	s.numFound = 0
	err := s.bringUp()
	s.bus.Unlock()
	if err != nil {
		return err
	}

	s.log("surface reinitialized: %d motors found, %d active", s.numFound, s.numActive())

	return s.applyDefaults()
}

// applyDefaults pushes the configured wheel scale and per-knob default
// haptic modes. Individual failures are logged and skipped so one bad knob
// does not take the surface down.
func (s *Surface) applyDefaults() error {
	s.bus.Lock()
	defer s.bus.Unlock()

	if err := s.panel.ApplyWheelScale(s.revision); err != nil {
		s.log("wheel scale configuration failed: %v", err)
	}

	for i, name := range s.defaultModes {
		if name == "" || !s.status[i].Active {
			continue
		}
		if err := s.motors[i].SetHapticMode(s.modes[name]); err != nil {
			s.log("default haptic mode %q on knob %d failed: %v", name, i, err)
		}
	}

	return nil
}

// Deinit disables haptics on every active motor and closes the bus.
func (s *Surface) Deinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bus.Lock()
	off := &haptic.Mode{WidthDegrees: 360}
	for i, m := range s.motors {
		if !s.status[i].Active {
			continue
		}
		if err := m.SetHapticMode(off); err != nil {
			s.log("disabling haptics on knob %d failed: %v", i, err)
		}
	}
	s.bus.Unlock()

	return s.bus.Close()
}

// Lock begins a critical section for callers issuing multiple related
// transactions through the Panel and Motor accessors. Surface methods take
// the lock themselves and must not be called while holding it.
func (s *Surface) Lock() {
	s.bus.Lock()
}

func (s *Surface) Unlock() {
	s.bus.Unlock()
}

// Panel exposes the panel driver for use inside a Lock/Unlock section.
func (s *Surface) Panel() *panelctrl.Panel {
	return s.panel
}

// Motor exposes a motor driver for use inside a Lock/Unlock section.
func (s *Surface) Motor(index int) *motorctrl.Motor {
	if index < 0 || index >= MaxMotors {
		return nil
	}
	return s.motors[index]
}

// KnobIsActive reports whether a knob finished calibration and participates
// in knob operations.
func (s *Surface) KnobIsActive(index int) bool {
	if index < 0 || index >= MaxMotors {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status[index].Active
}

// RequestKnobStates asks every active motor to latch a fresh state snapshot.
// Collect the results with ReadKnobStates once the motors had time to
// respond; the two-phase shape tolerates busy motors without stalling the
// surface.
func (s *Surface) RequestKnobStates() error {
	s.bus.Lock()
	defer s.bus.Unlock()

	var firstErr error
	for i, m := range s.motors {
		if !s.status[i].Active {
			continue
		}
		if err := m.RequestKnobState(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadKnobStates collects the snapshots latched by RequestKnobStates.
// Inactive knobs are left zeroed.
func (s *Surface) ReadKnobStates(out []motorctrl.KnobState) error {
	if len(out) < MaxMotors {
		return fmt.Errorf("knob state buffer too small: %d", len(out))
	}

	s.bus.Lock()
	defer s.bus.Unlock()

	var firstErr error
	for i, m := range s.motors {
		if !s.status[i].Active {
			out[i] = motorctrl.KnobState{}
			continue
		}

		state, err := m.ReadKnobState()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[i] = state
	}
	return firstErr
}

// ReadSwitchStates reads the current state of every panel switch.
func (s *Surface) ReadSwitchStates(out []bool) error {
	s.bus.Lock()
	defer s.bus.Unlock()

	return s.panel.ReadSwitchStates(out)
}

// SetSwitchLEDState updates the cached LED bitmap. CommitLEDStates pushes
// the cache to the hardware.
func (s *Surface) SetSwitchLEDState(index int, on bool) error {
	s.bus.Lock()
	defer s.bus.Unlock()

	return s.panel.SetLEDState(index, on)
}

// SetAllSwitchLEDStates sets every LED in the cache.
func (s *Surface) SetAllSwitchLEDStates(on bool) {
	s.bus.Lock()
	defer s.bus.Unlock()

	s.panel.SetAllLEDStates(on)
}

// CommitLEDStates writes the LED cache to the panel in one transaction.
func (s *Surface) CommitLEDStates() error {
	s.bus.Lock()
	defer s.bus.Unlock()

	return s.panel.CommitLEDStates()
}

// SetWheelLatch opens or closes a wheel calibration latch.
func (s *Surface) SetWheelLatch(w panelctrl.Wheel, latched bool) error {
	s.bus.Lock()
	defer s.bus.Unlock()

	return s.panel.SetWheelLatch(w, latched)
}

// SetKnobHapticMode applies a named haptic mode to a knob.
func (s *Surface) SetKnobHapticMode(index int, name string) error {
	if !s.KnobIsActive(index) {
		return fmt.Errorf("%w: %d", ErrKnobInactive, index)
	}

	mode, ok := s.modes[name]
	if !ok {
		return fmt.Errorf("unknown haptic mode %q", name)
	}

	s.bus.Lock()
	defer s.bus.Unlock()

	return s.motors[index].SetHapticMode(mode)
}

// Mode looks up a named haptic mode, for value mapping at the caller.
func (s *Surface) Mode(name string) (*haptic.Mode, bool) {
	m, ok := s.modes[name]
	return m, ok
}

// SetKnobPosition moves a knob to a raw position. Robust mode confirms the
// write by readback and is meant for resets to a known value.
func (s *Surface) SetKnobPosition(index int, position uint16, robust bool) error {
	if !s.KnobIsActive(index) {
		return fmt.Errorf("%w: %d", ErrKnobInactive, index)
	}

	s.bus.Lock()
	defer s.bus.Unlock()

	return s.motors[index].SetPosition(position, robust)
}

// MotorStatusSnapshot returns a copy of the bring-up state of one motor.
func (s *Surface) MotorStatusSnapshot(index int) MotorStatus {
	if index < 0 || index >= MaxMotors {
		return MotorStatus{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status[index]
}

func (s *Surface) numActive() int {
	n := 0
	for i := range s.status {
		if s.status[i].Active {
			n++
		}
	}
	return n
}

// Summary describes the surface for diagnostics.
type Summary struct {
	PanelFirmware string        `json:"panel_firmware"`
	MotorsFound   int           `json:"motors_found"`
	MotorsActive  int           `json:"motors_active"`
	Knobs         []KnobSummary `json:"knobs"`
}

type KnobSummary struct {
	Index    int    `json:"index"`
	Active   bool   `json:"active"`
	Firmware string `json:"firmware,omitempty"`
}

// Summarize reports the bring-up outcome.
func (s *Surface) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		PanelFirmware: s.panelInfo.String(),
		MotorsFound:   s.numFound,
		MotorsActive:  s.numActive(),
	}

	for i := 0; i < s.numFound; i++ {
		ks := KnobSummary{
			Index:  i,
			Active: s.status[i].Active,
		}
		if s.status[i].Started {
			ks.Firmware = s.motorInfo[i].String()
		}
		sum.Knobs = append(sum.Knobs, ks)
	}

	return sum
}
