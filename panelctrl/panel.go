// Package panelctrl drives the panel controller: the switch matrix, the
// switch LEDs and the pitch/mod wheel calibration latches.
package panelctrl

import (
	"fmt"

	"github.com/halcyonaudio/sfc/fwproto"
	"github.com/halcyonaudio/sfc/sfcbus"
)

// Register numbers are fixed by the panel firmware.
const (
	regStartFirmware = 0x06
	regSwitchStates  = 0x10
	regLEDStates     = 0x11
	regPitchLatch    = 0x12
	regModLatch      = 0x13
	regWheelScale    = 0x14
)

const (
	// NumSwitches is the number of physical switches on the panel.
	NumSwitches = 45

	stateBytes = 6
)

// Wheel selects one of the panel's performance wheels.
type Wheel int

const (
	PitchWheel Wheel = iota
	ModWheel
)

// Revision identifies the panel hardware revision. The wheel ADC range
// changed between revisions, so the scale command carries a different
// argument and the readings use a different normalization factor.
type Revision int

const (
	RevA Revision = iota
	RevB
)

func (r Revision) wheelScale() (arg byte, factor float64) {
	switch r {
	case RevB:
		return 0x02, 1.0 / 4095.0
	default:
		return 0x01, 1.0 / 1023.0
	}
}

// WheelScaleFactor returns the normalization factor for raw wheel readings
// on this revision.
func (r Revision) WheelScaleFactor() float64 {
	_, factor := r.wheelScale()
	return factor
}

// Panel is the driver for the panel controller. LED writes are cached and
// pushed to the hardware in one transaction by CommitLEDStates, so toggling
// many LEDs in response to one UI event costs a single bus round-trip.
type Panel struct {
	bus  *sfcbus.Bus
	addr uint16
	logf sfcbus.LogFunc

	leds  [stateBytes]byte
	dirty bool
}

func New(bus *sfcbus.Bus, logf sfcbus.LogFunc) *Panel {
	return &Panel{
		bus:  bus,
		addr: fwproto.PanelAddress,
		logf: logf,
	}
}

// Address returns the panel's bus address.
func (p *Panel) Address() uint16 {
	return p.addr
}

// Probe checks that the panel responds and returns its firmware info.
func (p *Panel) Probe() (fwproto.Info, error) {
	return fwproto.ReadInfo(p.bus, p.addr)
}

// ConfigureAddress runs the bootloader addressing step for a panel that is
// still listening on the default address. Needed on boards where the panel
// is daisy-chained without a preconfigured address.
func (p *Panel) ConfigureAddress() error {
	return fwproto.SetDeviceAddress(p.bus, fwproto.DefaultAddress, p.addr)
}

// Start leaves the bootloader. Harmless if the firmware is already running.
func (p *Panel) Start() error {
	return fwproto.StartFirmware(p.bus, p.addr, regStartFirmware)
}

// ReadSwitchStates reads the raw switch bitmap and unpacks it into out. The
// hardware transmits the most significant byte group first, so the raw bytes
// are reversed before unpacking bits low-to-high.
func (p *Panel) ReadSwitchStates(out []bool) error {
	if len(out) < NumSwitches {
		return fmt.Errorf("switch state buffer too small: %d", len(out))
	}

	if err := p.bus.Write(p.addr, []byte{regSwitchStates}, 0); err != nil {
		return err
	}

	var raw [stateBytes]byte
	if err := p.bus.Read(p.addr, raw[:], 0); err != nil {
		return err
	}

	reverseBytes(raw[:])

	for i := 0; i < NumSwitches; i++ {
		out[i] = raw[i/8]&(1<<(uint(i)%8)) != 0
	}

	return nil
}

// SetLEDState updates the cached LED bitmap. Nothing reaches the hardware
// until CommitLEDStates.
func (p *Panel) SetLEDState(index int, on bool) error {
	if index < 0 || index >= NumSwitches {
		return fmt.Errorf("led index out of range: %d", index)
	}

	mask := byte(1) << (uint(index) % 8)
	old := p.leds[index/8]

	if on {
		p.leds[index/8] = old | mask
	} else {
		p.leds[index/8] = old &^ mask
	}

	if p.leds[index/8] != old {
		p.dirty = true
	}
	return nil
}

// SetAllLEDStates sets every LED in the cache to the same state.
func (p *Panel) SetAllLEDStates(on bool) {
	fill := byte(0)
	if on {
		fill = 0xff
	}
	for i := range p.leds {
		if p.leds[i] != fill {
			p.leds[i] = fill
			p.dirty = true
		}
	}
}

// CommitLEDStates writes the cached bitmap to the LED register as one
// packet, byte-reversed the same way as switch reads. A clean cache commits
// nothing.
func (p *Panel) CommitLEDStates() error {
	if !p.dirty {
		return nil
	}

	var packet [1 + stateBytes]byte
	packet[0] = regLEDStates
	copy(packet[1:], p.leds[:])
	reverseBytes(packet[1:])

	if err := p.bus.Write(p.addr, packet[:], 0); err != nil {
		return err
	}

	p.dirty = false
	return nil
}

// SetWheelLatch opens or closes a wheel calibration latch.
func (p *Panel) SetWheelLatch(w Wheel, latched bool) error {
	reg := byte(regPitchLatch)
	if w == ModWheel {
		reg = regModLatch
	}

	val := byte(0)
	if latched {
		val = 1
	}

	return p.bus.RobustWriteVerify(p.addr, []byte{reg, val}, 0, reg)
}

// ApplyWheelScale configures the wheel ADC scale for the given hardware
// revision.
func (p *Panel) ApplyWheelScale(rev Revision) error {
	arg, _ := rev.wheelScale()
	return p.bus.RobustWriteVerify(p.addr, []byte{regWheelScale, arg}, 0, regWheelScale)
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
