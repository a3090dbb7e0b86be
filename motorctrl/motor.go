// Package motorctrl drives one motorized haptic knob: bring-up, encoder
// calibration, datum finding, haptic mode configuration and position I/O.
package motorctrl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/halcyonaudio/sfc/fwproto"
	"github.com/halcyonaudio/sfc/haptic"
	"github.com/halcyonaudio/sfc/sfcbus"
)

// Register numbers are fixed by the motor firmware.
const (
	regStatus        = 0x02
	regReboot        = 0x03
	regStartFirmware = 0x05
	regEncoderCal    = 0x10
	regEncoderStatus = 0x11
	regFindDatum     = 0x12
	regDatumStatus   = 0x13
	regKnobState     = 0x14
	regSetPosition   = 0x15
	regHapticConfig  = 0x16
	regHapticOnOff   = 0x17
)

// StatusOK is the byte a motor reports when the queried operation finished
// successfully.
const StatusOK = 0x01

// MaxMotors is the number of motor controllers a surface can carry.
const MaxMotors = 21

// ErrOutOfRange flags a knob state read that decoded to an impossible
// position, which means the read lost sync with the controller.
var ErrOutOfRange = errors.New("position out of range")

// KnobState is one refreshed snapshot of a knob.
type KnobState struct {
	Position uint16
	Moving   bool
	Tap      bool
}

const (
	flagMoving = 1 << 0
	flagTap    = 1 << 1
)

// Motor is the driver for one motor controller.
type Motor struct {
	bus  *sfcbus.Bus
	idx  int
	addr uint16
	logf sfcbus.LogFunc

	lastModeName string
	hapticsOn    bool
}

func New(bus *sfcbus.Bus, index int, logf sfcbus.LogFunc) (*Motor, error) {
	if index < 0 || index >= MaxMotors {
		return nil, fmt.Errorf("motor index out of range: %d", index)
	}

	return &Motor{
		bus:  bus,
		idx:  index,
		addr: fwproto.MotorBaseAddress + uint16(index),
		logf: logf,
	}, nil
}

func (m *Motor) log(format string, params ...interface{}) {
	if m.logf != nil {
		m.logf("motor %d: "+format, append([]interface{}{m.idx}, params...)...)
	}
}

// Index returns the motor's position in the chain.
func (m *Motor) Index() int {
	return m.idx
}

// Address returns the motor's configured bus address.
func (m *Motor) Address() uint16 {
	return m.addr
}

func (m *Motor) readStatusByte(addr uint16, reg byte) (byte, error) {
	if err := m.bus.Write(addr, []byte{reg}, 0); err != nil {
		return 0, err
	}

	var b [1]byte
	if err := m.bus.Read(addr, b[:], 0); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ProbeDefault reads the status byte of a motor still listening on the
// factory address. Used during discovery, before the motor has an address
// of its own.
func (m *Motor) ProbeDefault() (byte, error) {
	return m.readStatusByte(fwproto.DefaultAddress, regStatus)
}

// RebootDefault returns a motor on the factory address to a clean bootloader
// state.
func (m *Motor) RebootDefault() error {
	return m.bus.RobustWrite(fwproto.DefaultAddress, []byte{regReboot, 0x01}, 0)
}

// ConfigureAddress moves the motor from the factory address onto its target
// address, mirroring the panel's addressing step. Only used during bring-up.
func (m *Motor) ConfigureAddress() error {
	return fwproto.SetDeviceAddress(m.bus, fwproto.DefaultAddress, m.addr)
}

// Probe reads the status byte at the motor's configured address.
func (m *Motor) Probe() (byte, error) {
	return m.readStatusByte(m.addr, regStatus)
}

// FirmwareInfo queries the resident firmware version.
func (m *Motor) FirmwareInfo() (fwproto.Info, error) {
	return fwproto.ReadInfo(m.bus, m.addr)
}

// Start leaves the bootloader. Harmless if the firmware is already running.
func (m *Motor) Start() error {
	return fwproto.StartFirmware(m.bus, m.addr, regStartFirmware)
}

// RequestEncoderCalibration kicks off the encoder parameter calibration.
// Calibration takes longer than a bus timeout, so no readback is performed;
// the result is collected separately by EncoderCalibrationStatus.
func (m *Motor) RequestEncoderCalibration() error {
	return m.bus.Write(m.addr, []byte{regEncoderCal}, 0)
}

// EncoderCalibrationStatus polls the calibration result. It returns true
// once the motor reports its encoder parameters are OK, and false with the
// observed status byte otherwise.
func (m *Motor) EncoderCalibrationStatus() (bool, byte, error) {
	status, err := m.readStatusByte(m.addr, regEncoderStatus)
	if err != nil {
		return false, 0, err
	}
	return status == StatusOK, status, nil
}

// RequestFindDatum asks the motor to search for its reference position.
// Two-phase like encoder calibration.
func (m *Motor) RequestFindDatum() error {
	return m.bus.Write(m.addr, []byte{regFindDatum}, 0)
}

// DatumStatus polls the datum search. Anything other than StatusOK means
// the motor is still searching, not that something failed.
func (m *Motor) DatumStatus() (bool, error) {
	status, err := m.readStatusByte(m.addr, regDatumStatus)
	if err != nil {
		return false, err
	}
	return status == StatusOK, nil
}

// SetHapticMode applies a haptic configuration to the motor. Reapplying the
// mode that is already active is a no-op so repeated UI updates cost no bus
// traffic. A failed write leaves the cached mode name unchanged so the next
// attempt is not skipped.
func (m *Motor) SetHapticMode(mode *haptic.Mode) error {
	if mode.Name != "" && mode.Name == m.lastModeName {
		return nil
	}

	if !mode.HapticsEnabled() {
		if err := m.hapticEnable(false); err != nil {
			return err
		}
		m.lastModeName = mode.Name
		return nil
	}

	packet := encodeHapticConfig(mode)
	if err := m.bus.RobustWriteVerify(m.addr, packet, 0, regHapticConfig); err != nil {
		return err
	}

	if !m.hapticsOn {
		if err := m.hapticEnable(true); err != nil {
			return err
		}
	}

	m.lastModeName = mode.Name
	return nil
}

func (m *Motor) hapticEnable(on bool) error {
	val := byte(0)
	if on {
		val = 1
	}

	if err := m.bus.RobustWriteVerify(m.addr, []byte{regHapticOnOff, val}, 0, regHapticOnOff); err != nil {
		return err
	}

	m.hapticsOn = on
	return nil
}

// encodeHapticConfig packs a mode into the configuration packet:
// register, friction, detent count, detent strength, 16 bit start and width,
// then up to 32 enabled indent positions, all little-endian.
func encodeHapticConfig(mode *haptic.Mode) []byte {
	start, width := mode.Arc()

	packet := make([]byte, 8, 8+2*haptic.MaxIndents)
	packet[0] = regHapticConfig
	packet[1] = scaleByte(mode.Friction)
	packet[2] = byte(mode.NumDetents)
	packet[3] = scaleByte(mode.DetentStrength)
	binary.LittleEndian.PutUint16(packet[4:6], haptic.DegreesToRaw(start))
	binary.LittleEndian.PutUint16(packet[6:8], haptic.DegreesToRaw(width))

	for _, pos := range mode.IndentPositions() {
		var ind [2]byte
		binary.LittleEndian.PutUint16(ind[:], pos)
		packet = append(packet, ind[:]...)
	}

	return packet
}

func scaleByte(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return byte(v*255 + 0.5)
}

// SetPosition commands the motor to move to a raw position. Robust mode
// verifies the target's low byte by readback and is meant for resets to a
// known value; high-frequency motion updates skip it because an occasional
// dropped write is acceptable there.
func (m *Motor) SetPosition(position uint16, robust bool) error {
	if position > haptic.MaxPosition {
		return fmt.Errorf("%w: %d", ErrOutOfRange, position)
	}

	var packet [3]byte
	packet[0] = regSetPosition
	binary.LittleEndian.PutUint16(packet[1:], position)

	if robust {
		return m.bus.RobustWriteVerify(m.addr, packet[:], 0, packet[1])
	}
	return m.bus.Write(m.addr, packet[:], 0)
}

// RequestKnobState asks the motor to latch a fresh position/flags snapshot.
// The result is collected later by ReadKnobState so a busy motor does not
// stall the whole surface.
func (m *Motor) RequestKnobState() error {
	return m.bus.Write(m.addr, []byte{regKnobState}, 0)
}

// ReadKnobState reads the previously requested snapshot: two 16 bit words,
// position then flags. A position above the hardware maximum means the read
// desynchronized and is reported as an I/O error.
func (m *Motor) ReadKnobState() (KnobState, error) {
	var raw [4]byte
	if err := m.bus.Read(m.addr, raw[:], 0); err != nil {
		return KnobState{}, err
	}

	pos := binary.LittleEndian.Uint16(raw[0:2])
	flags := binary.LittleEndian.Uint16(raw[2:4])

	if pos > haptic.MaxPosition {
		m.log("discarding desynchronized knob state 0x%04x", pos)
		return KnobState{}, fmt.Errorf("%w: %d", ErrOutOfRange, pos)
	}

	return KnobState{
		Position: pos,
		Moving:   flags&flagMoving != 0,
		Tap:      flags&flagTap != 0,
	}, nil
}
