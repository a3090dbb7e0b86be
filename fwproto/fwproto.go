// Package fwproto implements the bootloader register map shared by the panel
// and motor controllers: bus address configuration, firmware identification
// and the command that starts the resident firmware.
package fwproto

import (
	"fmt"
	"strings"

	"github.com/halcyonaudio/sfc/sfcbus"
)

// Register numbers are fixed by the controller firmware.
const (
	RegSetAddress   = 0x00
	RegFirmwareInfo = 0x01

	// AddrLoopMarker is set on the configured address to signal that the
	// controller should loop its clock line out to the next device in the
	// chain. The bootloader only accepts addressing commands carrying it.
	AddrLoopMarker = 0x80

	firmwareInfoLen = 16
)

// Bus addresses. Controllers come out of reset listening on DefaultAddress
// until the bring-up sequence assigns their working address.
const (
	DefaultAddress   uint16 = 0x30
	PanelAddress     uint16 = 0x20
	MotorBaseAddress uint16 = 0x40
)

// Info identifies the firmware resident on a controller.
type Info struct {
	Version [8]byte
	Tag     string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %d.%d.%d", i.Tag, i.Version[0], i.Version[1], i.Version[2])
}

// SetDeviceAddress tells the controller listening on current to adopt target
// as its bus address. No readback is performed: the bootloader switches
// address as a side effect, so the result is confirmed by probing the target
// address afterwards.
func SetDeviceAddress(bus *sfcbus.Bus, current, target uint16) error {
	return bus.RobustWrite(current, []byte{RegSetAddress, byte(target) | AddrLoopMarker}, 0)
}

// ReadInfo queries the firmware type and version: 8 version bytes followed by
// 8 ASCII tag bytes. It doubles as the presence probe during discovery.
func ReadInfo(bus *sfcbus.Bus, addr uint16) (Info, error) {
	var info Info

	if err := bus.Write(addr, []byte{RegFirmwareInfo}, 0); err != nil {
		return info, err
	}

	// The bootloader's transmit buffer holds 8 bytes, so the info block is
	// read packetized.
	var raw [firmwareInfoLen]byte
	if err := bus.Read(addr, raw[:], 8); err != nil {
		return info, err
	}

	copy(info.Version[:], raw[:8])
	info.Tag = strings.TrimRight(string(raw[8:]), "\x00 ")

	return info, nil
}

// StartFirmware leaves the bootloader and starts the resident firmware. The
// start register differs per controller type. Controllers that are already
// running ignore the command, so sending it twice is harmless.
func StartFirmware(bus *sfcbus.Bus, addr uint16, startReg byte) error {
	return bus.RobustWrite(addr, []byte{startReg, 0x01}, 0)
}
