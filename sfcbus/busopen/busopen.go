// Package busopen opens the concrete transport behind a surface bus. The
// production path is a platform I2C controller accessed through periph.io;
// the usb path drives a board on the bench through an MCP2221A bridge.
package busopen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/halcyonaudio/sfc/sfcbus"

	"github.com/ardnew/mcp2221a"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

type platformTxer struct {
	bus i2c.BusCloser
}

func (p *platformTxer) Tx(addr uint16, w, r []byte) error {
	err := p.bus.Tx(addr, w, r)
	if err != nil {
		msg := err.Error()
		// The kernel reports an absent or hung controller in several ways
		// depending on the adapter driver.
		if strings.Contains(msg, "timed out") ||
			strings.Contains(msg, "no such device") ||
			strings.Contains(msg, "remote I/O error") {
			return fmt.Errorf("%w: %v", sfcbus.ErrDeviceAbsent, err)
		}
	}
	return err
}

func (p *platformTxer) Close() error {
	return p.bus.Close()
}

// OpenPlatform opens a platform I2C controller, e.g. "/dev/i2c-1".
func OpenPlatform(busID string) (sfcbus.Txer, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %v", err)
	}

	bus, err := i2creg.Open(busID)
	if err != nil {
		return nil, fmt.Errorf("could not open bus: %v", err)
	}

	return &platformTxer{bus: bus}, nil
}

type usbTxer struct {
	dev *mcp2221a.MCP2221A
}

func (u *usbTxer) Tx(addr uint16, w, r []byte) error {
	fix := func(err error) error {
		if strings.Contains(err.Error(), "NACK") ||
			strings.Contains(err.Error(), "time") {
			return fmt.Errorf("%w: %v", sfcbus.ErrDeviceAbsent, err)
		}
		return err
	}

	if len(w) > 0 {
		if err := u.dev.I2C.Write(true, uint8(addr), w, uint16(len(w))); err != nil {
			return fix(err)
		}
	}

	if len(r) > 0 {
		data, err := u.dev.I2C.Read(false, uint8(addr), uint16(len(r)))
		if err != nil {
			return fix(err)
		}
		if copy(r, data) < len(r) {
			return sfcbus.ErrShortTransfer
		}
	}

	return nil
}

func (u *usbTxer) Close() error {
	return u.dev.Close()
}

// OpenUSB opens the first attached MCP2221A bridge.
func OpenUSB(busSpeed uint32) (sfcbus.Txer, error) {
	dev, err := mcp2221a.New(0, mcp2221a.VID, mcp2221a.PID)
	if err != nil {
		return nil, fmt.Errorf("no usb bridge found: %v", err)
	}

	if busSpeed == 0 {
		busSpeed = 400000
	}
	if err := dev.I2C.SetConfig(busSpeed); err != nil {
		dev.Close()
		return nil, err
	}

	return &usbTxer{dev: dev}, nil
}

// Open parses a bus path of the form "platform:/dev/i2c-1" or "usb" and
// returns the matching transport.
func Open(path string) (sfcbus.Txer, error) {
	parts := strings.SplitN(path, ":", 2)

	switch parts[0] {
	case "platform":
		busID := "/dev/i2c-1"
		if len(parts) > 1 {
			busID = parts[1]
		}
		return OpenPlatform(busID)

	case "usb":
		return OpenUSB(0)
	}

	return nil, errors.New("bus type not supported, use 'platform' or 'usb'")
}
