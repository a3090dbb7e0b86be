package fwproto

import (
	"bytes"
	"testing"

	"github.com/halcyonaudio/sfc/sfcbus"
)

type fakeTx struct {
	writes   [][]byte
	reads    int
	readData []byte
}

func (f *fakeTx) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 {
		cp := make([]byte, len(w))
		copy(cp, w)
		f.writes = append(f.writes, cp)
		return nil
	}

	f.reads++
	n := copy(r, f.readData)
	f.readData = f.readData[n:]
	return nil
}

func (f *fakeTx) Close() error { return nil }

func TestSetDeviceAddressCarriesLoopMarker(t *testing.T) {
	f := &fakeTx{}
	bus := sfcbus.New(f, nil)

	if err := SetDeviceAddress(bus, DefaultAddress, MotorBaseAddress+3); err != nil {
		t.Fatalf("SetDeviceAddress err=%v", err)
	}

	want := []byte{RegSetAddress, byte(MotorBaseAddress+3) | AddrLoopMarker}
	if !bytes.Equal(f.writes[0], want) {
		t.Fatalf("packet = %x, want %x", f.writes[0], want)
	}
}

func TestReadInfo(t *testing.T) {
	raw := append([]byte{1, 4, 2, 0, 0, 0, 0, 0}, []byte("MTRCTL\x00\x00")...)
	f := &fakeTx{readData: raw}
	bus := sfcbus.New(f, nil)

	info, err := ReadInfo(bus, PanelAddress)
	if err != nil {
		t.Fatalf("ReadInfo err=%v", err)
	}

	if info.Tag != "MTRCTL" {
		t.Fatalf("tag = %q", info.Tag)
	}
	if info.Version[0] != 1 || info.Version[1] != 4 || info.Version[2] != 2 {
		t.Fatalf("version = %v", info.Version)
	}
	if got := info.String(); got != "MTRCTL 1.4.2" {
		t.Fatalf("String() = %q", got)
	}

	// The 16 byte block is fetched in two packetized reads.
	if f.reads != 2 {
		t.Fatalf("expected 2 chunked reads, got %d", f.reads)
	}
}
