package surface

import (
	"errors"
	"testing"

	"github.com/halcyonaudio/sfc/fwproto"
	"github.com/halcyonaudio/sfc/motorctrl"
	"github.com/halcyonaudio/sfc/sfcbus"
)

// fakeMotor models one motor controller on the simulated bus.
type fakeMotor struct {
	// silent makes the motor ignore everything on the default address, as
	// if it were not fitted.
	silent bool

	// calStatus is what the motor reports after an encoder calibration
	// request. StatusOK means success.
	calStatus byte

	// datumPolls is how many status polls return "still searching" before
	// the datum is found.
	datumPolls int

	assigned bool
	addr     uint16
}

// fakeBus simulates the panel and the motor chain at the wire level: motors
// appear one at a time on the default address and move to their working
// address when configured.
type fakeBus struct {
	motors []*fakeMotor

	panelPresent   bool
	panelAtDefault bool

	nextDefault int
	lastReg     map[uint16]byte
	pending     map[uint16][]byte

	writeCount int
}

func newFakeBus(motors ...*fakeMotor) *fakeBus {
	return &fakeBus{
		motors:       motors,
		panelPresent: true,
		lastReg:      map[uint16]byte{},
		pending:      map[uint16][]byte{},
	}
}

func firmwareBlob(tag string) []byte {
	blob := make([]byte, 16)
	blob[0] = 1
	copy(blob[8:], tag)
	return blob
}

func (f *fakeBus) motorAt(addr uint16) *fakeMotor {
	for _, m := range f.motors {
		if m.assigned && m.addr == addr {
			return m
		}
	}
	return nil
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 {
		return f.handleWrite(addr, w)
	}
	return f.handleRead(addr, r)
}

func (f *fakeBus) handleWrite(addr uint16, w []byte) error {
	f.writeCount++
	f.lastReg[addr] = w[0]

	switch {
	case addr == fwproto.DefaultAddress:
		if f.panelAtDefault && !f.panelPresent {
			if w[0] == fwproto.RegSetAddress {
				f.panelPresent = true
			}
			return nil
		}

		if f.nextDefault >= len(f.motors) {
			return sfcbus.ErrDeviceAbsent
		}
		m := f.motors[f.nextDefault]
		if m.silent {
			return sfcbus.ErrDeviceAbsent
		}

		if w[0] == fwproto.RegSetAddress {
			m.assigned = true
			m.addr = uint16(w[1] &^ fwproto.AddrLoopMarker)
			f.nextDefault++
		}
		return nil

	case addr == fwproto.PanelAddress:
		if !f.panelPresent {
			return sfcbus.ErrDeviceAbsent
		}
		if w[0] == fwproto.RegFirmwareInfo {
			f.pending[addr] = firmwareBlob("PNLCTL")
		}
		return nil

	default:
		m := f.motorAt(addr)
		if m == nil {
			return sfcbus.ErrDeviceAbsent
		}
		if w[0] == fwproto.RegFirmwareInfo {
			f.pending[addr] = firmwareBlob("MTRCTL")
		}
		return nil
	}
}

func (f *fakeBus) handleRead(addr uint16, r []byte) error {
	if buf := f.pending[addr]; len(buf) > 0 {
		n := copy(r, buf)
		f.pending[addr] = buf[n:]
		return nil
	}

	reg := f.lastReg[addr]

	if addr == fwproto.DefaultAddress {
		r[0] = motorctrl.StatusOK
		return nil
	}

	if m := f.motorAt(addr); m != nil {
		switch reg {
		case 0x11: // encoder calibration status
			r[0] = m.calStatus
			return nil
		case 0x13: // datum status
			if m.datumPolls > 0 {
				m.datumPolls--
				r[0] = 0x00
			} else {
				r[0] = motorctrl.StatusOK
			}
			return nil
		}
	}

	// Everything else echoes the register id, which is what the robust
	// write readback expects.
	r[0] = reg
	return nil
}

func (f *fakeBus) Close() error { return nil }

func testConfig() *Config {
	return &Config{
		Bus:      "platform:/dev/i2c-1",
		Revision: "a",
		HapticModes: []ModeConfig{
			{Name: "pan", WidthDegrees: 270, Friction: 0.5},
			{Name: "free", WidthDegrees: 360},
		},
	}
}

func testTiming() Timing {
	return Timing{
		RequestStagger:     0,
		PollInterval:       0,
		PollBudget:         5,
		OuterRetries:       3,
		EncoderRetryBudget: 5,
	}
}

func newTestSurface(t *testing.T, f *fakeBus) *Surface {
	t.Helper()

	s, err := New(sfcbus.New(f, nil), testConfig(), nil)
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	s.SetTiming(testTiming())
	return s
}

func okMotor() *fakeMotor {
	return &fakeMotor{calStatus: motorctrl.StatusOK}
}

func TestBringUpThreeMotors(t *testing.T) {
	f := newFakeBus(okMotor(), okMotor(), okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	sum := s.Summarize()
	if sum.MotorsFound != 3 || sum.MotorsActive != 3 {
		t.Fatalf("found=%d active=%d, want 3/3", sum.MotorsFound, sum.MotorsActive)
	}

	for i := 0; i < 3; i++ {
		if !s.KnobIsActive(i) {
			t.Fatalf("knob %d should be active", i)
		}
	}
	if s.KnobIsActive(3) {
		t.Fatal("knob 3 should not be active")
	}
}

func TestBringUpDatumTakesAWhile(t *testing.T) {
	slow := okMotor()
	slow.datumPolls = 3

	f := newFakeBus(okMotor(), slow)
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}
	if !s.KnobIsActive(1) {
		t.Fatal("slow motor should still become active")
	}
}

func TestSilentMotorStopsDiscovery(t *testing.T) {
	f := newFakeBus(okMotor(), &fakeMotor{silent: true}, okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	sum := s.Summarize()
	if sum.MotorsFound != 1 {
		t.Fatalf("found=%d, want 1: motors are addressed sequentially", sum.MotorsFound)
	}
	if !s.KnobIsActive(0) || s.KnobIsActive(1) {
		t.Fatal("only motor 0 should be active")
	}
}

func TestEncoderFailureExcludesMotor(t *testing.T) {
	bad := &fakeMotor{calStatus: 0x7f} // never reports OK
	f := newFakeBus(okMotor(), bad, okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	if s.KnobIsActive(1) {
		t.Fatal("motor with failing encoder calibration must stay inactive")
	}
	if !s.KnobIsActive(0) || !s.KnobIsActive(2) {
		t.Fatal("other motors must proceed independently")
	}

	st := s.MotorStatusSnapshot(1)
	if st.EncoderCalibrated || st.DatumRequested {
		t.Fatalf("failed motor reached datum finding: %+v", st)
	}
	if st.EncoderRetries < testTiming().EncoderRetryBudget {
		t.Fatalf("retry budget not exhausted: %d", st.EncoderRetries)
	}
}

func TestPanelNeedsAddressing(t *testing.T) {
	f := newFakeBus(okMotor())
	f.panelPresent = false
	f.panelAtDefault = true

	s := newTestSurface(t, f)
	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}
	if !s.KnobIsActive(0) {
		t.Fatal("motor should be active after panel addressing step")
	}
}

func TestPanelUnreachableIsFatal(t *testing.T) {
	f := newFakeBus(okMotor())
	f.panelPresent = false

	s := newTestSurface(t, f)
	if err := s.Init(); err == nil {
		t.Fatal("expected bring-up to fail without a panel")
	}
}

func TestReinit(t *testing.T) {
	f := newFakeBus(okMotor(), okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	// The chain starts over from the default address on reinit.
	f.nextDefault = 0
	for _, m := range f.motors {
		m.assigned = false
	}

	if err := s.Reinit(); err != nil {
		t.Fatalf("Reinit err=%v", err)
	}
	if s.Summarize().MotorsActive != 2 {
		t.Fatal("motors should be active again after reinit")
	}
}

func TestStatusReadsDuringReinit(t *testing.T) {
	f := newFakeBus(okMotor(), okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	f.nextDefault = 0
	for _, m := range f.motors {
		m.assigned = false
	}

	// Status readers must stay safe while a reinit rewrites the bring-up
	// state. Run under the race detector this catches unguarded access.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.Summarize()
			s.KnobIsActive(0)
			s.MotorStatusSnapshot(1)
		}
	}()

	if err := s.Reinit(); err != nil {
		t.Fatalf("Reinit err=%v", err)
	}
	<-done

	if s.Summarize().MotorsActive != 2 {
		t.Fatal("motors should be active again after reinit")
	}
}

func TestSetKnobHapticModeCachesByName(t *testing.T) {
	f := newFakeBus(okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	if err := s.SetKnobHapticMode(0, "pan"); err != nil {
		t.Fatalf("SetKnobHapticMode err=%v", err)
	}

	before := f.writeCount
	if err := s.SetKnobHapticMode(0, "pan"); err != nil {
		t.Fatalf("SetKnobHapticMode err=%v", err)
	}
	if f.writeCount != before {
		t.Fatalf("repeated mode performed %d bus writes", f.writeCount-before)
	}
}

func TestInactiveKnobOperationsFail(t *testing.T) {
	f := newFakeBus(okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	if err := s.SetKnobPosition(5, 1000, false); !errors.Is(err, ErrKnobInactive) {
		t.Fatalf("expected ErrKnobInactive, got %v", err)
	}
	if err := s.SetKnobHapticMode(5, "pan"); !errors.Is(err, ErrKnobInactive) {
		t.Fatalf("expected ErrKnobInactive, got %v", err)
	}
}

func TestKnobStateRoundTrip(t *testing.T) {
	f := newFakeBus(okMotor())
	s := newTestSurface(t, f)

	if err := s.Init(); err != nil {
		t.Fatalf("Init err=%v", err)
	}

	if err := s.RequestKnobStates(); err != nil {
		t.Fatalf("RequestKnobStates err=%v", err)
	}

	var out [MaxMotors]motorctrl.KnobState
	if err := s.ReadKnobStates(out[:]); err != nil {
		t.Fatalf("ReadKnobStates err=%v", err)
	}
}
