package surface

import (
	"fmt"
	"time"
)

// Timing carries the bring-up retry and poll budgets. The defaults match the
// controller firmware; tests shrink the intervals.
type Timing struct {
	// RequestStagger spaces calibration requests so a burst of 21 requests
	// does not saturate the bus.
	RequestStagger time.Duration

	// PollInterval and PollBudget bound each status poll loop. A slow motor
	// and a hung motor are distinguished only by whether it answers before
	// the budget runs out.
	PollInterval time.Duration
	PollBudget   int

	// OuterRetries bounds the full encoder+datum recalibration cycles.
	OuterRetries int

	// EncoderRetryBudget bounds encoder calibration attempts per motor per
	// outer cycle.
	EncoderRetryBudget int
}

func DefaultTiming() Timing {
	return Timing{
		RequestStagger:     50 * time.Millisecond,
		PollInterval:       50 * time.Millisecond,
		PollBudget:         100,
		OuterRetries:       3,
		EncoderRetryBudget: 5,
	}
}

// bringUp drives every controller from an unknown bootloader state to
// calibrated and active. Must run with the bus lock held. A motor that never
// becomes active is excluded from knob operations but does not block the
// rest of the surface.
func (s *Surface) bringUp() error {
	if err := s.discoverPanel(); err != nil {
		return err
	}

	s.discoverMotors()
	s.startControllers()

	for cycle := 0; cycle < s.timing.OuterRetries; cycle++ {
		if cycle > 0 {
			s.log("recalibration cycle %d", cycle+1)
			s.resetCalibration()
		}

		s.calibrateEncoders()
		s.findDatum()

		if s.allActive() {
			return nil
		}
	}

	for i := 0; i < s.numFound; i++ {
		if !s.status[i].Active {
			s.log("motor %d permanently failed calibration", i)
		}
	}

	return nil
}

// discoverPanel probes the panel at its fixed address. REV B and later
// boards daisy-chain the panel controller with an unconfigured address, so
// one addressing pass is attempted before giving up. A panel that stays
// unreachable makes the motors inaccessible too, which is unrecoverable.
func (s *Surface) discoverPanel() error {
	info, err := s.panel.Probe()
	if err != nil {
		s.log("panel not responding (%v), running addressing step", err)

		if err := s.panel.ConfigureAddress(); err != nil {
			s.log("panel addressing failed: %v", err)
		}

		info, err = s.panel.Probe()
		if err != nil {
			s.log("CRITICAL: panel controller unreachable, surface disabled: %v", err)
			return fmt.Errorf("panel controller unreachable: %w", err)
		}
	}

	s.panelInfo = info
	s.log("panel firmware: %s", info)
	return nil
}

// discoverMotors walks the motor chain. Motors come up sequentially on the
// default address; configuring a motor's working address exposes the next
// one in the chain. The first failure therefore means no further physical
// motors exist, not that something broke.
func (s *Surface) discoverMotors() {
	for i := 0; i < MaxMotors; i++ {
		m := s.motors[i]

		if _, err := m.ProbeDefault(); err != nil {
			break
		}

		// A motor that answers on the default address may be mid-boot from
		// an earlier run. Reboot puts it back in a clean bootloader state.
		if err := m.RebootDefault(); err != nil {
			s.log("motor %d reboot failed: %v", i, err)
		}

		if err := m.ConfigureAddress(); err != nil {
			break
		}

		s.status[i].Present = true
		s.numFound++
	}

	s.log("discovered %d motors", s.numFound)
}

// startControllers starts the resident firmware on the panel and every
// discovered motor. Reading the firmware info afterwards doubles as the
// probe confirming the address configuration stuck.
func (s *Surface) startControllers() {
	if err := s.panel.Start(); err != nil {
		s.log("panel start failed: %v", err)
	}

	for i := 0; i < s.numFound; i++ {
		m := s.motors[i]

		if err := m.Start(); err != nil {
			s.log("motor %d start failed: %v", i, err)
			continue
		}

		info, err := m.FirmwareInfo()
		if err != nil {
			s.log("motor %d firmware query failed: %v", i, err)
			continue
		}

		s.motorInfo[i] = info
		s.status[i].Started = true
	}
}

// calibrateEncoders runs the inner encoder-parameter calibration loop: send
// the request to every pending motor, poll until all of them responded, and
// repeat until every motor is calibrated or out of retries.
func (s *Surface) calibrateEncoders() {
	for {
		requested := 0

		for i := 0; i < s.numFound; i++ {
			st := &s.status[i]
			if !st.Started || st.EncoderCalibrated || st.EncoderRetries >= s.timing.EncoderRetryBudget {
				continue
			}

			if requested > 0 {
				time.Sleep(s.timing.RequestStagger)
			}

			if err := s.motors[i].RequestEncoderCalibration(); err != nil {
				s.log("motor %d calibration request failed: %v", i, err)
				st.EncoderRetries++
				continue
			}

			st.EncoderRequested = true
			st.EncoderAcked = false
			requested++
		}

		if requested == 0 {
			return
		}

		s.pollEncoderStatus()

		// Motors that never answered within the poll budget burn a retry,
		// otherwise the loop could never terminate.
		for i := 0; i < s.numFound; i++ {
			st := &s.status[i]
			if st.EncoderRequested && !st.EncoderAcked {
				st.EncoderRetries++
				st.EncoderRequested = false
			}
		}
	}
}

func (s *Surface) pollEncoderStatus() {
	for poll := 0; poll < s.timing.PollBudget; poll++ {
		pending := false

		for i := 0; i < s.numFound; i++ {
			st := &s.status[i]
			if !st.EncoderRequested || st.EncoderAcked {
				continue
			}

			ok, status, err := s.motors[i].EncoderCalibrationStatus()
			if err != nil {
				pending = true
				continue
			}

			st.EncoderAcked = true
			if ok {
				st.EncoderCalibrated = true
			} else {
				s.log("motor %d unexpected calibration status 0x%02x", i, status)
				st.EncoderRetries++
			}
		}

		if !pending {
			return
		}
		time.Sleep(s.timing.PollInterval)
	}
}

// findDatum asks every calibrated motor to search for its reference position
// and polls until all of them found it or the wait budget is exhausted. A
// status that is not "datum found" only means the motor is still searching.
func (s *Surface) findDatum() {
	requested := 0
	for i := 0; i < s.numFound; i++ {
		st := &s.status[i]
		if !st.EncoderCalibrated || st.Active {
			continue
		}

		if requested > 0 {
			time.Sleep(s.timing.RequestStagger)
		}

		if err := s.motors[i].RequestFindDatum(); err != nil {
			s.log("motor %d datum request failed: %v", i, err)
			continue
		}

		st.DatumRequested = true
		requested++
	}

	if requested == 0 {
		return
	}

	for poll := 0; poll < s.timing.PollBudget; poll++ {
		pending := false

		for i := 0; i < s.numFound; i++ {
			st := &s.status[i]
			if !st.DatumRequested || st.DatumFound {
				continue
			}

			found, err := s.motors[i].DatumStatus()
			if err != nil || !found {
				pending = true
				continue
			}

			st.DatumFound = true
			st.Active = true
			s.log("motor %d active", i)
		}

		if !pending {
			return
		}
		time.Sleep(s.timing.PollInterval)
	}
}

// resetCalibration rewinds every motor that has not become active so the
// next outer cycle redoes the whole encoder+datum sequence for it.
func (s *Surface) resetCalibration() {
	for i := 0; i < s.numFound; i++ {
		st := &s.status[i]
		if st.Active {
			continue
		}

		st.EncoderRequested = false
		st.EncoderAcked = false
		st.EncoderCalibrated = false
		st.EncoderRetries = 0
		st.DatumRequested = false
		st.DatumFound = false
	}
}

func (s *Surface) allActive() bool {
	for i := 0; i < s.numFound; i++ {
		if !s.status[i].Active {
			return false
		}
	}
	return true
}
