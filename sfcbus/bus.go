// Package sfcbus implements the shared I2C transport used by all surface
// controllers: packetized reads and writes with bounded retries, and the
// robust write protocol with optional readback verification.
package sfcbus

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type LogFunc func(format string, params ...interface{})

// Txer performs one addressed transfer on the underlying bus. Either w or r
// may be empty. Implementations must return an error wrapping ErrDeviceAbsent
// when the device does not respond at all (timeout / no such device), since
// that condition aborts retry loops.
type Txer interface {
	Tx(addr uint16, w, r []byte) error
	Close() error
}

var (
	// ErrDeviceAbsent means the addressed controller did not respond. It is
	// fatal for the current operation and is never retried.
	ErrDeviceAbsent = errors.New("device not responding")

	// ErrShortTransfer means fewer bytes moved than requested. Treated as a
	// transient I/O fault and retried.
	ErrShortTransfer = errors.New("short transfer")

	// ErrReadbackMismatch means a robust write completed but the controller
	// never echoed the expected confirmation byte.
	ErrReadbackMismatch = errors.New("readback mismatch")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus is closed")
)

const (
	chunkRetries   = 5
	interReadDelay = 20 * time.Microsecond

	robustAttempts  = 5
	readbackTries   = 5
	robustRetryWait = time.Millisecond
)

// Bus owns one open transport. All controllers share it, so callers issuing
// multiple related transactions must hold the bus lock for the whole group.
type Bus struct {
	mu sync.Mutex

	tx     Txer
	logf   LogFunc
	closed bool
}

func New(tx Txer, logf LogFunc) *Bus {
	return &Bus{
		tx:   tx,
		logf: logf,
	}
}

func (b *Bus) log(format string, params ...interface{}) {
	if b.logf != nil {
		b.logf(format, params...)
	}
}

// Lock serializes bus access. Every transaction must run with the lock held;
// the driver's public entry points take it themselves.
func (b *Bus) Lock() {
	b.mu.Lock()
}

func (b *Bus) Unlock() {
	b.mu.Unlock()
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.tx.Close()
}

// chunk splits buf into pieces of at most packetSize bytes. packetSize <= 0
// disables packetization and yields the whole buffer.
func chunk(buf []byte, packetSize int) [][]byte {
	if packetSize <= 0 || len(buf) <= packetSize {
		return [][]byte{buf}
	}

	var out [][]byte
	for len(buf) > 0 {
		n := len(buf)
		if n > packetSize {
			n = packetSize
		}
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out
}

// transfer attempts one chunk up to chunkRetries times. A missing device is
// not retried: the error means the controller is absent, not that the bus is
// noisy.
func (b *Bus) transfer(addr uint16, w, r []byte) error {
	if b.closed {
		return ErrClosed
	}

	var err error
	for i := 0; i < chunkRetries; i++ {
		err = b.tx.Tx(addr, w, r)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDeviceAbsent) {
			return err
		}
	}

	return err
}

// Read reads len(buf) bytes from the controller at addr, in chunks of at most
// packetSize bytes. The controllers need a short turnaround between
// packetized reads, so a fixed delay is inserted between chunks.
func (b *Bus) Read(addr uint16, buf []byte, packetSize int) error {
	first := true
	for _, part := range chunk(buf, packetSize) {
		if !first {
			time.Sleep(interReadDelay)
		}
		first = false

		if err := b.transfer(addr, nil, part); err != nil {
			return err
		}
	}
	return nil
}

// Write writes buf to the controller at addr, in chunks of at most
// packetSize bytes.
func (b *Bus) Write(addr uint16, buf []byte, packetSize int) error {
	for _, part := range chunk(buf, packetSize) {
		if err := b.transfer(addr, part, nil); err != nil {
			return err
		}
	}
	return nil
}

// RobustWrite performs the write protocol without readback verification.
func (b *Bus) RobustWrite(addr uint16, buf []byte, packetSize int) error {
	return b.robustWrite(addr, buf, packetSize, -1)
}

// RobustWriteVerify performs the write protocol and additionally requires the
// controller to echo expect on a one byte read before the write is considered
// delivered.
func (b *Bus) RobustWriteVerify(addr uint16, buf []byte, packetSize int, expect byte) error {
	return b.robustWrite(addr, buf, packetSize, int(expect))
}

func (b *Bus) robustWrite(addr uint16, buf []byte, packetSize int, expect int) error {
	var err error

	for attempt := 0; attempt < robustAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(robustRetryWait)
		}

		err = b.Write(addr, buf, packetSize)
		if errors.Is(err, ErrDeviceAbsent) {
			// The controller is not there. More attempts will not help.
			break
		}
		if err != nil {
			continue
		}

		if expect < 0 {
			return nil
		}

		if err = b.readback(addr, byte(expect)); err == nil {
			return nil
		}
		if errors.Is(err, ErrDeviceAbsent) {
			break
		}
	}

	cmd := byte(0)
	if len(buf) > 0 {
		cmd = buf[0]
	}
	b.log("robust write to 0x%02x (cmd 0x%02x) failed: %v", addr, cmd, err)

	return fmt.Errorf("robust write to 0x%02x: %w", addr, err)
}

func (b *Bus) readback(addr uint16, expect byte) error {
	var got [1]byte
	var err error

	for i := 0; i < readbackTries; i++ {
		if i > 0 {
			time.Sleep(robustRetryWait)
		}

		err = b.transfer(addr, nil, got[:])
		if err != nil {
			if errors.Is(err, ErrDeviceAbsent) {
				return err
			}
			continue
		}

		if got[0] == expect {
			return nil
		}
		err = fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrReadbackMismatch, got[0], expect)
	}

	return err
}
