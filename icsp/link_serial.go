package icsp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// SerialLink is a Link over a USB serial port.
//
// The programmer presents itself as a plain 8N1 serial device; the link
// resets it by pulsing DTR on open, the way the vendor host software does.
type SerialLink struct {
	port    serial.Port
	timeout time.Duration
	log     Logger

	mu      sync.Mutex
	claimed atomic.Bool
	closed  atomic.Bool
}

// OpenSerial opens the programmer port described by cfg.
func OpenSerial(port string, cfg Config) (*SerialLink, error) {
	cfg = cfg.withDefaults()
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("icsp: open %s: %w", port, err)
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		p.Close()
		return nil, fmt.Errorf("icsp: open %s: %w", port, err)
	}

	l := &SerialLink{port: p, timeout: cfg.Timeout, log: getLogger(cfg)}
	if err := l.reset(); err != nil {
		p.Close()
		return nil, err
	}
	return l, nil
}

// pollInterval is the port read granularity. Receive loops reads of this
// length until the requested byte count or the link timeout.
const pollInterval = 50 * time.Millisecond

// resetSettle is how long the programmer firmware needs after a DTR reset
// before it accepts the handshake.
const resetSettle = 100 * time.Millisecond

// reset pulses DTR to restart the programmer firmware and drains whatever
// greeting bytes it emits.
func (l *SerialLink) reset() error {
	if err := l.port.SetDTR(true); err != nil {
		return fmt.Errorf("icsp: reset: %w", err)
	}
	time.Sleep(resetSettle)
	if err := l.port.SetDTR(false); err != nil {
		return fmt.Errorf("icsp: reset: %w", err)
	}
	time.Sleep(resetSettle)
	return l.port.ResetInputBuffer()
}

// Send writes all of p to the port.
func (l *SerialLink) Send(ctx context.Context, p []byte) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	if !l.mu.TryLock() {
		return ErrLinkBusy
	}
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := l.port.Write(p)
	if err != nil {
		return fmt.Errorf("icsp: send: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("icsp: send: wrote %d of %d bytes", n, len(p))
	}
	return nil
}

// Receive reads exactly n bytes, failing with ErrTimeout (wrapped in a
// ShortReadError when partial data arrived) once the link timeout expires.
func (l *SerialLink) Receive(ctx context.Context, n int) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrLinkClosed
	}
	if !l.mu.TryLock() {
		return nil, ErrLinkBusy
	}
	defer l.mu.Unlock()

	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(l.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for got < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			if got == 0 {
				return nil, fmt.Errorf("icsp: receive: %w", ErrTimeout)
			}
			return nil, &ShortReadError{Want: n, Got: got}
		}

		// The port read returns after pollInterval with whatever arrived,
		// so cancellation and the deadline are honored between polls.
		r, err := l.port.Read(buf[got:])
		if err != nil {
			return nil, fmt.Errorf("icsp: receive: %w", err)
		}
		got += r
	}
	return buf, nil
}

// Close releases the port. It is safe to call more than once.
func (l *SerialLink) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("icsp: close: %w", err)
	}
	return nil
}

func (l *SerialLink) claim() bool { return l.claimed.CompareAndSwap(false, true) }
func (l *SerialLink) release()    { l.claimed.Store(false) }
