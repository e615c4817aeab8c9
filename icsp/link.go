package icsp

import (
	"context"
	"errors"
	"fmt"
)

// Link is a half-duplex byte channel to the programmer.
//
// A Link is owned by at most one Session at a time. Send and Receive block
// up to the link timeout; a Receive that cannot deliver the full requested
// length is an error, never a silent short read. Overlapping exchanges are
// rejected with ErrLinkBusy.
type Link interface {
	// Send writes all of p to the programmer.
	Send(ctx context.Context, p []byte) error
	// Receive reads exactly n bytes from the programmer.
	Receive(ctx context.Context, n int) ([]byte, error)
	// Close releases the underlying port. Close is idempotent.
	Close() error
}

// Transport errors.
var (
	// ErrLinkBusy is returned when an exchange or a session claim overlaps
	// with one already in flight. The protocol is strictly request/response.
	ErrLinkBusy = errors.New("icsp: link busy")

	// ErrLinkClosed is returned for traffic on a closed link.
	ErrLinkClosed = errors.New("icsp: link closed")

	// ErrTimeout is returned when the programmer does not answer in time.
	ErrTimeout = errors.New("icsp: timeout")
)

// ShortReadError reports a receive that ended before the expected length.
type ShortReadError struct {
	Want int
	Got  int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("icsp: short read: want %d bytes, got %d", e.Want, e.Got)
}

func (e *ShortReadError) Unwrap() error { return ErrTimeout }

// claimable is implemented by links that enforce exclusive session
// ownership. Links that do not implement it are assumed unshared.
type claimable interface {
	claim() bool
	release()
}

func claimLink(l Link) error {
	if c, ok := l.(claimable); ok && !c.claim() {
		return fmt.Errorf("%w: already owned by a session", ErrLinkBusy)
	}
	return nil
}

func releaseLink(l Link) {
	if c, ok := l.(claimable); ok {
		c.release()
	}
}
