package icsp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/faymaz/picpro/chipinfo"
)

// State is the externally visible session state.
type State int

const (
	// StateDisconnected means the session holds no usable link.
	StateDisconnected State = iota
	// StateConnected means the programmer answered the handshake but the
	// chip is not in program mode.
	StateConnected
	// StateProgramMode means the chip accepts read, write and erase
	// commands.
	StateProgramMode
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateProgramMode:
		return "program-mode"
	default:
		return "unknown"
	}
}

// Session drives one chip through a programmer link.
//
// A Session exclusively owns its Link from Open until Close. Close runs
// the teardown path (best-effort program mode exit, link release and
// close) exactly once, on every exit path, so callers defer it right
// after Open.
//
// A Session is not safe for concurrent use; overlapping operations fail
// with ErrLinkBusy rather than interleave traffic on the half-duplex
// link.
type Session struct {
	link    Link
	profile *chipinfo.Profile
	codec   codec
	cfg     Config
	log     Logger

	state  State
	busy   bool
	closed bool
}

// Open claims the link, performs the programmer handshake and uploads the
// chip's programming parameters.
//
// A programmer that does not echo the handshake fails with
// ErrDeviceUnresponsive and the link claim is released; the session stays
// unusable.
func Open(ctx context.Context, link Link, profile *chipinfo.Profile, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	c, err := codecFor(profile.Core)
	if err != nil {
		return nil, err
	}
	if err := claimLink(link); err != nil {
		return nil, err
	}

	s := &Session{
		link:    &linkDebug{"link", getLogger(cfg), link},
		profile: profile,
		codec:   c,
		cfg:     cfg,
		log:     getLogger(cfg),
		state:   StateDisconnected,
	}

	if err := s.handshake(ctx); err != nil {
		releaseLink(link)
		return nil, err
	}
	if err := s.loadProfile(ctx); err != nil {
		releaseLink(link)
		return nil, err
	}

	s.state = StateConnected
	return s, nil
}

// Profile returns the chip profile the session was created for.
func (s *Session) Profile() *chipinfo.Profile { return s.profile }

// State returns the current session state.
func (s *Session) State() State { return s.state }

func (s *Session) handshake(ctx context.Context) error {
	if err := s.exchange(ctx, exchange{send: []byte{cmdStart}, ack: ackStart}); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnresponsive, err)
	}
	return nil
}

// loadProfile uploads the programming variables the firmware needs before
// any chip operation: memory geometry, core family and the voltage/timing
// parameters from the catalog.
func (s *Session) loadProfile(ctx context.Context) error {
	p := s.profile
	send := make([]byte, 0, 14)
	send = append(send, cmdLoadProfile)
	send = binary.BigEndian.AppendUint32(send, uint32(p.ROMSize))
	send = binary.BigEndian.AppendUint16(send, uint16(p.EEPROMSize))
	flags := byte(0)
	if p.FlashChip {
		flags |= 0x01
	}
	if p.ICSPOnly {
		flags |= 0x02
	}
	send = append(send,
		byte(p.Core),
		flags,
		byte(p.EraseMode),
		byte(p.PowerSequence),
		byte(p.ProgramDelay),
		byte(p.ProgramTries),
		byte(p.OverProgram),
	)
	if err := s.exchange(ctx, exchange{send: send, ack: ackProfile}); err != nil {
		return fmt.Errorf("icsp: load profile for %s: %w", p.Name, err)
	}
	return nil
}

// EnterProgramMode puts the chip into program mode.
//
// The profile's mode compatibility is checked before any command goes out:
// an ICSP-only part cannot be driven in socket mode.
func (s *Session) EnterProgramMode(ctx context.Context, icspMode bool) error {
	if err := s.begin("enter program mode", StateConnected); err != nil {
		return err
	}
	defer s.end()

	if s.profile.ICSPOnly && !icspMode {
		return fmt.Errorf("%w: %s is ICSP only", ErrUnsupportedMode, s.profile.Name)
	}

	for _, ex := range s.codec.enterSequence(s.profile, icspMode) {
		if err := s.exchange(ctx, ex); err != nil {
			// Do not leave the programming voltages applied to a chip
			// that never made it into program mode. The entry context
			// may already be cancelled, so the attempt gets a fresh one,
			// like the teardown in abort.
			off := exchange{send: []byte{cmdVoltagesOff}, ack: ackVoltagesOff}
			_ = s.exchange(context.WithoutCancel(ctx), off)
			return s.abort(ctx, fmt.Errorf("%w: %w", ErrModeEntryFailed, err))
		}
	}
	s.state = StateProgramMode
	return nil
}

// ExitProgramMode returns the chip to its reset state and removes the
// programming voltages.
func (s *Session) ExitProgramMode(ctx context.Context) error {
	if err := s.begin("exit program mode", StateProgramMode); err != nil {
		return err
	}
	defer s.end()

	err := s.runExitSequence(ctx)
	// The chip is no longer latched in program mode even when the final
	// voltage-off acknowledgement was lost.
	s.state = StateConnected
	return err
}

func (s *Session) runExitSequence(ctx context.Context) error {
	for _, ex := range s.codec.exitSequence() {
		if err := s.exchange(ctx, ex); err != nil {
			return fmt.Errorf("icsp: exit program mode: %w", err)
		}
	}
	return nil
}

// ReadROM reads the full program memory image.
func (s *Session) ReadROM(ctx context.Context) ([]byte, error) {
	if err := s.begin("read rom", StateProgramMode); err != nil {
		return nil, err
	}
	defer s.end()

	data, err := s.readRegion(ctx, cmdReadROM, "rom", s.profile.ROMSize)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	return data, nil
}

// ReadEEPROM reads the full data EEPROM.
func (s *Session) ReadEEPROM(ctx context.Context) ([]byte, error) {
	if err := s.begin("read eeprom", StateProgramMode); err != nil {
		return nil, err
	}
	defer s.end()

	data, err := s.readRegion(ctx, cmdReadEEPROM, "eeprom", s.profile.EEPROMSize)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	return data, nil
}

// ReadConfig reads the fuse/configuration word region. Its size depends on
// the core family, not on the profile's ROM size.
func (s *Session) ReadConfig(ctx context.Context) ([]byte, error) {
	if err := s.begin("read config", StateProgramMode); err != nil {
		return nil, err
	}
	defer s.end()

	n := s.codec.configLen()
	if err := s.link.Send(ctx, []byte{cmdReadConfig}); err != nil {
		return nil, s.abort(ctx, err)
	}
	buf, err := s.link.Receive(ctx, n+1)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	data, sum := buf[:n], buf[n]
	if want := checksum8(data); sum != want {
		return nil, &ChecksumError{Region: "config", Want: want, Got: sum}
	}
	return data, nil
}

// ReadDeviceID reads the device-ID word.
//
// Core families that predate the device-ID word fail with
// ErrDeviceIDUnsupported before any device I/O; callers decide whether
// that matters for their workflow.
func (s *Session) ReadDeviceID(ctx context.Context) (uint32, error) {
	if err := s.begin("read device id", StateProgramMode); err != nil {
		return 0, err
	}
	defer s.end()

	if !s.codec.supportsDeviceID() {
		return 0, fmt.Errorf("%w: %v core", ErrDeviceIDUnsupported, s.profile.Core)
	}

	if err := s.link.Send(ctx, []byte{cmdReadDeviceID}); err != nil {
		return 0, s.abort(ctx, err)
	}
	buf, err := s.link.Receive(ctx, 2)
	if err != nil {
		return 0, s.abort(ctx, err)
	}
	return uint32(binary.BigEndian.Uint16(buf)), nil
}

// MatchDeviceID reports whether id identifies the session's chip. The
// silicon revision bits the device encodes alongside the ID are ignored.
func (s *Session) MatchDeviceID(id uint32) bool {
	mask := uint32(s.codec.deviceIDMask())
	return id&mask == uint32(s.profile.ChipID)&mask
}

// WriteROM programs the full program memory image.
//
// len(data) must equal the profile's ROM size; anything else fails with a
// SizeError before a single byte reaches the device. Every block write is
// read back and compared; a mismatch aborts the remaining blocks.
func (s *Session) WriteROM(ctx context.Context, data []byte) error {
	return s.write(ctx, "rom", cmdWriteROM, cmdReadROM, s.profile.ROMSize, data)
}

// WriteEEPROM programs the full data EEPROM, with the same size and
// verify rules as WriteROM.
func (s *Session) WriteEEPROM(ctx context.Context, data []byte) error {
	return s.write(ctx, "eeprom", cmdWriteEEPROM, cmdReadEEPROM, s.profile.EEPROMSize, data)
}

func (s *Session) write(ctx context.Context, region string, wcmd, rcmd byte, size int, data []byte) error {
	if err := s.begin("write "+region, StateProgramMode); err != nil {
		return err
	}
	defer s.end()

	if len(data) != size {
		return &SizeError{Region: region, Want: size, Got: len(data)}
	}

	for off := 0; off < size; off += s.cfg.BlockSize {
		n := min(s.cfg.BlockSize, size-off)
		block := data[off : off+n]

		if err := s.writeBlock(ctx, wcmd, off, block); err != nil {
			return s.abort(ctx, fmt.Errorf("icsp: write %s at %#x: %w", region, off, err))
		}

		back, err := s.readBlock(ctx, rcmd, region, off, n)
		if err != nil {
			return s.abort(ctx, fmt.Errorf("icsp: verify %s at %#x: %w", region, off, err))
		}
		for i := range block {
			if back[i] != block[i] {
				return &VerifyError{Region: region, Offset: off + i, Want: block[i], Got: back[i]}
			}
		}
	}
	return nil
}

// Erase bulk-erases the chip and blank-checks the ROM region.
//
// OTP parts fail with ErrNotErasable before any command is issued.
func (s *Session) Erase(ctx context.Context) error {
	if err := s.begin("erase", StateProgramMode); err != nil {
		return err
	}
	defer s.end()

	if !s.profile.FlashChip {
		return fmt.Errorf("%w: %s is OTP", ErrNotErasable, s.profile.Name)
	}

	ex := exchange{send: []byte{cmdErase, byte(s.profile.EraseMode)}, ack: ackOK}
	if err := s.exchange(ctx, ex); err != nil {
		return s.abort(ctx, fmt.Errorf("icsp: erase: %w", err))
	}

	rom, err := s.readRegion(ctx, cmdReadROM, "rom", s.profile.ROMSize)
	if err != nil {
		return s.abort(ctx, fmt.Errorf("icsp: erase verify: %w", err))
	}
	for i, b := range rom {
		if want := s.codec.blankByte(i); b != want {
			return &EraseVerifyError{Offset: i, Want: want, Got: b}
		}
	}
	return nil
}

// Close tears the session down unconditionally: best-effort program mode
// exit, link release and link close. It runs the teardown once; later
// calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.state == StateProgramMode {
		if err := s.runExitSequence(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.state = StateDisconnected
	releaseLink(s.link)
	if err := s.link.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// begin gates an operation on the session state and latches the transient
// busy flag; errors are returned before any device I/O.
func (s *Session) begin(op string, want State) error {
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, op)
	}
	if s.state != want {
		return &StateError{Op: op, State: s.state}
	}
	if s.busy {
		return fmt.Errorf("%w: %s overlaps another operation", ErrLinkBusy, op)
	}
	s.busy = true
	return nil
}

func (s *Session) end() { s.busy = false }

// abort inspects an operation failure and, for timeouts and cancellation,
// forces the session toward Disconnected through the teardown path rather
// than leaving the chip latched in program mode.
func (s *Session) abort(ctx context.Context, err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		s.log.Printf("aborting session after %v", err)
		s.busy = false
		// Teardown gets a fresh context: the operation's context may
		// already be cancelled and the chip must still leave program mode.
		if terr := s.Close(context.WithoutCancel(ctx)); terr != nil {
			s.log.Printf("teardown after abort: %v", terr)
		}
	}
	return err
}

func (s *Session) exchange(ctx context.Context, ex exchange) error {
	if err := s.link.Send(ctx, ex.send); err != nil {
		return err
	}
	buf, err := s.link.Receive(ctx, 1)
	if err != nil {
		return err
	}
	if buf[0] != ex.ack {
		return &AckError{Cmd: ex.send[0], Want: ex.ack, Got: buf[0]}
	}
	return nil
}

// readRegion reads size bytes of a region in checksummed blocks.
func (s *Session) readRegion(ctx context.Context, cmd byte, region string, size int) ([]byte, error) {
	data := make([]byte, 0, size)
	for off := 0; off < size; off += s.cfg.BlockSize {
		n := min(s.cfg.BlockSize, size-off)
		block, err := s.readBlock(ctx, cmd, region, off, n)
		if err != nil {
			var short *ShortReadError
			if errors.As(err, &short) {
				return nil, &TruncatedError{Region: region, Want: size, Got: len(data) + short.Got}
			}
			return nil, err
		}
		data = append(data, block...)
	}
	return data, nil
}

// readBlock requests n bytes at off and verifies the trailing transfer
// checksum.
func (s *Session) readBlock(ctx context.Context, cmd byte, region string, off, n int) ([]byte, error) {
	req := []byte{cmd, byte(off >> 16), byte(off >> 8), byte(off), byte(n)}
	if err := s.link.Send(ctx, req); err != nil {
		return nil, err
	}
	buf, err := s.link.Receive(ctx, n+1)
	if err != nil {
		return nil, err
	}
	data, sum := buf[:n], buf[n]
	if want := checksum8(data); sum != want {
		return nil, &ChecksumError{Region: region, Offset: off, Want: want, Got: sum}
	}
	return data, nil
}

// writeBlock sends one checksummed data block and waits for the program
// acknowledgement.
func (s *Session) writeBlock(ctx context.Context, cmd byte, off int, block []byte) error {
	req := make([]byte, 0, len(block)+6)
	req = append(req, cmd, byte(off>>16), byte(off>>8), byte(off), byte(len(block)))
	req = append(req, block...)
	req = append(req, checksum8(block))
	return s.exchange(ctx, exchange{send: req, ack: ackOK})
}
