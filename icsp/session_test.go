package icsp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/faymaz/picpro/chipinfo"
)

// fakeProg emulates the programmer firmware behind a Link: commands sent
// through Send queue their response bytes for the following Receive.
type fakeProg struct {
	rom      []byte
	eeprom   []byte
	config   []byte
	deviceID uint16
	blank    byte // erased word, low/high pattern from erasedHigh
	blankHi  byte

	// fault injection
	silent     bool            // answer nothing: every receive times out
	badAck     map[byte]byte   // replace the ack for a command
	corruptSum map[byte]bool   // break the block checksum for a read command
	truncateAt int             // ROM reads at/after this offset return nothing

	pending    []byte
	sent       [][]byte
	eraseCount int
	exitCount  int
	closeCount int
	claimed    bool
}

func newFakeProg(p *chipinfo.Profile) *fakeProg {
	f := &fakeProg{
		rom:        make([]byte, p.ROMSize),
		eeprom:     make([]byte, p.EEPROMSize),
		config:     make([]byte, 16),
		deviceID:   p.ChipID,
		blank:      0xff,
		blankHi:    0x3f,
		truncateAt: -1,
	}
	for i := range f.rom {
		f.rom[i] = byte(i * 7)
	}
	return f
}

func (f *fakeProg) push(b ...byte) { f.pending = append(f.pending, b...) }

func (f *fakeProg) pushAck(cmd, ack byte) {
	if a, ok := f.badAck[cmd]; ok {
		ack = a
	}
	f.push(ack)
}

func (f *fakeProg) pushBlock(cmd byte, data []byte) {
	sum := checksum8(data)
	if f.corruptSum[cmd] {
		sum ^= 0xa5
	}
	f.push(data...)
	f.push(sum)
}

func (f *fakeProg) Send(ctx context.Context, p []byte) error {
	f.sent = append(f.sent, append([]byte{}, p...))
	if f.silent {
		return nil
	}

	switch cmd := p[0]; cmd {
	case cmdStart:
		f.pushAck(cmd, ackStart)
	case cmdLoadProfile:
		f.pushAck(cmd, ackProfile)
	case cmdVoltagesOn:
		f.pushAck(cmd, ackVoltagesOn)
	case cmdVoltagesOff:
		f.pushAck(cmd, ackVoltagesOff)
	case cmdEnterProg:
		f.pushAck(cmd, ackOK)
	case cmdExitProg:
		f.exitCount++
		f.pushAck(cmd, ackExit)
	case cmdReadROM:
		off, n := blockArgs(p)
		if f.truncateAt >= 0 && off+n > f.truncateAt {
			// Device delivers what it has and goes quiet mid-block.
			if off < f.truncateAt {
				f.push(f.rom[off:f.truncateAt]...)
			}
			return nil
		}
		f.pushBlock(cmd, f.rom[off:off+n])
	case cmdReadEEPROM:
		off, n := blockArgs(p)
		f.pushBlock(cmd, f.eeprom[off:off+n])
	case cmdReadConfig:
		f.pushBlock(cmd, f.config)
	case cmdReadDeviceID:
		f.push(byte(f.deviceID>>8), byte(f.deviceID))
	case cmdErase:
		f.eraseCount++
		for i := range f.rom {
			if i%2 == 0 {
				f.rom[i] = f.blank
			} else {
				f.rom[i] = f.blankHi
			}
		}
		f.pushAck(cmd, ackOK)
	case cmdWriteROM:
		off, n := blockArgs(p)
		copy(f.rom[off:off+n], p[5:5+n])
		f.pushAck(cmd, ackOK)
	case cmdWriteEEPROM:
		off, n := blockArgs(p)
		copy(f.eeprom[off:off+n], p[5:5+n])
		f.pushAck(cmd, ackOK)
	default:
		return fmt.Errorf("fake: unknown command %#02x", cmd)
	}
	return nil
}

func blockArgs(p []byte) (off, n int) {
	return int(p[1])<<16 | int(p[2])<<8 | int(p[3]), int(p[4])
}

func (f *fakeProg) Receive(ctx context.Context, n int) ([]byte, error) {
	if len(f.pending) < n {
		got := len(f.pending)
		f.pending = nil
		if got == 0 {
			return nil, fmt.Errorf("fake receive: %w", ErrTimeout)
		}
		return nil, &ShortReadError{Want: n, Got: got}
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeProg) Close() error {
	f.closeCount++
	return nil
}

func (f *fakeProg) claim() bool {
	if f.claimed {
		return false
	}
	f.claimed = true
	return true
}

func (f *fakeProg) release() { f.claimed = false }

// sentCommands returns the first byte of every frame sent so far.
func (f *fakeProg) sentCommands() []byte {
	cmds := make([]byte, len(f.sent))
	for i, p := range f.sent {
		cmds[i] = p[0]
	}
	return cmds
}

func testProfile() *chipinfo.Profile {
	return &chipinfo.Profile{
		Name:          "16f887",
		ROMSize:       8192,
		EEPROMSize:    256,
		ChipID:        0x20f0,
		Core:          chipinfo.CoreEnhanced14,
		FlashChip:     true,
		PowerSequence: chipinfo.PowerVccVpp1,
		ProgramDelay:  10,
		ProgramTries:  1,
	}
}

// testConfig keeps transfers small so fault offsets are easy to reason
// about.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BlockSize = 32
	return cfg
}

func openTestSession(t *testing.T, f *fakeProg) *Session {
	t.Helper()
	s, err := Open(context.Background(), f, testProfile(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func enterTestSession(t *testing.T, f *fakeProg) *Session {
	t.Helper()
	s := openTestSession(t, f)
	if err := s.EnterProgramMode(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOpenHandshake(t *testing.T) {
	f := newFakeProg(testProfile())
	s := openTestSession(t, f)

	if s.State() != StateConnected {
		t.Errorf("state = %v, want connected", s.State())
	}
	cmds := f.sentCommands()
	if len(cmds) != 2 || cmds[0] != cmdStart || cmds[1] != cmdLoadProfile {
		t.Errorf("sent commands = %#v", cmds)
	}
}

func TestOpenUnresponsive(t *testing.T) {
	f := newFakeProg(testProfile())
	f.silent = true

	_, err := Open(context.Background(), f, testProfile(), testConfig())
	if !errors.Is(err, ErrDeviceUnresponsive) {
		t.Fatalf("err = %v, want ErrDeviceUnresponsive", err)
	}
	if f.claimed {
		t.Error("link still claimed after failed open")
	}
}

func TestOpenLinkBusy(t *testing.T) {
	f := newFakeProg(testProfile())
	openTestSession(t, f)

	_, err := Open(context.Background(), f, testProfile(), testConfig())
	if !errors.Is(err, ErrLinkBusy) {
		t.Fatalf("second open: err = %v, want ErrLinkBusy", err)
	}
}

func TestInvalidStateNoIO(t *testing.T) {
	f := newFakeProg(testProfile())
	s := openTestSession(t, f)
	before := len(f.sent)

	var stateErr *StateError
	if _, err := s.ReadROM(context.Background()); !errors.As(err, &stateErr) {
		t.Errorf("read rom in connected: err = %v", err)
	}
	if err := s.WriteROM(context.Background(), make([]byte, 8192)); !errors.As(err, &stateErr) {
		t.Errorf("write rom in connected: err = %v", err)
	}
	if err := s.Erase(context.Background()); !errors.As(err, &stateErr) {
		t.Errorf("erase in connected: err = %v", err)
	}
	if err := s.ExitProgramMode(context.Background()); !errors.As(err, &stateErr) {
		t.Errorf("exit in connected: err = %v", err)
	}

	if len(f.sent) != before {
		t.Errorf("device saw %d extra frames", len(f.sent)-before)
	}
}

func TestEnterProgramMode(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	if s.State() != StateProgramMode {
		t.Errorf("state = %v, want program-mode", s.State())
	}
	cmds := f.sentCommands()
	if cmds[len(cmds)-2] != cmdVoltagesOn || cmds[len(cmds)-1] != cmdEnterProg {
		t.Errorf("entry commands = %#v", cmds)
	}
}

func TestEnterProgramModeRejected(t *testing.T) {
	f := newFakeProg(testProfile())
	f.badAck = map[byte]byte{cmdEnterProg: 'N'}
	s := openTestSession(t, f)

	err := s.EnterProgramMode(context.Background(), true)
	if !errors.Is(err, ErrModeEntryFailed) {
		t.Fatalf("err = %v, want ErrModeEntryFailed", err)
	}
	if s.State() != StateConnected {
		t.Errorf("state = %v, want connected", s.State())
	}
	// The voltages must not stay applied after a failed entry.
	cmds := f.sentCommands()
	if cmds[len(cmds)-1] != cmdVoltagesOff {
		t.Errorf("last command = %#02x, want voltages off", cmds[len(cmds)-1])
	}
}

// cancellingLink refuses traffic on a cancelled context, the way the
// serial link does, and triggers the cancellation itself when the program
// mode entry command goes out.
type cancellingLink struct {
	*fakeProg
	cancel context.CancelFunc
}

func (l *cancellingLink) Send(ctx context.Context, p []byte) error {
	if p[0] == cmdEnterProg {
		l.cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.fakeProg.Send(ctx, p)
}

func (l *cancellingLink) Receive(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.fakeProg.Receive(ctx, n)
}

func TestCancelDuringEntryRemovesVoltages(t *testing.T) {
	f := newFakeProg(testProfile())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &cancellingLink{fakeProg: f, cancel: cancel}
	s, err := Open(ctx, l, testProfile(), testConfig())
	if err != nil {
		t.Fatal(err)
	}

	err = s.EnterProgramMode(ctx, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// Cancellation mid-entry must still remove the programming voltages
	// and run the full teardown.
	cmds := f.sentCommands()
	if len(cmds) == 0 || cmds[len(cmds)-1] != cmdVoltagesOff {
		t.Fatalf("last command = %#v, want voltages off", cmds)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if f.closeCount != 1 {
		t.Errorf("close count = %d, want 1", f.closeCount)
	}
}

func TestUnsupportedModeNoIO(t *testing.T) {
	p := testProfile()
	p.ICSPOnly = true
	f := newFakeProg(p)
	s, err := Open(context.Background(), f, p, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	before := len(f.sent)

	if err := s.EnterProgramMode(context.Background(), false); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("err = %v, want ErrUnsupportedMode", err)
	}
	if len(f.sent) != before {
		t.Error("mode check issued device I/O")
	}
}

func TestReadROM(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	data, err := s.ReadROM(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, f.rom) {
		t.Error("read rom differs from device contents")
	}
	if s.State() != StateProgramMode {
		t.Errorf("state after read = %v", s.State())
	}
}

func TestReadROMChecksumMismatch(t *testing.T) {
	f := newFakeProg(testProfile())
	f.corruptSum = map[byte]bool{cmdReadROM: true}
	s := enterTestSession(t, f)

	var sumErr *ChecksumError
	if _, err := s.ReadROM(context.Background()); !errors.As(err, &sumErr) {
		t.Fatalf("err = %v, want ChecksumError", err)
	}
}

func TestReadROMTruncated(t *testing.T) {
	f := newFakeProg(testProfile())
	f.truncateAt = 80
	s := enterTestSession(t, f)

	var trunc *TruncatedError
	_, err := s.ReadROM(context.Background())
	if !errors.As(err, &trunc) {
		t.Fatalf("err = %v, want TruncatedError", err)
	}
	if trunc.Region != "rom" || trunc.Want != 8192 || trunc.Got != 80 {
		t.Errorf("truncated = %+v", trunc)
	}
}

func TestWriteSizeMismatchNoIO(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)
	before := len(f.sent)

	var sizeErr *SizeError
	if err := s.WriteROM(context.Background(), make([]byte, 100)); !errors.As(err, &sizeErr) {
		t.Fatalf("err = %v, want SizeError", err)
	}
	if sizeErr.Want != 8192 || sizeErr.Got != 100 {
		t.Errorf("size error = %+v", sizeErr)
	}
	if len(f.sent) != before {
		t.Error("short write issued device I/O")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	image := make([]byte, 8192)
	for i := range image {
		image[i] = byte(i ^ (i >> 5))
	}
	if err := s.WriteROM(context.Background(), image); err != nil {
		t.Fatal(err)
	}

	back, err := s.ReadROM(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, image) {
		t.Error("read back image differs from written image")
	}
}

func TestWriteEEPROM(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	data := bytes.Repeat([]byte{0x5a}, 256)
	if err := s.WriteEEPROM(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.eeprom, data) {
		t.Error("device eeprom differs from written data")
	}
}

func TestErase(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	if err := s.Erase(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.eraseCount != 1 {
		t.Errorf("erase count = %d", f.eraseCount)
	}
}

func TestEraseVerifyFailed(t *testing.T) {
	f := newFakeProg(testProfile())
	f.blankHi = 0x00 // erases to the wrong pattern
	s := enterTestSession(t, f)

	var verr *EraseVerifyError
	if err := s.Erase(context.Background()); !errors.As(err, &verr) {
		t.Fatalf("err = %v, want EraseVerifyError", err)
	}
}

func TestEraseOTPRejected(t *testing.T) {
	p := testProfile()
	p.FlashChip = false
	f := newFakeProg(p)
	s, err := Open(context.Background(), f, p, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnterProgramMode(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	before := len(f.sent)

	if err := s.Erase(context.Background()); !errors.Is(err, ErrNotErasable) {
		t.Fatalf("err = %v, want ErrNotErasable", err)
	}
	if len(f.sent) != before {
		t.Error("otp erase issued device I/O")
	}
}

func TestReadConfig(t *testing.T) {
	f := newFakeProg(testProfile())
	for i := range f.config {
		f.config[i] = byte(0x30 + i)
	}
	s := enterTestSession(t, f)

	cfg, err := s.ReadConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(cfg, f.config) {
		t.Error("config differs from device contents")
	}
	// Config length follows the core family, not the ROM size.
	if len(cfg) != 16 {
		t.Errorf("config length = %d, want 16", len(cfg))
	}
}

func TestReadDeviceID(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	id, err := s.ReadDeviceID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x20f0 {
		t.Errorf("device id = %#x", id)
	}
	if !s.MatchDeviceID(id) {
		t.Error("device id does not match profile")
	}
	// The low revision bits are ignored by the match.
	if !s.MatchDeviceID(id | 0x1f) {
		t.Error("revision bits break the device id match")
	}
}

func TestReadDeviceIDUnsupported(t *testing.T) {
	p := testProfile()
	p.Core = chipinfo.CoreClassic12
	f := newFakeProg(p)
	s, err := Open(context.Background(), f, p, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnterProgramMode(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	before := len(f.sent)

	if _, err := s.ReadDeviceID(context.Background()); !errors.Is(err, ErrDeviceIDUnsupported) {
		t.Fatalf("err = %v, want ErrDeviceIDUnsupported", err)
	}
	if len(f.sent) != before {
		t.Error("unsupported device id read issued device I/O")
	}
}

func TestCloseTeardown(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.exitCount != 1 {
		t.Errorf("exit count = %d, want 1", f.exitCount)
	}
	if f.closeCount != 1 {
		t.Errorf("close count = %d, want 1", f.closeCount)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}

	// A second close must not repeat the teardown.
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.exitCount != 1 || f.closeCount != 1 {
		t.Errorf("teardown ran twice: exit=%d close=%d", f.exitCount, f.closeCount)
	}

	if _, err := s.ReadROM(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("read after close: err = %v", err)
	}
}

func TestCloseWithoutProgramMode(t *testing.T) {
	f := newFakeProg(testProfile())
	s := openTestSession(t, f)

	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.exitCount != 0 {
		t.Errorf("exit ran for a session never in program mode: %d", f.exitCount)
	}
	if f.closeCount != 1 {
		t.Errorf("close count = %d", f.closeCount)
	}
	if f.claimed {
		t.Error("link still claimed after close")
	}
}

func TestTimeoutForcesTeardown(t *testing.T) {
	f := newFakeProg(testProfile())
	s := enterTestSession(t, f)

	// Device goes completely quiet: the read times out and the session
	// must not stay latched in program mode.
	f.silent = true
	_, err := s.ReadROM(context.Background())
	if err == nil {
		t.Fatal("read succeeded")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if f.closeCount != 1 {
		t.Errorf("close count = %d, want 1", f.closeCount)
	}
}
