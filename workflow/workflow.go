// Package workflow sequences multi-step chip operations on top of an ICSP
// programming session.
//
// Workflows own the ordering and rollback rules that single session
// operations cannot express, most importantly that an irreversible erase
// is never issued before its backup fully succeeded.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/faymaz/picpro/chipinfo"
	"github.com/faymaz/picpro/icsp"
)

// Phase names reported through the progress callback.
const (
	PhaseEnter  = "enter"
	PhaseBackup = "backup"
	PhaseErase  = "erase"
	PhaseExit   = "exit"
	PhaseDone   = "done"
)

// Progress is passed to the progress callback as a workflow advances.
// Callbacks must return quickly; they run on the workflow goroutine.
type Progress struct {
	Phase      string
	BytesDone  int
	BytesTotal int
}

// Backup holds the regions read out of a chip before a destructive step.
type Backup struct {
	ROM    []byte
	EEPROM []byte
	Config []byte
}

// Result is the structured outcome of a workflow.
type Result struct {
	// Backup holds whatever was read before the destructive step. It is
	// populated even when a later step failed.
	Backup Backup
	// ErasePerformed is true once the erase command was accepted for
	// sending; the chip contents can no longer be assumed intact. It
	// stays false when the erase was rejected before any device I/O.
	ErasePerformed bool
	// DeviceID is the device-ID word, 0 when the chip does not report one.
	DeviceID uint32
	// DeviceIDKnown distinguishes a real zero ID from an unsupported read.
	DeviceIDKnown bool
}

// DeviceIDMismatchError reports a chip that identifies as something other
// than the profile the session was opened for.
type DeviceIDMismatchError struct {
	Profile  string
	Expected uint16
	Actual   uint32
}

func (e *DeviceIDMismatchError) Error() string {
	return fmt.Sprintf("workflow: device id %#04x does not match %s (catalog id %#04x)",
		e.Actual, e.Profile, e.Expected)
}

// Session is the programming session surface a workflow drives.
// *icsp.Session implements it.
type Session interface {
	Profile() *chipinfo.Profile
	State() icsp.State
	EnterProgramMode(ctx context.Context, icspMode bool) error
	ExitProgramMode(ctx context.Context) error
	ReadROM(ctx context.Context) ([]byte, error)
	ReadEEPROM(ctx context.Context) ([]byte, error)
	ReadConfig(ctx context.Context) ([]byte, error)
	ReadDeviceID(ctx context.Context) (uint32, error)
	MatchDeviceID(id uint32) bool
	WriteROM(ctx context.Context, data []byte) error
	Erase(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Session = (*icsp.Session)(nil)

// Runner executes workflows with a fixed option set.
type Runner struct {
	cfg config
}

// NewRunner returns a Runner configured by opts.
func NewRunner(opts ...Option) *Runner {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runner{cfg: cfg}
}

// BackupAndErase backs the chip up into sink and erases it.
//
// Order is fixed: enter program mode, read ROM (plus EEPROM and config
// when enabled), flush everything to sink, erase, exit program mode. The
// erase is never attempted unless every read completed and the sink took
// the full payload; a chip whose backup failed keeps its contents.
//
// Program mode exit runs even when an earlier step failed; its error, if
// any, is attached as a secondary error and never masks the primary one.
func (r *Runner) BackupAndErase(ctx context.Context, sess Session, sink io.Writer) (*Result, error) {
	res := &Result{}

	err := r.backupAndErase(ctx, sess, sink, res)

	// The chip may no longer be in program mode: a transport timeout
	// already forces the session teardown path.
	if sess.State() == icsp.StateProgramMode {
		r.report(Progress{Phase: PhaseExit})
		if exitErr := sess.ExitProgramMode(ctx); exitErr != nil {
			r.cfg.log.Printf("exit program mode: %v", exitErr)
			err = errors.Join(err, exitErr)
		}
	}

	if err != nil {
		return res, err
	}
	r.report(Progress{Phase: PhaseDone})
	return res, nil
}

func (r *Runner) backupAndErase(ctx context.Context, sess Session, sink io.Writer, res *Result) error {
	profile := sess.Profile()
	if !profile.FlashChip {
		// No point reading a backup when the erase can never run.
		return fmt.Errorf("workflow: %w: %s is OTP", icsp.ErrNotErasable, profile.Name)
	}
	total := profile.ROMSize
	if r.cfg.eeprom {
		total += profile.EEPROMSize
	}

	r.report(Progress{Phase: PhaseEnter, BytesTotal: total})
	if err := sess.EnterProgramMode(ctx, r.cfg.icspMode); err != nil {
		return err
	}

	if err := r.checkDeviceID(ctx, sess, res); err != nil {
		return err
	}

	r.report(Progress{Phase: PhaseBackup, BytesTotal: total})
	rom, err := sess.ReadROM(ctx)
	if err != nil {
		return fmt.Errorf("workflow: backup rom: %w", err)
	}
	res.Backup.ROM = rom
	r.report(Progress{Phase: PhaseBackup, BytesDone: len(rom), BytesTotal: total})

	if r.cfg.eeprom && profile.EEPROMSize > 0 {
		eeprom, err := sess.ReadEEPROM(ctx)
		if err != nil {
			return fmt.Errorf("workflow: backup eeprom: %w", err)
		}
		res.Backup.EEPROM = eeprom
	}
	if r.cfg.config {
		cfg, err := sess.ReadConfig(ctx)
		if err != nil {
			return fmt.Errorf("workflow: backup config: %w", err)
		}
		res.Backup.Config = cfg
	}
	r.report(Progress{Phase: PhaseBackup, BytesDone: total, BytesTotal: total})

	if err := writeFull(sink, res.Backup); err != nil {
		return fmt.Errorf("workflow: write backup: %w", err)
	}

	r.report(Progress{Phase: PhaseErase, BytesDone: total, BytesTotal: total})
	if err := sess.Erase(ctx); err != nil {
		// A state rejection fails before any command byte leaves the
		// host; anything else means the erase may have reached the chip.
		var rejected *icsp.StateError
		if !errors.As(err, &rejected) && !errors.Is(err, icsp.ErrSessionClosed) &&
			!errors.Is(err, icsp.ErrNotErasable) {
			res.ErasePerformed = true
		}
		return fmt.Errorf("workflow: erase: %w", err)
	}
	res.ErasePerformed = true
	return nil
}

// WriteAndVerify programs a ROM image and reads it back whole as a final
// check on top of the session's per-block verify.
func (r *Runner) WriteAndVerify(ctx context.Context, sess Session, image []byte) error {
	r.report(Progress{Phase: PhaseEnter, BytesTotal: len(image)})
	if err := sess.EnterProgramMode(ctx, r.cfg.icspMode); err != nil {
		return err
	}

	err := sess.WriteROM(ctx, image)

	if sess.State() == icsp.StateProgramMode {
		r.report(Progress{Phase: PhaseExit})
		if exitErr := sess.ExitProgramMode(ctx); exitErr != nil {
			r.cfg.log.Printf("exit program mode: %v", exitErr)
			err = errors.Join(err, exitErr)
		}
	}
	if err == nil {
		r.report(Progress{Phase: PhaseDone, BytesDone: len(image), BytesTotal: len(image)})
	}
	return err
}

// Run opens a session on port for profile, executes BackupAndErase and
// guarantees the session teardown on every path.
func (r *Runner) Run(ctx context.Context, port string, profile *chipinfo.Profile, sink io.Writer) (*Result, error) {
	link, err := icsp.OpenSerial(port, r.cfg.session)
	if err != nil {
		return nil, err
	}

	sess, err := icsp.Open(ctx, link, profile, r.cfg.session)
	if err != nil {
		cerr := link.Close()
		if cerr != nil {
			r.cfg.log.Printf("close link: %v", cerr)
		}
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil {
			r.cfg.log.Printf("close session: %v", cerr)
		}
	}()

	return r.BackupAndErase(ctx, sess, sink)
}

// checkDeviceID compares the chip's device ID against the catalog value.
// Parts without a device ID pass; cores predating the read are expected.
func (r *Runner) checkDeviceID(ctx context.Context, sess Session, res *Result) error {
	if !r.cfg.deviceIDCheck {
		return nil
	}

	id, err := sess.ReadDeviceID(ctx)
	if errors.Is(err, icsp.ErrDeviceIDUnsupported) {
		r.cfg.log.Printf("device id: %v", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("workflow: read device id: %w", err)
	}

	res.DeviceID = id
	res.DeviceIDKnown = true
	if !sess.MatchDeviceID(id) {
		p := sess.Profile()
		return &DeviceIDMismatchError{Profile: p.Name, Expected: p.ChipID, Actual: id}
	}
	return nil
}

// writeFull flushes every backed-up region to the sink, ROM first.
func writeFull(sink io.Writer, b Backup) error {
	for _, region := range [][]byte{b.ROM, b.EEPROM, b.Config} {
		if len(region) == 0 {
			continue
		}
		if _, err := sink.Write(region); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) report(p Progress) {
	if r.cfg.progress != nil {
		r.cfg.progress(p)
	}
}
