package workflow

import "github.com/faymaz/picpro/icsp"

type config struct {
	session       icsp.Config
	icspMode      bool
	eeprom        bool
	config        bool
	deviceIDCheck bool
	progress      func(Progress)
	log           icsp.Logger
}

func defaultConfig() config {
	return config{
		session: icsp.DefaultConfig(),
		eeprom:  true,
		log:     nopLogger{},
	}
}

// Option configures a Runner.
type Option func(*config)

// WithSessionConfig replaces the session and link configuration used by
// Run.
func WithSessionConfig(cfg icsp.Config) Option {
	return func(c *config) { c.session = cfg }
}

// WithICSP selects in-circuit programming mode for program mode entry.
func WithICSP(icspMode bool) Option {
	return func(c *config) { c.icspMode = icspMode }
}

// WithEEPROM controls whether backups include the data EEPROM.
// Enabled by default.
func WithEEPROM(enabled bool) Option {
	return func(c *config) { c.eeprom = enabled }
}

// WithConfig controls whether backups include the configuration word
// region.
func WithConfig(enabled bool) Option {
	return func(c *config) { c.config = enabled }
}

// WithDeviceIDCheck compares the chip's device ID against the catalog
// value before any destructive step. Chips whose core predates the
// device-ID read pass the check.
func WithDeviceIDCheck(enabled bool) Option {
	return func(c *config) { c.deviceIDCheck = enabled }
}

// WithProgress registers a progress callback. The callback runs on the
// workflow goroutine and must return quickly.
func WithProgress(fn func(Progress)) Option {
	return func(c *config) { c.progress = fn }
}

// WithLogger sets the logger for workflow diagnostics, including
// secondary cleanup failures.
func WithLogger(l icsp.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

type nopLogger struct{}

func (nopLogger) Printf(format string, args ...interface{}) {}
