package icsp

import "time"

// Config carries the link and session parameters.
type Config struct {
	// Baud is the serial speed of the programmer port.
	Baud int
	// Timeout bounds every single request/response exchange. Longer
	// operations (full ROM reads) are made of many bounded exchanges.
	Timeout time.Duration
	// BlockSize is the transfer unit for ROM and EEPROM traffic.
	BlockSize int
	// Debug is used for wire-level debug output.
	Debug Logger
}

// DefaultConfig returns the configuration for a stock K150-class
// programmer.
func DefaultConfig() Config {
	return Config{
		Baud:      19200,
		Timeout:   3 * time.Second,
		BlockSize: 64,
	}
}

// withDefaults fills the zero values callers commonly leave unset.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Baud == 0 {
		c.Baud = d.Baud
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	return c
}
