// Package chipinfo reads PIC chip definition catalogs.
//
// A catalog file (conventionally chipdata.cid) holds one record per
// supported chip variant: memory sizes, device ID, core architecture and
// the voltage/timing parameters the programmer needs. The format is kept
// byte-compatible with catalog files already in the field.
package chipinfo

import (
	"errors"
	"fmt"
	"strings"
)

// CoreType classifies the command encoding a chip family expects.
type CoreType int

const (
	CoreUnknown CoreType = iota
	// CoreClassic12 is the baseline 12-bit instruction core (PIC10/12/16C5x).
	CoreClassic12
	// CoreClassic14 is the midrange 14-bit instruction core.
	CoreClassic14
	// CoreEnhanced14 is the enhanced midrange 14-bit core (16F88x and later).
	CoreEnhanced14
	// CorePIC18 is the 16-bit instruction PIC18 core.
	CorePIC18
)

func (c CoreType) String() string {
	switch c {
	case CoreClassic12:
		return "classic-12bit"
	case CoreClassic14:
		return "classic-14bit"
	case CoreEnhanced14:
		return "enhanced-14bit"
	case CorePIC18:
		return "pic18"
	default:
		return "unknown"
	}
}

// coreTypeFromTag maps a catalog CoreType tag to a core family.
//
// The tag encodes both the instruction width and the programming algorithm
// group; only the family matters for command encoding.
func coreTypeFromTag(tag string) (CoreType, error) {
	switch t := strings.ToLower(tag); {
	case strings.HasPrefix(t, "bit12_"):
		return CoreClassic12, nil
	case t >= "bit14_a" && t <= "bit14_f":
		return CoreClassic14, nil
	case t == "bit14_g" || t == "bit14_h":
		return CoreEnhanced14, nil
	case strings.HasPrefix(t, "bit16_"):
		return CorePIC18, nil
	default:
		return CoreUnknown, fmt.Errorf("chipinfo: unknown core type %q", tag)
	}
}

// PowerSequence selects the Vcc/Vpp ramp order used when entering
// program mode.
type PowerSequence int

const (
	PowerVcc PowerSequence = iota
	PowerVccVpp1
	PowerVccVpp2
	PowerVpp1Vcc
	PowerVpp2Vcc
	PowerVccFastVpp1
	PowerVccFastVpp2
)

func (p PowerSequence) String() string {
	switch p {
	case PowerVcc:
		return "Vcc"
	case PowerVccVpp1:
		return "VccVpp1"
	case PowerVccVpp2:
		return "VccVpp2"
	case PowerVpp1Vcc:
		return "Vpp1Vcc"
	case PowerVpp2Vcc:
		return "Vpp2Vcc"
	case PowerVccFastVpp1:
		return "VccFastVpp1"
	case PowerVccFastVpp2:
		return "VccFastVpp2"
	default:
		return "unknown"
	}
}

func powerSequenceFromTag(tag string) (PowerSequence, error) {
	switch strings.ToLower(tag) {
	case "vcc":
		return PowerVcc, nil
	case "vccvpp1":
		return PowerVccVpp1, nil
	case "vccvpp2":
		return PowerVccVpp2, nil
	case "vpp1vcc":
		return PowerVpp1Vcc, nil
	case "vpp2vcc":
		return PowerVpp2Vcc, nil
	case "vccfastvpp1":
		return PowerVccFastVpp1, nil
	case "vccfastvpp2":
		return PowerVccFastVpp2, nil
	default:
		return 0, fmt.Errorf("chipinfo: unknown power sequence %q", tag)
	}
}

// Profile describes one chip variant.
//
// Profiles are built by Load and must be treated as read-only afterwards;
// sessions borrow them for their whole lifetime.
type Profile struct {
	// Name is the lower-cased chip identifier, e.g. "16f887".
	Name string
	// ROMSize is the size of the program memory image in bytes.
	ROMSize int
	// EEPROMSize is the size of the data EEPROM in bytes, 0 if absent.
	EEPROMSize int
	// ChipID is the device-ID word reported by parts that implement the
	// device-ID read.
	ChipID uint16
	// Core selects the command encoding for this chip family.
	Core CoreType
	// FlashChip is true for flash parts, false for OTP parts.
	FlashChip bool
	// ICSPOnly is true for parts that can only be programmed in-circuit.
	ICSPOnly bool

	// Programming algorithm parameters, forwarded to the programmer.
	EraseMode     int
	PowerSequence PowerSequence
	// ProgramDelay is the programming pulse delay in 100 microsecond units.
	ProgramDelay int
	ProgramTries int
	OverProgram  int

	// FuseBlank holds the erased value of each configuration fuse word.
	FuseBlank []uint16
}

// Catalog is an immutable set of chip profiles keyed by identifier.
type Catalog struct {
	profiles map[string]*Profile
	names    []string
}

// ErrUnknownChip is returned by Lookup for identifiers not in the catalog.
var ErrUnknownChip = errors.New("chipinfo: unknown chip")

// Lookup returns the profile for the given identifier.
//
// The match is exact against the normalized (lower-case) identifier stored
// in the catalog; callers pass names verbatim from user input lower-cased.
func (c *Catalog) Lookup(name string) (*Profile, error) {
	p, ok := c.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChip, name)
	}
	return p, nil
}

// Names returns all chip identifiers sorted lexicographically.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// Len returns the number of profiles in the catalog.
func (c *Catalog) Len() int {
	return len(c.profiles)
}
