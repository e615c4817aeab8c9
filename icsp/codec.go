package icsp

import (
	"fmt"

	"github.com/faymaz/picpro/chipinfo"
)

// codec provides the core-family specific command encodings.
//
// Each core family enters and leaves program mode with its own sequence
// and lays out configuration memory differently. The session selects the
// codec from the profile's core type at creation and never changes it.
type codec interface {
	// enterSequence returns the exchanges that put the chip into program
	// mode, honoring the profile's power sequencing.
	enterSequence(p *chipinfo.Profile, icspMode bool) []exchange
	// exitSequence returns the exchanges that leave program mode and
	// remove the programming voltages.
	exitSequence() []exchange
	// configLen is the size of the fuse/configuration region in bytes.
	configLen() int
	// erasedWord is the value every program word holds after a bulk erase.
	erasedWord() uint16
	// blankByte is the erased value of byte i of the ROM image.
	blankByte(i int) byte
	// supportsDeviceID reports whether the family implements the
	// device-ID read.
	supportsDeviceID() bool
	// deviceIDMask masks out the silicon revision bits of a device-ID
	// word before comparing it against the catalog value.
	deviceIDMask() uint16
}

// codecFor selects the codec for a core family.
func codecFor(core chipinfo.CoreType) (codec, error) {
	switch core {
	case chipinfo.CoreClassic12:
		return classicCodec{bits12: true}, nil
	case chipinfo.CoreClassic14:
		return classicCodec{}, nil
	case chipinfo.CoreEnhanced14:
		return enhancedCodec{}, nil
	case chipinfo.CorePIC18:
		return pic18Codec{}, nil
	default:
		return nil, fmt.Errorf("icsp: no codec for core type %v", core)
	}
}

// lvpKey is the key sequence newer cores require for low-voltage program
// mode entry, "MCHP" on the wire.
var lvpKey = []byte{0x4d, 0x43, 0x48, 0x50}

func enterCommand(p *chipinfo.Profile, icspMode bool, key []byte) []exchange {
	flags := byte(0)
	if icspMode {
		flags |= 0x01
	}
	send := append([]byte{cmdEnterProg, byte(p.PowerSequence), flags}, key...)
	return []exchange{
		{send: []byte{cmdVoltagesOn}, ack: ackVoltagesOn},
		{send: send, ack: ackOK},
	}
}

func exitCommand() []exchange {
	return []exchange{
		{send: []byte{cmdExitProg}, ack: ackExit},
		{send: []byte{cmdVoltagesOff}, ack: ackVoltagesOff},
	}
}

// blankROMByte derives the erased byte pattern from the erased word value.
// ROM images store one program word per two bytes, little-endian.
func blankROMByte(erased uint16, i int) byte {
	if i%2 == 0 {
		return byte(erased)
	}
	return byte(erased >> 8)
}

// classicCodec drives the baseline 12-bit and midrange 14-bit cores.
//
// These parts enter program mode purely through the Vpp ramp; there is no
// key sequence, and the 12-bit parts predate the device-ID word.
type classicCodec struct {
	bits12 bool
}

func (c classicCodec) enterSequence(p *chipinfo.Profile, icspMode bool) []exchange {
	return enterCommand(p, icspMode, nil)
}

func (c classicCodec) exitSequence() []exchange { return exitCommand() }

func (c classicCodec) configLen() int {
	// One configuration word for the 12-bit parts, eight words of ID and
	// fuse memory for the midrange parts.
	if c.bits12 {
		return 2
	}
	return 16
}

func (c classicCodec) erasedWord() uint16 {
	if c.bits12 {
		return 0x0fff
	}
	return 0x3fff
}

func (c classicCodec) blankByte(i int) byte { return blankROMByte(c.erasedWord(), i) }

func (c classicCodec) supportsDeviceID() bool { return !c.bits12 }

func (c classicCodec) deviceIDMask() uint16 { return 0xffe0 }

// enhancedCodec drives the enhanced midrange 14-bit cores (16F88x and
// later). ICSP entry uses the low-voltage key sequence.
type enhancedCodec struct{}

func (enhancedCodec) enterSequence(p *chipinfo.Profile, icspMode bool) []exchange {
	if icspMode {
		return enterCommand(p, icspMode, lvpKey)
	}
	return enterCommand(p, icspMode, nil)
}

func (enhancedCodec) exitSequence() []exchange { return exitCommand() }

func (enhancedCodec) configLen() int { return 16 }

func (enhancedCodec) erasedWord() uint16 { return 0x3fff }

func (enhancedCodec) blankByte(i int) byte { return blankROMByte(0x3fff, i) }

func (enhancedCodec) supportsDeviceID() bool { return true }

func (enhancedCodec) deviceIDMask() uint16 { return 0xffe0 }

// pic18Codec drives the 16-bit instruction PIC18 cores. Program memory is
// byte addressed and erases to all-ones; the entry key is mandatory.
type pic18Codec struct{}

func (pic18Codec) enterSequence(p *chipinfo.Profile, icspMode bool) []exchange {
	return enterCommand(p, icspMode, lvpKey)
}

func (pic18Codec) exitSequence() []exchange { return exitCommand() }

func (pic18Codec) configLen() int { return 14 }

func (pic18Codec) erasedWord() uint16 { return 0xffff }

func (pic18Codec) blankByte(i int) byte { return 0xff }

func (pic18Codec) supportsDeviceID() bool { return true }

func (pic18Codec) deviceIDMask() uint16 { return 0xffe0 }
