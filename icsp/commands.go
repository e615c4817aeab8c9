package icsp

// Programmer command bytes.
//
// The programmer firmware runs a byte-oriented command loop: the host sends
// a command byte plus its parameters and the firmware answers with a
// single-byte acknowledgement, optionally followed by payload data.
const (
	cmdStart        = 'P'  // handshake, echoed by the firmware
	cmdLoadProfile  = 0x03 // upload chip programming variables
	cmdVoltagesOn   = 0x04 // apply Vcc/Vpp
	cmdVoltagesOff  = 0x05 // remove Vcc/Vpp
	cmdEnterProg    = 0x06 // run the program mode entry sequence
	cmdExitProg     = 0x07 // run the program mode exit sequence
	cmdReadROM      = 0x0b // read a program memory block
	cmdReadEEPROM   = 0x0c // read a data EEPROM block
	cmdReadConfig   = 0x0d // read the configuration word region
	cmdReadDeviceID = 0x0e // read the device-ID word
	cmdErase        = 0x0f // bulk erase
	cmdWriteROM     = 0x10 // write a program memory block
	cmdWriteEEPROM  = 0x11 // write a data EEPROM block
)

// Firmware acknowledgement bytes.
const (
	ackStart       = 'P'
	ackProfile     = 'I'
	ackVoltagesOn  = 'V'
	ackVoltagesOff = 'v'
	ackOK          = 'Y'
	ackExit        = 'D'
)

// exchange is one request/acknowledge step of a command sequence.
type exchange struct {
	send []byte
	ack  byte
}

// checksum8 returns the two's complement of the 8-bit sum of data.
//
// Appending the checksum to the data makes the full frame sum to zero,
// which is what the firmware verifies on writes and the host verifies on
// block reads.
func checksum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}
