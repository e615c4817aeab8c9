// Package icsp drives a serial PIC programmer over its command protocol.
//
// It talks to K150-class programmers attached over USB serial and programs
// PIC microcontrollers in-circuit (ICSP) or in a socket. The package owns
// the transport link, the per-core-family command encodings and the
// programming session state machine; chip parameters come from a
// chipinfo.Profile.
//
// Destructive operations (erase, bulk write) are only reachable from an
// established program-mode session.
package icsp
