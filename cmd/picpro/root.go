package main

import (
	"context"
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type rootConfig struct {
	verbose  bool
	port     string
	baud     int
	chipdata string
	pic      string
	icsp     bool
	timeout  time.Duration
}

func (c *rootConfig) registerFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "v", false, "increase log verbosity, includes wire traffic")
	fs.StringVar(&c.port, "port", "", "serial port of the programmer, eg /dev/ttyUSB0")
	fs.IntVar(&c.baud, "baud", 19200, "serial speed of the programmer port")
	fs.StringVar(&c.chipdata, "chipdata", "", "path to the chipdata.cid catalog file")
	fs.StringVar(&c.pic, "pic", "", "chip to program, eg 16f887")
	fs.BoolVar(&c.icsp, "icsp", false, "program in circuit instead of in the ZIF socket")
	fs.DurationVar(&c.timeout, "timeout", 0, "per-exchange timeout, eg 3s, 500ms")
}

func (c *rootConfig) Exec(context.Context, []string) error {
	return flag.ErrHelp
}

func newRootCmd() (*ffcli.Command, *rootConfig) {
	var cfg rootConfig

	fs := flag.NewFlagSet("picpro", flag.ExitOnError)
	cfg.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "picpro",
		ShortUsage: "picpro [flags] <subcommand>",
		ShortHelp:  "Program PIC microcontrollers with a K150-class programmer.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	}), &cfg
}

var picproLongHelp = `

GENERAL
The chip catalog is read from the file named by -chipdata. When the flag is
empty, chipdata.cid is searched in the working directory and next to the
picpro binary.

Chips mounted in the programmer socket are programmed with -icsp=false (the
default). Chips wired in circuit through the ICSP header need -icsp; some
chips are catalogued ICSP-only and reject socket programming.

Use the detect subcommand to find the programmer port.`
