package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/faymaz/picpro/icsp"
	"github.com/peterbourgon/ff/v3/ffcli"
)

const (
	regionROM    = "rom"
	regionEEPROM = "eeprom"
	regionConfig = "config"
)

type readConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
	region     string
	output     string
}

func (c *readConfig) Exec(ctx context.Context, _ []string) error {
	if c.rootConfig.verbose {
		fmt.Fprintf(c.err, "read %s\n", c.region)
	}

	sess, err := newSession(ctx, c.rootConfig)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	if err := sess.EnterProgramMode(ctx, c.rootConfig.icsp); err != nil {
		return err
	}
	data, err := readRegion(ctx, sess, c.region)
	if err != nil {
		return err
	}
	if err := sess.ExitProgramMode(ctx); err != nil {
		return err
	}

	if c.output == "" || c.output == "-" {
		fmt.Fprintln(c.out, prettyHex(data))
		return nil
	}
	return os.WriteFile(c.output, data, 0o644)
}

func readRegion(ctx context.Context, sess *icsp.Session, region string) ([]byte, error) {
	switch region {
	case regionROM:
		return sess.ReadROM(ctx)
	case regionEEPROM:
		return sess.ReadEEPROM(ctx)
	case regionConfig:
		return sess.ReadConfig(ctx)
	default:
		return nil, fmt.Errorf("picpro: valid regions are %s, %s, %s",
			regionROM, regionEEPROM, regionConfig)
	}
}

func newReadCmd(
	rootConfig *rootConfig, out io.Writer, err io.Writer,
) *ffcli.Command {
	cfg := readConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("picpro read", flag.ExitOnError)
	fs.StringVar(&cfg.region, "region", regionROM, "memory region to read: rom, eeprom or config")
	fs.StringVar(&cfg.output, "o", "", "write the region to this file, hex dump to stdout when empty")
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "read",
		ShortUsage: "read -pic <chip> -port <port> [-region rom] [-o file]",
		ShortHelp:  "Reads a memory region out of the chip.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}
