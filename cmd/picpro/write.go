package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/faymaz/picpro/workflow"
	"github.com/peterbourgon/ff/v3/ffcli"
)

type writeConfig struct {
	rootConfig *rootConfig
	in         io.Reader
	out        io.Writer
	err        io.Writer
	region     string
	input      string
}

func (c *writeConfig) Exec(ctx context.Context, _ []string) error {
	if c.rootConfig.verbose {
		fmt.Fprintf(c.err, "write %s\n", c.region)
	}

	image, err := c.readImage()
	if err != nil {
		return err
	}

	sess, err := newSession(ctx, c.rootConfig)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	switch c.region {
	case regionROM:
		r := workflow.NewRunner(
			workflow.WithICSP(c.rootConfig.icsp),
			workflow.WithProgress(newProgressPrinter(c.rootConfig, c.err)),
			workflow.WithLogger(newLogger(c.rootConfig.verbose)),
		)
		if err := r.WriteAndVerify(ctx, sess, image); err != nil {
			return err
		}
	case regionEEPROM:
		if err := sess.EnterProgramMode(ctx, c.rootConfig.icsp); err != nil {
			return err
		}
		if err := sess.WriteEEPROM(ctx, image); err != nil {
			return err
		}
		if err := sess.ExitProgramMode(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("picpro: valid regions are %s, %s", regionROM, regionEEPROM)
	}

	fmt.Fprintf(c.out, "wrote and verified %d bytes\n", len(image))
	return nil
}

func (c *writeConfig) readImage() ([]byte, error) {
	if c.input == "" || c.input == "-" {
		return io.ReadAll(c.in)
	}
	return os.ReadFile(c.input)
}

func newWriteCmd(
	rootConfig *rootConfig, in io.Reader, out io.Writer, err io.Writer,
) *ffcli.Command {
	cfg := writeConfig{
		rootConfig: rootConfig,
		in:         in,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("picpro write", flag.ExitOnError)
	fs.StringVar(&cfg.region, "region", regionROM, "memory region to write: rom or eeprom")
	fs.StringVar(&cfg.input, "i", "", "image file to program, stdin when empty")
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "write",
		ShortUsage: "write -pic <chip> -port <port> -i <file> [-region rom]",
		ShortHelp:  "Programs a memory region and verifies it.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}
