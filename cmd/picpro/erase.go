package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type eraseConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
}

func (c *eraseConfig) Exec(ctx context.Context, _ []string) error {
	if c.rootConfig.verbose {
		fmt.Fprintf(c.err, "erase\n")
	}

	sess, err := newSession(ctx, c.rootConfig)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	if err := sess.EnterProgramMode(ctx, c.rootConfig.icsp); err != nil {
		return err
	}
	if err := sess.Erase(ctx); err != nil {
		return err
	}
	if err := sess.ExitProgramMode(ctx); err != nil {
		return err
	}

	fmt.Fprintln(c.out, "erased and blank checked")
	return nil
}

func newEraseCmd(
	rootConfig *rootConfig, out io.Writer, err io.Writer,
) *ffcli.Command {
	cfg := eraseConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("picpro erase", flag.ExitOnError)
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "erase",
		ShortUsage: "erase -pic <chip> -port <port>",
		ShortHelp:  "Erases the chip without taking a backup first.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}
