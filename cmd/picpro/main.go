/*
picpro is a tool to program PIC microcontrollers with K150-class serial
programmers.

It talks the P018 firmware protocol over a USB serial bridge.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"
)

func main() {
	var (
		in  = os.Stdin
		out = os.Stdout
		err = os.Stderr
	)

	rootCmd, cfg := newRootCmd()
	rootCmd.Subcommands = []*ffcli.Command{
		newBackupCmd(cfg, out, err),
		newChipsCmd(cfg, out, err),
		newDetectCmd(cfg, out, err),
		newEraseCmd(cfg, out, err),
		newInfoCmd(cfg, out, err),
		newReadCmd(cfg, out, err),
		newWriteCmd(cfg, in, out, err),
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		var num = 0
		for range c {
			num += 1
			if num >= 3 {
				os.Exit(1)
			} else {
				cancel()
			}
		}
	}()

	if err := rootCmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, context.Canceled) {
			msg := err.Error()
			for _, p := range []string{"icsp: ", "chipinfo: ", "workflow: "} {
				msg = strings.TrimPrefix(msg, p)
			}
			fmt.Fprintf(os.Stderr, "%s: %s\n", rootCmd.Name, msg)
			os.Exit(1)
		} else if cfg.verbose {
			fmt.Fprintf(os.Stderr, "%s: cancelled\n", rootCmd.Name)
		}
	}
}
