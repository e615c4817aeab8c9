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

type backupConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
	output     string
	eeprom     bool
	fuses      bool
	checkID    bool
}

func (c *backupConfig) Exec(ctx context.Context, _ []string) error {
	if c.rootConfig.verbose {
		fmt.Fprintf(c.err, "backup\n")
	}
	if c.output == "" {
		return fmt.Errorf("picpro: no backup file named, use -o")
	}

	profile, err := newProfile(c.rootConfig)
	if err != nil {
		return err
	}

	// The backup file is created up front so the chip is untouched when
	// the destination is not writable.
	sink, err := os.Create(c.output)
	if err != nil {
		return err
	}
	defer sink.Close()

	r := workflow.NewRunner(
		workflow.WithSessionConfig(sessionConfig(c.rootConfig)),
		workflow.WithICSP(c.rootConfig.icsp),
		workflow.WithEEPROM(c.eeprom),
		workflow.WithConfig(c.fuses),
		workflow.WithDeviceIDCheck(c.checkID),
		workflow.WithProgress(newProgressPrinter(c.rootConfig, c.err)),
		workflow.WithLogger(newLogger(c.rootConfig.verbose)),
	)

	if c.rootConfig.port == "" {
		return fmt.Errorf("picpro: no port selected, use -port or run detect")
	}
	res, err := r.Run(ctx, c.rootConfig.port, profile, sink)
	if err != nil {
		if res != nil && len(res.Backup.ROM) > 0 {
			fmt.Fprintf(c.err, "partial backup kept in %s\n", c.output)
		}
		return err
	}

	backed := len(res.Backup.ROM) + len(res.Backup.EEPROM) + len(res.Backup.Config)
	fmt.Fprintf(c.out, "backed up %d bytes to %s, chip erased\n", backed, c.output)
	return nil
}

func newBackupCmd(
	rootConfig *rootConfig, out io.Writer, err io.Writer,
) *ffcli.Command {
	cfg := backupConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("picpro backup", flag.ExitOnError)
	fs.StringVar(&cfg.output, "o", "", "file receiving the backup")
	fs.BoolVar(&cfg.eeprom, "eeprom", true, "include the data EEPROM in the backup")
	fs.BoolVar(&cfg.fuses, "fuses", false, "include the configuration words in the backup")
	fs.BoolVar(&cfg.checkID, "check-id", true, "verify the device ID before erasing")
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "backup",
		ShortUsage: "backup -pic <chip> -port <port> -o <file>",
		ShortHelp:  "Backs the chip up to a file, then erases it.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}

func newProgressPrinter(c *rootConfig, w io.Writer) func(workflow.Progress) {
	if !c.verbose {
		return nil
	}
	return func(p workflow.Progress) {
		if p.BytesTotal > 0 {
			fmt.Fprintf(w, "%-8s %d/%d\n", p.Phase, p.BytesDone, p.BytesTotal)
		} else {
			fmt.Fprintln(w, p.Phase)
		}
	}
}
