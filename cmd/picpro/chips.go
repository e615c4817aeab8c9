package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type chipsConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
	json       bool
}

func (c *chipsConfig) Exec(ctx context.Context, _ []string) error {
	if c.rootConfig.verbose {
		fmt.Fprintf(c.err, "chips\n")
	}

	catalog, err := newCatalog(c.rootConfig)
	if err != nil {
		return err
	}

	names := catalog.Names()
	if c.json {
		return writeJSON(c.out, names)
	}
	for _, name := range names {
		fmt.Fprintln(c.out, name)
	}
	return nil
}

func newChipsCmd(
	rootConfig *rootConfig, out io.Writer, err io.Writer,
) *ffcli.Command {
	cfg := chipsConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("picpro chips", flag.ExitOnError)
	fs.BoolVar(&cfg.json, "json", false, "output in json mode")
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "chips",
		ShortUsage: "chips",
		ShortHelp:  "Lists every chip known to the catalog.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}
