package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/faymaz/picpro/icsp"
	"github.com/peterbourgon/ff/v3/ffcli"
)

type detectConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
	json       bool
}

type detectReport struct {
	Ports   []icsp.PortInfo `json:"ports"`
	Bridges []string        `json:"bridges,omitempty"`
}

func (c *detectConfig) Exec(ctx context.Context, _ []string) error {
	if c.rootConfig.verbose {
		fmt.Fprintf(c.err, "detect\n")
	}

	ports, err := icsp.DetectPorts()
	if err != nil {
		return err
	}
	bridges, err := icsp.DetectBridges()
	if err != nil {
		// Raw USB access commonly needs extra permissions; the port
		// listing alone is still useful.
		fmt.Fprintf(c.err, "usb enumeration unavailable: %v\n", err)
	}

	if c.json {
		return writeJSON(c.out, detectReport{Ports: ports, Bridges: bridges})
	}

	if len(ports) == 0 {
		fmt.Fprintln(c.out, "no serial ports found")
	}
	for _, p := range ports {
		switch {
		case p.Bridge != "":
			fmt.Fprintf(c.out, "%s    %s (candidate programmer)\n", p.Name, p.Bridge)
		case p.VendorID != "":
			fmt.Fprintf(c.out, "%s    usb %s:%s\n", p.Name, p.VendorID, p.ProductID)
		default:
			fmt.Fprintln(c.out, p.Name)
		}
	}

	// A bridge on the bus without a matching port means the hardware is
	// plugged in but no serial driver claimed it.
	if len(bridges) > len(candidatePorts(ports)) {
		fmt.Fprintln(c.out, "\nUSB bridge present without a serial port; check the host driver:")
		for _, b := range bridges {
			fmt.Fprintf(c.out, "    %s\n", b)
		}
	}
	return nil
}

func candidatePorts(ports []icsp.PortInfo) []icsp.PortInfo {
	var out []icsp.PortInfo
	for _, p := range ports {
		if p.Bridge != "" {
			out = append(out, p)
		}
	}
	return out
}

func newDetectCmd(
	rootConfig *rootConfig, out io.Writer, err io.Writer,
) *ffcli.Command {
	cfg := detectConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("picpro detect", flag.ExitOnError)
	fs.BoolVar(&cfg.json, "json", false, "output in json mode")
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "detect",
		ShortUsage: "detect",
		ShortHelp:  "Finds serial ports that look like a programmer.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}
