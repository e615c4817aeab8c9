package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/template"

	"github.com/faymaz/picpro/chipinfo"
	"github.com/peterbourgon/ff/v3/ffcli"
)

type infoConfig struct {
	rootConfig *rootConfig
	out        io.Writer
	err        io.Writer
	json       bool
	probe      bool
}

func (c *infoConfig) Exec(ctx context.Context, _ []string) error {
	if c.rootConfig.verbose {
		fmt.Fprintf(c.err, "info\n")
	}

	profile, err := newProfile(c.rootConfig)
	if err != nil {
		return err
	}

	ci := newChipInfo(profile)
	if c.probe {
		if err := probeDeviceID(ctx, c.rootConfig, ci); err != nil {
			return err
		}
	}

	if c.json {
		return writeJSON(c.out, ci)
	}
	return writeText(c.out, ci)
}

const chipInfoTemplate = `
Chip:
    {{ .Name }}    {{ .Core }} core

Memory:
    ROM     {{ .ROMSize }} bytes
    EEPROM  {{ .EEPROMSize }} bytes

Programming:
    {{ if .Flash }}flash{{ else }}one-time programmable{{ end }}{{ if .ICSPOnly }}, ICSP only{{ end }}
    power sequence {{ .PowerSequence }}

Catalog device ID:
    {{ printf "%#04x" .CatalogID }}
{{ if .Probed }}
Device reports:
    {{ printf "%#04x" .DeviceID }} ({{ if .Match }}match{{ else }}MISMATCH{{ end }})
{{ end -}}
`

func writeText(w io.Writer, ci *chipInfo) error {
	t, err := template.New("info").Parse(chipInfoTemplate)
	if err != nil {
		return err
	}
	return t.Execute(w, ci)
}

func newInfoCmd(
	rootConfig *rootConfig, out io.Writer, err io.Writer,
) *ffcli.Command {
	cfg := infoConfig{
		rootConfig: rootConfig,
		out:        out,
		err:        err,
	}

	fs := flag.NewFlagSet("picpro info", flag.ExitOnError)
	fs.BoolVar(&cfg.json, "json", false, "output in json mode")
	fs.BoolVar(&cfg.probe, "probe", false, "also read the device ID from the connected chip")
	rootConfig.registerFlags(fs)

	return addLongHelp(&ffcli.Command{
		Name:       "info",
		ShortUsage: "info -pic <chip> [-probe]",
		ShortHelp:  "Shows the catalog profile of a chip, optionally probing the device.",
		FlagSet:    fs,
		Exec:       cfg.Exec,
	})
}

type chipInfo struct {
	Name          string `json:"name"`
	Core          string `json:"core"`
	ROMSize       int    `json:"rom_size"`
	EEPROMSize    int    `json:"eeprom_size"`
	Flash         bool   `json:"flash"`
	ICSPOnly      bool   `json:"icsp_only"`
	PowerSequence string `json:"power_sequence"`
	CatalogID     uint16 `json:"catalog_id"`
	Probed        bool   `json:"probed,omitempty"`
	DeviceID      uint32 `json:"device_id,omitempty"`
	Match         bool   `json:"match,omitempty"`
}

func newChipInfo(p *chipinfo.Profile) *chipInfo {
	return &chipInfo{
		Name:          p.Name,
		Core:          p.Core.String(),
		ROMSize:       p.ROMSize,
		EEPROMSize:    p.EEPROMSize,
		Flash:         p.FlashChip,
		ICSPOnly:      p.ICSPOnly,
		PowerSequence: p.PowerSequence.String(),
		CatalogID:     p.ChipID,
	}
}

func probeDeviceID(ctx context.Context, c *rootConfig, ci *chipInfo) error {
	sess, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	if err := sess.EnterProgramMode(ctx, c.icsp); err != nil {
		return err
	}
	id, err := sess.ReadDeviceID(ctx)
	if err != nil {
		return err
	}
	if err := sess.ExitProgramMode(ctx); err != nil {
		return err
	}

	ci.Probed = true
	ci.DeviceID = id
	ci.Match = sess.MatchDeviceID(id)
	return nil
}
