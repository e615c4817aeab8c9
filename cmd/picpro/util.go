package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/faymaz/picpro/chipinfo"
	"github.com/faymaz/picpro/icsp"
	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/zap"
)

const chipDataName = "chipdata.cid"

func newCatalog(c *rootConfig) (*chipinfo.Catalog, error) {
	path, err := findChipData(c.chipdata)
	if err != nil {
		return nil, err
	}
	return chipinfo.Load(path)
}

// findChipData resolves the catalog path: the -chipdata flag wins, then the
// working directory, then the directory holding the picpro binary.
func findChipData(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}

	candidates := []string{chipDataName}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), chipDataName))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("picpro: %s not found, use -chipdata", chipDataName)
}

func newProfile(c *rootConfig) (*chipinfo.Profile, error) {
	if c.pic == "" {
		return nil, errors.New("picpro: no chip selected, use -pic")
	}
	catalog, err := newCatalog(c)
	if err != nil {
		return nil, err
	}
	return catalog.Lookup(strings.ToLower(c.pic))
}

func sessionConfig(c *rootConfig) icsp.Config {
	cfg := icsp.DefaultConfig()
	cfg.Baud = c.baud
	cfg.Timeout = c.timeout
	cfg.Debug = newLogger(c.verbose)
	return cfg
}

func newSession(ctx context.Context, c *rootConfig) (*icsp.Session, error) {
	if c.port == "" {
		return nil, errors.New("picpro: no port selected, use -port or run detect")
	}
	profile, err := newProfile(c)
	if err != nil {
		return nil, err
	}

	cfg := sessionConfig(c)
	link, err := icsp.OpenSerial(c.port, cfg)
	if err != nil {
		return nil, err
	}

	sess, err := icsp.Open(ctx, link, profile, cfg)
	if err != nil {
		if cerr := link.Close(); cerr != nil && c.verbose {
			fmt.Fprintf(os.Stderr, "close link: %v\n", cerr)
		}
		return nil, err
	}
	return sess, nil
}

func newLogger(verbose bool) icsp.Logger {
	if !verbose {
		return nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	z, err := cfg.Build()
	if err != nil {
		return log.New(os.Stderr, "", 0)
	}
	return zap.NewStdLog(z)
}

func prettyHex(data []byte) string {
	return prettyHexIndent(data, "    ", "")
}

func prettyHexIndent(data []byte, prefix string, space string) string {
	var buf strings.Builder

	// per row: prefix plus mid-row spacer, 16 bytes of 2 hex and a space
	cols := 16
	buf.Grow((len(data)/cols+1)*(len(prefix)+len(space)+1) + len(data)*3)

	for i, b := range data {
		if i > 0 {
			switch i % cols {
			case 0:
				buf.WriteByte('\n')
			case cols / 2:
				buf.WriteByte(' ')
				buf.WriteString(space)
			default:
				buf.WriteByte(' ')
			}
		}
		if i%cols == 0 {
			buf.WriteString(prefix)
		}

		fmt.Fprintf(&buf, "%02X", b)
	}

	return buf.String()
}

func writeJSON(w io.Writer, data any) error {
	j, err := json.MarshalIndent(data, "", " ")
	if err != nil {
		return err
	}
	_, err = w.Write(j)
	return err
}

func addLongHelp(cmd *ffcli.Command) *ffcli.Command {
	if cmd.LongHelp == "" {
		cmd.LongHelp = cmd.ShortHelp
	}

	cmd.LongHelp += picproLongHelp

	return cmd
}
