package chipinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ParseError describes a malformed catalog record.
type ParseError struct {
	Line  int
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("chipinfo: line %d: field %s: %s", e.Line, e.Field, e.Msg)
	}
	return fmt.Sprintf("chipinfo: line %d: %s", e.Line, e.Msg)
}

// DuplicateError reports two records sharing one chip identifier.
type DuplicateError struct {
	Name string
	Line int
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("chipinfo: line %d: duplicate chip %q", e.Line, e.Name)
}

// Load reads and parses a catalog file.
//
// The whole file is parsed up front; any malformed record, duplicate
// identifier or truncated final record fails Load rather than a later
// Lookup.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chipinfo: %w", err)
	}
	defer f.Close()

	return LoadReader(f)
}

// LoadReader parses catalog records from r.
func LoadReader(r io.Reader) (*Catalog, error) {
	c := &Catalog{profiles: make(map[string]*Profile)}

	var (
		rec     *record
		scanner = bufio.NewScanner(r)
		line    int
	)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "'") {
			continue
		}

		key, value, ok := strings.Cut(text, "=")
		if !ok {
			// Fuse value list lines belong to the current record but carry
			// no parameters the programmer core needs.
			if rec != nil && strings.HasPrefix(strings.ToUpper(text), "LIST") {
				continue
			}
			return nil, &ParseError{Line: line, Msg: "not a KEY=VALUE line"}
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "CHIPNAME" {
			if err := c.add(rec); err != nil {
				return nil, err
			}
			rec = &record{line: line}
			rec.p.Name = strings.ToLower(value)
			continue
		}
		if rec == nil {
			return nil, &ParseError{Line: line, Field: key, Msg: "record body before any CHIPname"}
		}
		if err := rec.set(line, key, value); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("chipinfo: %w", err)
	}
	if err := c.add(rec); err != nil {
		return nil, err
	}

	c.names = make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	return c, nil
}

// record accumulates one chip definition while its lines are scanned.
type record struct {
	p    Profile
	line int
	seen map[string]bool
}

// Keys every record must carry before the next CHIPname or EOF.
var mandatoryKeys = []string{"ROMSIZE", "EEPROMSIZE", "CORETYPE", "FLASHCHIP", "ICSPONLY"}

func (rec *record) set(line int, key, value string) error {
	var err error
	switch key {
	case "ROMSIZE":
		rec.p.ROMSize, err = parseHexInt(line, key, value)
	case "EEPROMSIZE":
		rec.p.EEPROMSize, err = parseHexInt(line, key, value)
	case "CHIPID":
		var id int
		if id, err = parseHexInt(line, key, value); err == nil {
			rec.p.ChipID = uint16(id)
		}
	case "CORETYPE":
		rec.p.Core, err = coreTypeFromTag(value)
		if err != nil {
			return &ParseError{Line: line, Field: key, Msg: err.Error()}
		}
	case "FLASHCHIP":
		rec.p.FlashChip, err = parseYesNo(line, key, value)
	case "ICSPONLY":
		rec.p.ICSPOnly, err = parseYesNo(line, key, value)
	case "ERASEMODE":
		rec.p.EraseMode, err = parseDecInt(line, key, value)
	case "POWERSEQUENCE":
		rec.p.PowerSequence, err = powerSequenceFromTag(value)
		if err != nil {
			return &ParseError{Line: line, Field: key, Msg: err.Error()}
		}
	case "PROGRAMDELAY":
		rec.p.ProgramDelay, err = parseDecInt(line, key, value)
	case "PROGRAMTRIES":
		rec.p.ProgramTries, err = parseDecInt(line, key, value)
	case "OVERPROGRAM":
		rec.p.OverProgram, err = parseDecInt(line, key, value)
	case "FUSEBLANK":
		rec.p.FuseBlank, err = parseHexWords(line, key, value)
	default:
		// Fielded catalogs carry socket images, fuse menus and other
		// programmer-UI metadata. Skip what the core does not consume.
		return nil
	}
	if err != nil {
		return err
	}
	if rec.seen == nil {
		rec.seen = make(map[string]bool)
	}
	rec.seen[key] = true
	return nil
}

// add validates a finished record and stores it in the catalog.
func (c *Catalog) add(rec *record) error {
	if rec == nil {
		return nil
	}
	if rec.p.Name == "" {
		return &ParseError{Line: rec.line, Field: "CHIPname", Msg: "empty chip name"}
	}
	for _, key := range mandatoryKeys {
		if !rec.seen[key] {
			return &ParseError{Line: rec.line, Field: key, Msg: "missing in record " + rec.p.Name}
		}
	}
	if _, ok := c.profiles[rec.p.Name]; ok {
		return &DuplicateError{Name: rec.p.Name, Line: rec.line}
	}

	p := rec.p
	c.profiles[p.Name] = &p
	return nil
}

func parseHexInt(line int, key, value string) (int, error) {
	n, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return 0, &ParseError{Line: line, Field: key, Msg: "bad hex value " + strconv.Quote(value)}
	}
	return int(n), nil
}

func parseDecInt(line int, key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, &ParseError{Line: line, Field: key, Msg: "bad decimal value " + strconv.Quote(value)}
	}
	return n, nil
}

func parseYesNo(line int, key, value string) (bool, error) {
	switch strings.ToUpper(value) {
	case "Y", "1":
		return true, nil
	case "N", "0":
		return false, nil
	default:
		return false, &ParseError{Line: line, Field: key, Msg: "expected Y or N, got " + strconv.Quote(value)}
	}
}

func parseHexWords(line int, key, value string) ([]uint16, error) {
	fields := strings.Fields(value)
	words := make([]uint16, 0, len(fields))
	for _, f := range fields {
		w, err := strconv.ParseUint(f, 16, 16)
		if err != nil {
			return nil, &ParseError{Line: line, Field: key, Msg: "bad hex word " + strconv.Quote(f)}
		}
		words = append(words, uint16(w))
	}
	return words, nil
}
