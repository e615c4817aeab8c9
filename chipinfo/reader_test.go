package chipinfo

import (
	"errors"
	"strings"
	"testing"
)

const sampleCatalog = `' picpro chip catalog excerpt
CHIPname=16F887
EraseMode=6
FlashChip=Y
PowerSequence=VccVpp1
ProgramDelay=10
ProgramTries=1
OverProgram=0
CoreType=bit14_g
ROMsize=2000
EEPROMsize=100
FUSEblank=3fff 3fff
ICSPonly=N
ChipID=20F0

CHIPname=16C54
EraseMode=0
FlashChip=N
PowerSequence=Vpp1Vcc
ProgramDelay=20
ProgramTries=8
OverProgram=11
CoreType=bit12_a
ROMsize=200
EEPROMsize=0
FUSEblank=fff
ICSPonly=N
ChipID=0
LIST4 FUSE1 "OSC" RC=3 HS=2 XT=1 LP=0

CHIPname=18F2550
EraseMode=1
FlashChip=Y
PowerSequence=VccVpp1
ProgramDelay=10
ProgramTries=1
OverProgram=0
CoreType=bit16_a
ROMsize=8000
EEPROMsize=100
FUSEblank=ffff ffff ffff ffff ffff ffff ffff
ICSPonly=Y
ChipID=1240
`

func loadSample(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadReader(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLookup16F887(t *testing.T) {
	c := loadSample(t)

	p, err := c.Lookup("16f887")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "16f887" {
		t.Errorf("name = %q", p.Name)
	}
	if p.ROMSize != 8192 {
		t.Errorf("rom size = %d, want 8192", p.ROMSize)
	}
	if p.EEPROMSize != 256 {
		t.Errorf("eeprom size = %d, want 256", p.EEPROMSize)
	}
	if p.ChipID != 0x20f0 {
		t.Errorf("chip id = %#x, want 0x20f0", p.ChipID)
	}
	if p.Core != CoreEnhanced14 {
		t.Errorf("core = %v, want %v", p.Core, CoreEnhanced14)
	}
	if !p.FlashChip {
		t.Error("flash chip = false")
	}
	if p.ICSPOnly {
		t.Error("icsp only = true")
	}
	if p.PowerSequence != PowerVccVpp1 {
		t.Errorf("power sequence = %v", p.PowerSequence)
	}
	if p.ProgramDelay != 10 || p.ProgramTries != 1 || p.OverProgram != 0 {
		t.Errorf("timing = %d/%d/%d", p.ProgramDelay, p.ProgramTries, p.OverProgram)
	}
	if len(p.FuseBlank) != 2 || p.FuseBlank[0] != 0x3fff {
		t.Errorf("fuse blank = %#v", p.FuseBlank)
	}
}

func TestCoreTypes(t *testing.T) {
	c := loadSample(t)

	for name, want := range map[string]CoreType{
		"16f887":  CoreEnhanced14,
		"16c54":   CoreClassic12,
		"18f2550": CorePIC18,
	} {
		p, err := c.Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		if p.Core != want {
			t.Errorf("%s: core = %v, want %v", name, p.Core, want)
		}
	}
}

func TestNamesSorted(t *testing.T) {
	c := loadSample(t)

	names := c.Names()
	if len(names) != 3 || c.Len() != 3 {
		t.Fatalf("names = %v", names)
	}
	want := []string{"16c54", "16f887", "18f2550"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	c := loadSample(t)

	if _, err := c.Lookup("16f9999"); !errors.Is(err, ErrUnknownChip) {
		t.Errorf("err = %v, want ErrUnknownChip", err)
	}
	// Lookup is exact match on the normalized name; callers lower-case.
	if _, err := c.Lookup("16F887"); !errors.Is(err, ErrUnknownChip) {
		t.Errorf("err = %v, want ErrUnknownChip", err)
	}
}

func TestLoadFailures(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want any
	}{
		{
			"duplicate identifier",
			sampleCatalog + "\nCHIPname=16F887\nCoreType=bit14_g\nROMsize=2000\nEEPROMsize=100\nFlashChip=Y\nICSPonly=N\n",
			new(*DuplicateError),
		},
		{
			"bad rom size",
			"CHIPname=16F887\nROMsize=banana\nEEPROMsize=100\nCoreType=bit14_g\nFlashChip=Y\nICSPonly=N\n",
			new(*ParseError),
		},
		{
			"bad flag",
			"CHIPname=16F887\nROMsize=2000\nEEPROMsize=100\nCoreType=bit14_g\nFlashChip=maybe\nICSPonly=N\n",
			new(*ParseError),
		},
		{
			"unknown core type",
			"CHIPname=16F887\nROMsize=2000\nEEPROMsize=100\nCoreType=bit99_z\nFlashChip=Y\nICSPonly=N\n",
			new(*ParseError),
		},
		{
			"truncated record",
			"CHIPname=16F887\nROMsize=2000\n",
			new(*ParseError),
		},
		{
			"body before record",
			"ROMsize=2000\nCHIPname=16F887\n",
			new(*ParseError),
		},
		{
			"not a record line",
			"CHIPname=16F887\nROMsize 2000\n",
			new(*ParseError),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadReader(strings.NewReader(tc.in))
			if err == nil {
				t.Fatal("load succeeded")
			}
			if !errors.As(err, tc.want) {
				t.Errorf("err = %v (%T)", err, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir() + "/nope.cid"); err == nil {
		t.Fatal("load succeeded")
	}
}
