package codec

import (
	"strings"
	"testing"
)

func TestCRC16KnownVector(t *testing.T) {
	// CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no reflection, no final
	// XOR) of the ASCII bytes "123456789" is the well known 0x29B1.
	got := CRC16([]byte("123456789"))
	if got != 0x29B1 {
		t.Fatalf("CRC16(123456789) = 0x%04X, want 0x29B1", got)
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		fn   FuncCode
		addr uint16
		args []byte
	}{
		{"read-group1", FuncReadGroup1, 0x4707, nil},
		{"read-group2", FuncReadGroup2, 0xC9A5, nil},
		{"write-group1", FuncWriteGroup1, 0x4707, []byte{0xFF, 0, 0, 0, 0, 0, 0xFF}},
		{"write-group2", FuncWriteGroup2, 0xC9A5, []byte{0, 0, 0, 0, 0, 0x80, 0xFF}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			line := strings.TrimSuffix(Build(c.fn, c.addr, true, c.args), "\r")
			f, err := Parse(line)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", line, err)
			}
			if f.Func != c.fn {
				t.Errorf("Func = 0x%02X, want 0x%02X", f.Func, c.fn)
			}
			if !f.HasAddr || f.Address != c.addr {
				t.Errorf("Address = 0x%04X (hasAddr=%v), want 0x%04X", f.Address, f.HasAddr, c.addr)
			}
			if len(c.args) > 0 && string(f.Args) != string(c.args) {
				t.Errorf("Args = %x, want %x", f.Args, c.args)
			}
		})
	}
}

func TestParseRejectsCrc8Mismatch(t *testing.T) {
	line := strings.TrimSuffix(Build(FuncReadGroup1, 0x4707, true, nil), "\r")
	corrupted := line[:len(line)-1] + "0"
	if corrupted == line {
		corrupted = line[:len(line)-1] + "1"
	}
	if _, err := Parse(corrupted); err == nil {
		t.Fatalf("Parse accepted a frame with a corrupted CRC8")
	} else if rej, ok := err.(*FrameRejectedError); !ok || rej.Kind != ErrCrc8Mismatch {
		t.Fatalf("expected ErrCrc8Mismatch, got %v", err)
	}
}

func TestParseRejectsNonHexLength(t *testing.T) {
	if _, err := Parse("$ZZ1234"); err == nil {
		t.Fatalf("Parse accepted a non-hex LL field")
	}
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	line := strings.TrimSuffix(Build(FuncReadGroup1, 0x4707, true, nil), "\r")
	truncated := line[:len(line)-2]
	if _, err := Parse(truncated); err == nil {
		t.Fatalf("Parse accepted a truncated frame")
	}
}

func TestParseExtractsSecondDollarFrame(t *testing.T) {
	line := strings.TrimSuffix(Build(FuncReadGroup1, 0x4707, true, nil), "\r")
	echoed := "$garbage" + line
	f, err := Parse(echoed)
	if err != nil {
		t.Fatalf("Parse of echo-concatenated frame failed: %v", err)
	}
	if f.Func != FuncReadGroup1 || f.Address != 0x4707 {
		t.Fatalf("decoded wrong frame from echo-concatenation: %+v", f)
	}
}

func TestBuildButtonPress(t *testing.T) {
	got := BuildButtonPress("4ecb1a")
	want := "#N4ECB1A\r#E1\r"
	if got != want {
		t.Fatalf("BuildButtonPress = %q, want %q", got, want)
	}
}
