package schc

import (
	"bytes"
	"testing"
)

func TestTrimTrailingZeros(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{name: "no padding", in: []byte("abc"), want: []byte("abc")},
		{name: "padding", in: []byte("ab\x00\x00\x00"), want: []byte("ab")},
		{name: "interior zeros kept", in: []byte("a\x00\x00b\x00"), want: []byte("a\x00\x00b")},
		{name: "all zero", in: make([]byte, 15), want: []byte{}},
		{name: "empty", in: nil, want: []byte{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := append([]byte(nil), tc.in...)
			got := TrimTrailingZeros(in)
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("TrimTrailingZeros(%x) = %x, want %x", tc.in, got, tc.want)
			}
			if !bytes.Equal(in, tc.in) {
				t.Fatalf("input modified: %x", in)
			}
		})
	}
}

func TestReassembleStripsEachFragment(t *testing.T) {
	seq, _, err := Validate(FragmentSet{
		normalFragment(0, "ab\x00c\x00\x00", ""),
		normalFragment(1, "\x00\x00", ""),
		normalFragment(2, "de", ""),
		finalFragment(0, "f\x00", ""),
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := Reassemble(seq, TrimTrailingZeros)
	if want := []byte("ab\x00cdef"); !bytes.Equal(got, want) {
		t.Fatalf("Reassemble = %q, want %q", got, want)
	}
}

func TestReassembleTrailingZeroDataIsLost(t *testing.T) {
	// Real trailing 0x00 bytes look exactly like padding.
	seq, _, err := Validate(FragmentSet{
		normalFragment(0, "counter", ""),
		finalFragment(0, "\x01\x00\x00", ""),
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := Reassemble(seq, nil)
	if want := []byte("counter\x01"); !bytes.Equal(got, want) {
		t.Fatalf("Reassemble = %q, want %q", got, want)
	}
}

func TestReassembleCustomDepadder(t *testing.T) {
	seq, _, err := Validate(FragmentSet{
		normalFragment(0, "a\x00", ""),
		finalFragment(0, "b\x00", ""),
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := Reassemble(seq, NoDepadding); !bytes.Equal(got, []byte("a\x00b\x00")) {
		t.Fatalf("NoDepadding = %q", got)
	}
	firstByte := func(p []byte) []byte {
		if len(p) == 0 {
			return p
		}
		return p[:1]
	}
	if got := Reassemble(seq, firstByte); string(got) != "ab" {
		t.Fatalf("custom depadder = %q", got)
	}
}
