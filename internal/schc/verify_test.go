package schc

import (
	"math/rand"
	"testing"
)

// bitwiseCRC32 is the byte-at-a-time form the sender firmware uses.
func bitwiseCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xEDB88320
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}

func TestChecksumKnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{in: "", want: 0x00000000},
		{in: "123456789", want: 0xCBF43926},
		{in: "Hello World", want: 0x4A17B156},
	}
	for _, tc := range tests {
		if got := Checksum([]byte(tc.in)); got != tc.want {
			t.Fatalf("Checksum(%q) = 0x%08X, want 0x%08X", tc.in, got, tc.want)
		}
	}
}

func TestChecksumMatchesSenderAlgorithm(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for n := 0; n < 300; n += 13 {
		data := make([]byte, n)
		r.Read(data)
		if got, want := Checksum(data), bitwiseCRC32(data); got != want {
			t.Fatalf("len %d: Checksum = 0x%08X, reference = 0x%08X", n, got, want)
		}
	}
}

func TestVerify(t *testing.T) {
	data := []byte("Hello World")
	v := Verify(data, 0x4A17B156)
	if !v.Verified || v.Err() != nil {
		t.Fatalf("Verify = %+v, err %v", v, v.Err())
	}
	v = Verify(data, 0x12345678)
	if v.Verified {
		t.Fatalf("expected mismatch")
	}
	if v.Expected != 0x12345678 || v.Actual != 0x4A17B156 {
		t.Fatalf("Verify = %+v", v)
	}
	if !IsKind(v.Err(), KindChecksumMismatch) {
		t.Fatalf("Err = %v", v.Err())
	}
}

func TestVerifyDetectsEverySingleBitFlip(t *testing.T) {
	data := []byte("SCHC no-ack payload\x01\x02")
	want := Checksum(data)
	for i := range data {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			if v := Verify(flipped, want); v.Verified {
				t.Fatalf("flip byte %d bit %d not detected", i, bit)
			}
		}
	}
}
