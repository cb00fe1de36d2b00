package schc

import (
	"fmt"
	"hash/crc32"
)

// Checksum computes the reassembly check sequence: reflected CRC-32,
// polynomial 0xEDB88320, initial value and final XOR 0xFFFFFFFF.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verification is the outcome of comparing the carried and computed RCS.
// A mismatch is an expected result on a lossy link, not an error.
type Verification struct {
	Expected uint32 `json:"expected"`
	Actual   uint32 `json:"actual"`
	Verified bool   `json:"verified"`
}

// Verify recomputes the checksum over the reassembled bytes.
func Verify(data []byte, expected uint32) Verification {
	actual := Checksum(data)
	return Verification{Expected: expected, Actual: actual, Verified: actual == expected}
}

// Err returns a ChecksumMismatch error for a failed verification and nil
// otherwise.
func (v Verification) Err() error {
	if v.Verified {
		return nil
	}
	return newError(KindChecksumMismatch, "checksum mismatch: expected 0x%08X, computed 0x%08X", v.Expected, v.Actual)
}

func (v Verification) String() string {
	status := "verified"
	if !v.Verified {
		status = "mismatch"
	}
	return fmt.Sprintf("rcs expected=0x%08X actual=0x%08X (%s)", v.Expected, v.Actual, status)
}
