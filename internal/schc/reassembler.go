package schc

import "bytes"

// Depadder removes transport padding from a single fragment payload. It must
// not modify its input.
type Depadder func(payload []byte) []byte

// TrimTrailingZeros strips the trailing 0x00 run of a payload. Interior zero
// bytes are kept. Because the scheme carries no length, a message whose last
// real bytes are 0x00 loses them.
func TrimTrailingZeros(payload []byte) []byte {
	return bytes.TrimRight(payload, "\x00")
}

// NoDepadding keeps payloads unchanged, for links that do not pad.
func NoDepadding(payload []byte) []byte {
	return payload
}

// Reassemble concatenates the de-padded payloads of a validated sequence.
// A nil depadder selects TrimTrailingZeros.
func Reassemble(seq OrderedSequence, depad Depadder) []byte {
	if depad == nil {
		depad = TrimTrailingZeros
	}
	size := 0
	for _, f := range seq.fragments {
		size += len(f.payload)
	}
	out := make([]byte, 0, size)
	for _, f := range seq.fragments {
		out = append(out, depad(f.payload)...)
	}
	return out
}
