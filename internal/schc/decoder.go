package schc

import "encoding/binary"

// DecodeFragment parses one fragment using DefaultLayout.
func DecodeFragment(buf []byte, ref string) (Fragment, error) {
	return DefaultLayout.DecodeFragment(buf, ref)
}

// DecodeFragment parses one raw fragment buffer. Final fragments (all-ones
// FCN) carry a big-endian CRC-32 right after the header.
func (l Layout) DecodeFragment(buf []byte, ref string) (Fragment, error) {
	if len(buf) < HeaderSize {
		return Fragment{}, malformed(ref, "fragment %s is empty", refLabel(ref))
	}
	ruleID, fcn := l.split(buf[0])
	f := Fragment{RuleID: ruleID, FCN: fcn, Ref: ref}
	start := HeaderSize
	if fcn == l.AllOnes() {
		if len(buf) < HeaderSize+ChecksumSize {
			return Fragment{}, malformed(ref, "final fragment %s has %d bytes, need at least %d for the checksum",
				refLabel(ref), len(buf), HeaderSize+ChecksumSize)
		}
		f.IsFinal = true
		f.Checksum = binary.BigEndian.Uint32(buf[HeaderSize : HeaderSize+ChecksumSize])
		start += ChecksumSize
	}
	f.payload = append([]byte(nil), buf[start:]...)
	return f, nil
}

func refLabel(ref string) string {
	if ref == "" {
		return "<unnamed>"
	}
	return ref
}
