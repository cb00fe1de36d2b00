// Package schctest provides a reference NO-ACK fragmenter for tests and
// sample generation. It mirrors the sender: fixed-size wire units, zero
// padding at the tail, and a CRC-32 over the whole message in the final
// fragment.
package schctest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"example.com/schcgate/internal/schc"
)

// DefaultMTU is the wire unit of the satellite uplink the gateway serves.
const DefaultMTU = 20

var ErrTooLarge = errors.New("message does not fit in the FCN space")

// Fragmenter splits messages into padded fragments.
type Fragmenter struct {
	MTU    int
	RuleID uint8
	Layout schc.Layout
	// NoPad leaves fragments at their natural length.
	NoPad bool
}

// New returns a fragmenter with the default layout, rule id 1 and a 20-byte
// MTU.
func New() Fragmenter {
	return Fragmenter{MTU: DefaultMTU, RuleID: 1, Layout: schc.DefaultLayout}
}

// Fragment splits msg into wire fragments, normals first (FCN 0..k-1) and the
// final fragment last.
func (fr Fragmenter) Fragment(msg []byte) ([][]byte, error) {
	layout := fr.Layout
	if layout == (schc.Layout{}) {
		layout = schc.DefaultLayout
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	mtu := fr.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	normalSpace := mtu - schc.HeaderSize
	finalSpace := mtu - schc.HeaderSize - schc.ChecksumSize
	if finalSpace < 0 {
		return nil, fmt.Errorf("mtu %d too small for the final fragment", mtu)
	}
	if normalSpace < 1 && len(msg) > finalSpace {
		return nil, fmt.Errorf("mtu %d leaves no room for payload", mtu)
	}

	var out [][]byte
	rest := msg
	fcn := 0
	for len(rest) > finalSpace {
		if fcn >= layout.MaxFragments() {
			return nil, fmt.Errorf("%w: more than %d fragments needed", ErrTooLarge, layout.MaxFragments())
		}
		n := normalSpace
		if n > len(rest) {
			n = len(rest)
		}
		pkt := fr.packet(mtu, 1+n)
		pkt[0] = layout.Header(fr.RuleID, uint8(fcn))
		copy(pkt[1:], rest[:n])
		out = append(out, pkt)
		rest = rest[n:]
		fcn++
	}

	pkt := fr.packet(mtu, schc.HeaderSize+schc.ChecksumSize+len(rest))
	pkt[0] = layout.Header(fr.RuleID, layout.AllOnes())
	binary.BigEndian.PutUint32(pkt[1:5], schc.Checksum(msg))
	copy(pkt[5:], rest)
	out = append(out, pkt)
	return out, nil
}

func (fr Fragmenter) packet(mtu, natural int) []byte {
	if fr.NoPad {
		return make([]byte, natural)
	}
	return make([]byte, mtu)
}

// Raw wraps wire fragments as supplier input with refs "<prefix>-<index>".
func Raw(frags [][]byte, prefix string) []schc.RawFragment {
	out := make([]schc.RawFragment, len(frags))
	for i, f := range frags {
		out[i] = schc.RawFragment{Data: f, Ref: fmt.Sprintf("%s-%d", prefix, i)}
	}
	return out
}

// Shuffle returns a permuted copy of raw.
func Shuffle(r *rand.Rand, raw []schc.RawFragment) []schc.RawFragment {
	out := make([]schc.RawFragment, len(raw))
	copy(out, raw)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// NonZeroBytes returns n random bytes in 1..255. Zero bytes at a fragment
// boundary are indistinguishable from padding, so round-trip material avoids
// them.
func NonZeroBytes(r *rand.Rand, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(1 + r.Intn(255))
	}
	return out
}
