package schc

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the rule id + FCN header in bytes.
	HeaderSize = 1
	// ChecksumSize is the size of the RCS field carried by the final fragment.
	ChecksumSize = 4

	defaultRuleIDBits = 2
	defaultFCNBits    = 6
)

// Layout describes how the one-byte fragment header is split between the
// rule id (upper bits) and the FCN (lower bits).
type Layout struct {
	RuleIDBits uint8 `json:"ruleIdBits" yaml:"ruleIdBits"`
	FCNBits    uint8 `json:"fcnBits" yaml:"fcnBits"`
}

// DefaultLayout is the 2-bit rule id / 6-bit FCN header. Its all-ones FCN is
// 63, leaving 63 ordinal fragments per message.
var DefaultLayout = Layout{RuleIDBits: defaultRuleIDBits, FCNBits: defaultFCNBits}

var ErrInvalidLayout = errors.New("invalid header layout")

// Validate checks that the layout fills exactly one header byte.
func (l Layout) Validate() error {
	if l.FCNBits == 0 {
		return fmt.Errorf("%w: fcn width must be at least 1 bit", ErrInvalidLayout)
	}
	if int(l.RuleIDBits)+int(l.FCNBits) != 8*HeaderSize {
		return fmt.Errorf("%w: rule id (%d bits) + fcn (%d bits) must equal %d bits",
			ErrInvalidLayout, l.RuleIDBits, l.FCNBits, 8*HeaderSize)
	}
	return nil
}

// AllOnes returns the FCN sentinel marking the final fragment.
func (l Layout) AllOnes() uint8 {
	return uint8(int(1)<<l.FCNBits - 1)
}

// MaxFragments is the number of ordinal (non-final) FCN values available.
func (l Layout) MaxFragments() int {
	return int(l.AllOnes())
}

func (l Layout) split(b byte) (ruleID, fcn uint8) {
	mask := l.AllOnes()
	return b >> l.FCNBits, b & mask
}

// Header packs a rule id and FCN into a header byte.
func (l Layout) Header(ruleID, fcn uint8) byte {
	return ruleID<<l.FCNBits | fcn&l.AllOnes()
}

// Fragment is one decoded fragment. It is never modified after decoding; the
// payload is a private copy of the wire bytes.
type Fragment struct {
	RuleID  uint8  `json:"ruleId"`
	FCN     uint8  `json:"fcn"`
	IsFinal bool   `json:"isFinal"`
	// Checksum is only meaningful when IsFinal is set.
	Checksum uint32 `json:"checksum,omitempty"`
	Ref      string `json:"ref,omitempty"`

	payload []byte
}

// Payload returns a copy of the fragment payload.
func (f Fragment) Payload() []byte {
	out := make([]byte, len(f.payload))
	copy(out, f.payload)
	return out
}

// PayloadLen returns the payload size in bytes.
func (f Fragment) PayloadLen() int {
	return len(f.payload)
}

func (f Fragment) String() string {
	if f.IsFinal {
		return fmt.Sprintf("Fragment(fcn=%d, final, rcs=0x%08X, payload=%d)", f.FCN, f.Checksum, len(f.payload))
	}
	return fmt.Sprintf("Fragment(fcn=%d, payload=%d)", f.FCN, len(f.payload))
}

// FragmentSet is an unordered collection of fragments believed to belong to
// one message. Grouping is the supplier's responsibility.
type FragmentSet []Fragment

// OrderedSequence is a validated fragment sequence: normals with FCN
// 0..k-1 ascending, followed by exactly one final fragment. It can only be
// built by Validate.
type OrderedSequence struct {
	fragments []Fragment
}

// Fragments returns the ordered fragments, final last.
func (s OrderedSequence) Fragments() []Fragment {
	out := make([]Fragment, len(s.fragments))
	copy(out, s.fragments)
	return out
}

// Final returns the final fragment of the sequence.
func (s OrderedSequence) Final() Fragment {
	if len(s.fragments) == 0 {
		return Fragment{}
	}
	return s.fragments[len(s.fragments)-1]
}

// FCNs returns the FCN of every fragment in order.
func (s OrderedSequence) FCNs() []int {
	out := make([]int, len(s.fragments))
	for i, f := range s.fragments {
		out[i] = int(f.FCN)
	}
	return out
}

// Len returns the number of fragments including the final one.
func (s OrderedSequence) Len() int {
	return len(s.fragments)
}

// RawFragment is what a supplier yields: wire bytes plus a provenance token
// used for diagnostics only.
type RawFragment struct {
	Data []byte
	Ref  string
}

type AnomalyKind string

const (
	AnomalyDuplicateFinal AnomalyKind = "DuplicateFinal"
	AnomalyDuplicateFCN   AnomalyKind = "DuplicateFCN"
	AnomalyRuleMismatch   AnomalyKind = "RuleMismatch"
)

// Anomaly is a non-fatal irregularity noticed while validating a set.
type Anomaly struct {
	Kind AnomalyKind `json:"kind"`
	FCN  int         `json:"fcn"`
	// Ref identifies the fragment that was set aside, KeptRef the one used.
	Ref     string `json:"ref,omitempty"`
	KeptRef string `json:"keptRef,omitempty"`
	// Conflicting is set when a duplicate disagrees with the kept fragment.
	Conflicting bool   `json:"conflicting,omitempty"`
	Message     string `json:"message"`
}
