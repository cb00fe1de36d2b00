package schc

import (
	"errors"
	"fmt"
	"io"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithLayout selects a non-default header layout.
func WithLayout(l Layout) Option {
	return func(e *Engine) error {
		if err := l.Validate(); err != nil {
			return err
		}
		e.layout = l
		return nil
	}
}

// WithDepadder replaces the trailing-zero padding strategy.
func WithDepadder(d Depadder) Option {
	return func(e *Engine) error {
		if d == nil {
			return errors.New("nil depadder")
		}
		e.depad = d
		return nil
	}
}

// WithExpectedRuleID reports fragments whose rule id differs from id. Such
// fragments still take part in reassembly.
func WithExpectedRuleID(id uint8) Option {
	return func(e *Engine) error {
		if int(id) >= 1<<int(e.layout.RuleIDBits) {
			return fmt.Errorf("rule id %d does not fit in %d bits", id, e.layout.RuleIDBits)
		}
		e.ruleID = &id
		return nil
	}
}

// Engine runs the decode → validate → reassemble → verify → decode pipeline.
// It holds only immutable configuration and may be shared between goroutines,
// one Run per message.
type Engine struct {
	layout Layout
	depad  Depadder
	ruleID *uint8
}

// NewEngine builds an engine with DefaultLayout and TrimTrailingZeros unless
// overridden. Options are applied in order, so WithLayout must precede
// WithExpectedRuleID when both are given.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{layout: DefaultLayout, depad: TrimTrailingZeros}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Layout returns the header layout in use.
func (e *Engine) Layout() Layout {
	return e.layout
}

// Result is the outcome of one pipeline run. Sequence, Checksum and Message
// are nil when the run stopped before reaching the corresponding stage.
type Result struct {
	Success     bool          `json:"success"`
	Sequence    []int         `json:"sequence"`
	MissingFCNs []int         `json:"missingFcns"`
	Checksum    *Verification `json:"checksum"`
	Message     *Message      `json:"message"`
	Error       *Error        `json:"error"`

	Anomalies     []Anomaly `json:"anomalies,omitempty"`
	Malformed     []Error   `json:"malformed,omitempty"`
	Fragments     int       `json:"fragments"`
	PayloadLength int       `json:"payloadLength"`
	Payload       []byte    `json:"payload,omitempty"`
}

// Outcome summarises the result as a single label: "Verified" or the error
// kind.
func (r Result) Outcome() string {
	if r.Success {
		return "Verified"
	}
	if r.Error != nil {
		return string(r.Error.Kind)
	}
	return "Unknown"
}

// Decode parses every raw fragment. Malformed fragments are returned
// separately and never abort decoding of the rest.
func (e *Engine) Decode(raw []RawFragment) (FragmentSet, []Error) {
	set := make(FragmentSet, 0, len(raw))
	var bad []Error
	for _, r := range raw {
		f, err := e.layout.DecodeFragment(r.Data, r.Ref)
		if err != nil {
			bad = append(bad, *asError(err))
			continue
		}
		set = append(set, f)
	}
	return set, bad
}

// Run decodes and reassembles one message worth of raw fragments.
func (e *Engine) Run(raw []RawFragment) Result {
	set, bad := e.Decode(raw)
	res := e.RunSet(set)
	res.Malformed = bad
	return res
}

// RunSupplier drains s and runs the pipeline over everything it yielded.
// Only supplier failures are returned as errors; pipeline failures are part
// of the Result.
func (e *Engine) RunSupplier(s Supplier) (Result, error) {
	raw, err := Collect(s)
	if err != nil {
		return Result{}, err
	}
	return e.Run(raw), nil
}

// RunSet runs the pipeline over already decoded fragments.
func (e *Engine) RunSet(set FragmentSet) Result {
	res := Result{Fragments: len(set)}
	if e.ruleID != nil {
		for _, f := range set {
			if f.RuleID != *e.ruleID {
				res.Anomalies = append(res.Anomalies, Anomaly{
					Kind:    AnomalyRuleMismatch,
					FCN:     int(f.FCN),
					Ref:     f.Ref,
					Message: fmt.Sprintf("rule id %d, expected %d", f.RuleID, *e.ruleID),
				})
			}
		}
	}

	seq, anomalies, err := Validate(set)
	res.Anomalies = append(res.Anomalies, anomalies...)
	if err != nil {
		res.Error = asError(err)
		res.MissingFCNs = res.Error.Missing
		return res
	}
	res.Sequence = seq.FCNs()

	payload := Reassemble(seq, e.depad)
	res.Payload = payload
	res.PayloadLength = len(payload)

	v := Verify(payload, seq.Final().Checksum)
	res.Checksum = &v
	msg := DecodeMessage(payload)
	msg.BestEffort = !v.Verified
	res.Message = &msg
	if err := v.Err(); err != nil {
		res.Error = asError(err)
		return res
	}
	res.Success = true
	return res
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindMalformedFragment, Message: err.Error()}
}

// Supplier yields the raw fragments of one message in arbitrary order. Next
// returns io.EOF once exhausted.
type Supplier interface {
	Next() (RawFragment, error)
}

// SliceSupplier serves fragments from memory.
type SliceSupplier struct {
	frags []RawFragment
	pos   int
}

func NewSliceSupplier(frags ...RawFragment) *SliceSupplier {
	return &SliceSupplier{frags: frags}
}

func (s *SliceSupplier) Next() (RawFragment, error) {
	if s.pos >= len(s.frags) {
		return RawFragment{}, io.EOF
	}
	f := s.frags[s.pos]
	s.pos++
	return f, nil
}

// Collect drains a supplier.
func Collect(s Supplier) ([]RawFragment, error) {
	if s == nil {
		return nil, errors.New("nil supplier")
	}
	var out []RawFragment
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}
