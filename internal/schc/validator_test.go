package schc

import (
	"errors"
	"reflect"
	"testing"
)

func normalFragment(fcn uint8, payload, ref string) Fragment {
	return Fragment{RuleID: 1, FCN: fcn, Ref: ref, payload: []byte(payload)}
}

func finalFragment(checksum uint32, payload, ref string) Fragment {
	return Fragment{RuleID: 1, FCN: 63, IsFinal: true, Checksum: checksum, Ref: ref, payload: []byte(payload)}
}

func TestValidateOrdersFragments(t *testing.T) {
	set := FragmentSet{
		normalFragment(2, "c", "r2"),
		finalFragment(7, "end", "rf"),
		normalFragment(0, "a", "r0"),
		normalFragment(1, "b", "r1"),
	}
	seq, anomalies, err := Validate(set)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("unexpected anomalies: %+v", anomalies)
	}
	if got, want := seq.FCNs(), []int{0, 1, 2, 63}; !reflect.DeepEqual(got, want) {
		t.Fatalf("FCNs = %v, want %v", got, want)
	}
	if seq.Final().Ref != "rf" || seq.Len() != 4 {
		t.Fatalf("final = %+v, len = %d", seq.Final(), seq.Len())
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		set     FragmentSet
		kind    Kind
		missing []int
	}{
		{name: "empty set", set: nil, kind: KindNoFinalFragment},
		{name: "no final", set: FragmentSet{normalFragment(0, "a", ""), normalFragment(1, "b", "")}, kind: KindNoFinalFragment},
		{
			name:    "single gap",
			set:     FragmentSet{normalFragment(0, "a", ""), normalFragment(2, "c", ""), finalFragment(0, "", "")},
			kind:    KindIncompleteSequence,
			missing: []int{1},
		},
		{
			name:    "leading gap",
			set:     FragmentSet{normalFragment(1, "b", ""), finalFragment(0, "", "")},
			kind:    KindIncompleteSequence,
			missing: []int{0},
		},
		{
			name:    "several gaps",
			set:     FragmentSet{finalFragment(0, "", ""), normalFragment(5, "f", ""), normalFragment(0, "a", ""), normalFragment(3, "d", "")},
			kind:    KindIncompleteSequence,
			missing: []int{1, 2, 4},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Validate(tc.set)
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if e.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", e.Kind, tc.kind)
			}
			if !reflect.DeepEqual(e.Missing, tc.missing) {
				t.Fatalf("missing = %v, want %v", e.Missing, tc.missing)
			}
		})
	}
}

func TestValidateFinalOnly(t *testing.T) {
	seq, _, err := Validate(FragmentSet{finalFragment(1, "short", "only")})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := seq.FCNs(); !reflect.DeepEqual(got, []int{63}) {
		t.Fatalf("FCNs = %v", got)
	}
}

func TestValidateDuplicateFCNKeepsFirst(t *testing.T) {
	set := FragmentSet{
		normalFragment(1, "B", "late-1"),
		normalFragment(0, "a", "first-0"),
		normalFragment(1, "b", "second-1"),
		normalFragment(0, "a", "dup-0"),
		finalFragment(0, "", "f"),
	}
	seq, anomalies, err := Validate(set)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := string(Reassemble(seq, nil)); got != "aB" {
		t.Fatalf("reassembled %q, want first-in-input fragments", got)
	}
	if len(anomalies) != 2 {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	byFCN := map[int]Anomaly{}
	for _, a := range anomalies {
		if a.Kind != AnomalyDuplicateFCN {
			t.Fatalf("unexpected anomaly kind %s", a.Kind)
		}
		byFCN[a.FCN] = a
	}
	if a := byFCN[0]; a.Conflicting || a.Ref != "dup-0" || a.KeptRef != "first-0" {
		t.Fatalf("fcn 0 anomaly = %+v", a)
	}
	if a := byFCN[1]; !a.Conflicting || a.Ref != "second-1" || a.KeptRef != "late-1" {
		t.Fatalf("fcn 1 anomaly = %+v", a)
	}
}

func TestValidateDuplicateFinal(t *testing.T) {
	set := FragmentSet{
		finalFragment(0x11, "x", "f1"),
		normalFragment(0, "a", "n0"),
		finalFragment(0x22, "x", "f2"),
		finalFragment(0x11, "x", "f3"),
	}
	seq, anomalies, err := Validate(set)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if seq.Final().Ref != "f1" || seq.Final().Checksum != 0x11 {
		t.Fatalf("kept final %+v", seq.Final())
	}
	if len(anomalies) != 2 {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	if a := anomalies[0]; a.Kind != AnomalyDuplicateFinal || a.Ref != "f2" || !a.Conflicting {
		t.Fatalf("first duplicate = %+v", a)
	}
	if a := anomalies[1]; a.Ref != "f3" || a.Conflicting {
		t.Fatalf("second duplicate = %+v", a)
	}
}

func TestValidateOrderIndependent(t *testing.T) {
	base := FragmentSet{
		normalFragment(0, "a", "0"),
		normalFragment(1, "b", "1"),
		normalFragment(2, "c", "2"),
		normalFragment(3, "d", "3"),
		finalFragment(9, "e", "f"),
	}
	perms := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 4, 0, 3, 1},
		{1, 0, 4, 2, 3},
	}
	var want []byte
	for _, p := range perms {
		set := make(FragmentSet, len(p))
		for i, idx := range p {
			set[i] = base[idx]
		}
		seq, _, err := Validate(set)
		if err != nil {
			t.Fatalf("Validate(%v): %v", p, err)
		}
		got := Reassemble(seq, nil)
		if want == nil {
			want = got
			continue
		}
		if string(got) != string(want) {
			t.Fatalf("permutation %v reassembled %q, want %q", p, got, want)
		}
	}
	if string(want) != "abcde" {
		t.Fatalf("reassembled %q", want)
	}
}
