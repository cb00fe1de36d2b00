package schc

import (
	"bytes"
	"fmt"
	"sort"
)

// Validate orders a fragment set and checks it for completeness.
//
// Exactly one final fragment is used (the first encountered); the non-final
// FCNs must form the contiguous run 0..k-1. Duplicates are tolerated and
// reported as anomalies; the earliest fragment in input order wins. The
// message length is not carried in-band, so contiguity up to the highest
// observed FCN is the only completeness signal.
func Validate(set FragmentSet) (OrderedSequence, []Anomaly, error) {
	var (
		final     *Fragment
		normals   []Fragment
		anomalies []Anomaly
	)
	for i := range set {
		f := set[i]
		if !f.IsFinal {
			normals = append(normals, f)
			continue
		}
		if final == nil {
			final = &set[i]
			continue
		}
		anomalies = append(anomalies, Anomaly{
			Kind:        AnomalyDuplicateFinal,
			FCN:         int(f.FCN),
			Ref:         f.Ref,
			KeptRef:     final.Ref,
			Conflicting: f.Checksum != final.Checksum || !bytes.Equal(f.payload, final.payload),
			Message:     "multiple final fragments; keeping the first",
		})
	}
	if final == nil {
		return OrderedSequence{}, anomalies, newError(KindNoFinalFragment,
			"no final fragment among %d fragments; message length cannot be determined", len(set))
	}

	sort.SliceStable(normals, func(i, j int) bool { return normals[i].FCN < normals[j].FCN })

	unique := make([]Fragment, 0, len(normals))
	for _, f := range normals {
		if n := len(unique); n > 0 && unique[n-1].FCN == f.FCN {
			kept := unique[n-1]
			anomalies = append(anomalies, Anomaly{
				Kind:        AnomalyDuplicateFCN,
				FCN:         int(f.FCN),
				Ref:         f.Ref,
				KeptRef:     kept.Ref,
				Conflicting: !bytes.Equal(f.payload, kept.payload),
				Message:     fmt.Sprintf("duplicate fragment for FCN %d; keeping the first received", f.FCN),
			})
			continue
		}
		unique = append(unique, f)
	}

	missing := missingFCNs(unique)
	if len(missing) > 0 {
		return OrderedSequence{}, anomalies, incomplete(missing)
	}

	ordered := make([]Fragment, 0, len(unique)+1)
	ordered = append(ordered, unique...)
	ordered = append(ordered, *final)
	return OrderedSequence{fragments: ordered}, anomalies, nil
}

// missingFCNs walks 0..max over de-duplicated, ascending fragments.
func missingFCNs(sorted []Fragment) []int {
	var missing []int
	expected := 0
	for _, f := range sorted {
		for expected < int(f.FCN) {
			missing = append(missing, expected)
			expected++
		}
		expected = int(f.FCN) + 1
	}
	return missing
}
