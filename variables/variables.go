// Package variables defines the ordered parameter tuple that flows between
// an algorithm and the evaluation orchestration core. A Set partitions its
// values into four typed slots — continuous-real, discrete-integer,
// discrete-real, and discrete-string — each carrying stable textual labels
// alongside stable integer identifiers so callers can address a value by
// either name.
package variables

import "fmt"

// Set is an ordered tuple of variables partitioned by kind.
type Set struct {
	ContinuousLabels []string
	ContinuousIDs    []int
	Continuous       []float64

	DiscreteIntLabels []string
	DiscreteIntIDs    []int
	DiscreteInt       []int64

	DiscreteRealLabels []string
	DiscreteRealIDs    []int
	DiscreteReal       []float64

	DiscreteStringLabels []string
	DiscreteStringIDs    []int
	DiscreteString       []string
}

// NumContinuous returns the number of continuous-real variables.
func (s Set) NumContinuous() int { return len(s.Continuous) }

// Equal reports structural equality across all four slots: same labels,
// same ids, same values, in the same order.
func (s Set) Equal(o Set) bool {
	return equalStrings(s.ContinuousLabels, o.ContinuousLabels) &&
		equalInts(s.ContinuousIDs, o.ContinuousIDs) &&
		equalFloats(s.Continuous, o.Continuous) &&
		equalStrings(s.DiscreteIntLabels, o.DiscreteIntLabels) &&
		equalInts(s.DiscreteIntIDs, o.DiscreteIntIDs) &&
		equalInt64s(s.DiscreteInt, o.DiscreteInt) &&
		equalStrings(s.DiscreteRealLabels, o.DiscreteRealLabels) &&
		equalInts(s.DiscreteRealIDs, o.DiscreteRealIDs) &&
		equalFloats(s.DiscreteReal, o.DiscreteReal) &&
		equalStrings(s.DiscreteStringLabels, o.DiscreteStringLabels) &&
		equalInts(s.DiscreteStringIDs, o.DiscreteStringIDs) &&
		equalStrings(s.DiscreteString, o.DiscreteString)
}

// DiscreteEqual reports whether the three discrete slots are structurally
// equal, ignoring the continuous slot. Used by tolerance-based cache
// lookups, which compare continuous variables by radius but require exact
// discrete-slot equality.
func (s Set) DiscreteEqual(o Set) bool {
	return equalStrings(s.DiscreteIntLabels, o.DiscreteIntLabels) &&
		equalInts(s.DiscreteIntIDs, o.DiscreteIntIDs) &&
		equalInt64s(s.DiscreteInt, o.DiscreteInt) &&
		equalStrings(s.DiscreteRealLabels, o.DiscreteRealLabels) &&
		equalInts(s.DiscreteRealIDs, o.DiscreteRealIDs) &&
		equalFloats(s.DiscreteReal, o.DiscreteReal) &&
		equalStrings(s.DiscreteStringLabels, o.DiscreteStringLabels) &&
		equalInts(s.DiscreteStringIDs, o.DiscreteStringIDs) &&
		equalStrings(s.DiscreteString, o.DiscreteString)
}

// WithinTolerance reports whether every continuous value in s is within a
// per-axis relative L-infinity radius tol of the corresponding value in o.
// A zero-valued axis in o falls back to an absolute comparison against tol.
func (s Set) WithinTolerance(o Set, tol float64) bool {
	if len(s.Continuous) != len(o.Continuous) {
		return false
	}
	for i, v := range s.Continuous {
		ref := o.Continuous[i]
		radius := tol
		if ref != 0 {
			radius = tol * abs(ref)
		}
		if abs(v-ref) > radius {
			return false
		}
	}
	return true
}

// String renders a compact, debuggable representation.
func (s Set) String() string {
	return fmt.Sprintf("Set{continuous=%v discreteInt=%v discreteReal=%v discreteString=%v}",
		s.Continuous, s.DiscreteInt, s.DiscreteReal, s.DiscreteString)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalInt64s(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
