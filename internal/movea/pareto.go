package movea

import "math"

// Individual is one genotype in the evolutionary search: four leadfield
// rows assigned to the stimulation roles and the channel-1 share of the
// total current. Cost carries the minimized objective vector, Scalar
// the single-objective cost used for ranking.
type Individual struct {
	Electrodes [4]int
	Ratio      float64
	Cost       [2]float64
	Scalar     float64
}

// Dominates reports whether objective vector a dominates b under
// minimization: a is at least as good in both objectives and strictly
// better in at least one.
func Dominates(a, b [2]float64) bool {
	if a[0] > b[0] || a[1] > b[1] {
		return false
	}
	return a[0] < b[0] || a[1] < b[1]
}

// Front is the set of non-dominated individuals accumulated across
// generations. The invariant holds after every Add: no member dominates
// another member.
type Front struct {
	members []Individual
}

// Add inserts an individual unless a current member dominates it, and
// evicts the members it dominates. Non-finite objective vectors are
// rejected outright.
func (f *Front) Add(ind Individual) bool {
	if math.IsInf(ind.Cost[0], 0) || math.IsInf(ind.Cost[1], 0) ||
		math.IsNaN(ind.Cost[0]) || math.IsNaN(ind.Cost[1]) {
		return false
	}
	for _, m := range f.members {
		if Dominates(m.Cost, ind.Cost) {
			return false
		}
	}
	kept := f.members[:0]
	for _, m := range f.members {
		if !Dominates(ind.Cost, m.Cost) {
			kept = append(kept, m)
		}
	}
	f.members = append(kept, ind)
	return true
}

// Members returns a copy of the current front.
func (f *Front) Members() []Individual {
	out := make([]Individual, len(f.members))
	copy(out, f.members)
	return out
}

func (f *Front) Len() int {
	return len(f.members)
}
