package field

import (
	"math"
	"math/rand"
	"testing"

	"tistim/internal/model"
)

func newTestLeadfield(nElectrodes, nElements int, seed int64) *model.Leadfield {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, nElectrodes*nElements*3)
	for i := range data {
		data[i] = rng.NormFloat64() * 100
	}
	return &model.Leadfield{NElectrodes: nElectrodes, NElements: nElements, Data: data}
}

func TestScalarBackendReferenceScenario(t *testing.T) {
	// Two electrodes, one element. Electrode 0 contributes 1000 mV/mm
	// along x per mA, electrode 1 contributes nothing. Unit current on
	// electrode 0 in both channels gives identical 1 V/m fields and a
	// TI envelope of exactly 2 V/m.
	lf := &model.Leadfield{
		NElectrodes: 2,
		NElements:   1,
		Data:        []float64{1000, 0, 0, 0, 0, 0},
	}
	stim := []float64{1, 0}

	got, err := ScalarBackend{}.TIFromLeadfield(lf, stim, stim, nil)
	if err != nil {
		t.Fatalf("ti from leadfield: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 element, got %d", len(got))
	}
	if math.Abs(got[0]-2.0) > 1e-12 {
		t.Fatalf("reference scenario: got=%g want=2.0", got[0])
	}
}

func TestBackendZeroStimulationGivesZeroField(t *testing.T) {
	lf := newTestLeadfield(4, 16, 3)
	zeros := make([]float64, 4)
	for _, backend := range []Backend{ScalarBackend{}, NewBLASBackend()} {
		got, err := backend.TIFromLeadfield(lf, zeros, zeros, nil)
		if err != nil {
			t.Fatalf("%s: %v", backend.Name(), err)
		}
		for i, v := range got {
			if v != 0 {
				t.Fatalf("%s: element %d nonzero for zero stim: %g", backend.Name(), i, v)
			}
		}
	}
}

func TestScalarAndBLASBackendsAgree(t *testing.T) {
	lf := newTestLeadfield(8, 64, 5)
	rng := rand.New(rand.NewSource(9))
	stim1 := make([]float64, 8)
	stim2 := make([]float64, 8)
	for i := range stim1 {
		stim1[i] = rng.NormFloat64()
		stim2[i] = rng.NormFloat64()
	}

	scalar, err := ScalarBackend{}.TIFromLeadfield(lf, stim1, stim2, nil)
	if err != nil {
		t.Fatalf("scalar: %v", err)
	}
	blas, err := NewBLASBackend().TIFromLeadfield(lf, stim1, stim2, nil)
	if err != nil {
		t.Fatalf("blas: %v", err)
	}
	for i := range scalar {
		if math.Abs(scalar[i]-blas[i]) > 1e-9 {
			t.Fatalf("backend divergence at element %d: scalar=%g blas=%g", i, scalar[i], blas[i])
		}
	}
}

func TestBackendTargetSubsetMatchesFullPass(t *testing.T) {
	lf := newTestLeadfield(6, 32, 13)
	stim1 := []float64{1, -1, 0, 0, 0, 0}
	stim2 := []float64{0, 0, 2, -2, 0, 0}
	target := []int{3, 17, 31}

	full, err := ScalarBackend{}.TIFromLeadfield(lf, stim1, stim2, nil)
	if err != nil {
		t.Fatalf("full pass: %v", err)
	}
	subset, err := ScalarBackend{}.TIFromLeadfield(lf, stim1, stim2, target)
	if err != nil {
		t.Fatalf("subset pass: %v", err)
	}
	for i, element := range target {
		if subset[i] != full[element] {
			t.Fatalf("subset mismatch at %d: got=%g want=%g", element, subset[i], full[element])
		}
	}
}

func TestBackendRejectsBadInput(t *testing.T) {
	lf := newTestLeadfield(2, 4, 1)
	if _, err := (ScalarBackend{}).TIFromLeadfield(lf, []float64{1}, []float64{1, 0}, nil); err == nil {
		t.Fatal("expected stim length error")
	}
	if _, err := (ScalarBackend{}).TIFromLeadfield(lf, []float64{1, 0}, []float64{1, 0}, []int{4}); err == nil {
		t.Fatal("expected out-of-range target error")
	}
}

func TestNewBackendFactory(t *testing.T) {
	for _, kind := range []string{"", "scalar", "blas"} {
		if _, err := NewBackend(kind); err != nil {
			t.Fatalf("backend %q: %v", kind, err)
		}
	}
	if _, err := NewBackend("cuda"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
