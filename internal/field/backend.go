package field

import (
	"fmt"

	"tistim/internal/model"
)

// unitScale converts leadfield units (mV/mm per mA) into V/m.
const unitScale = 1.0 / 1000.0

// Backend contracts the leadfield against two stimulation vectors and
// returns the TI envelope per element. Implementations must be
// numerically interchangeable within floating-point tolerance so engines
// can swap them freely.
type Backend interface {
	Name() string
	// TIFromLeadfield computes envelope(E1, E2) in V/m for every element
	// in target, or for all elements when target is nil. stim1 and stim2
	// are per-electrode currents in mA.
	TIFromLeadfield(lf *model.Leadfield, stim1, stim2 []float64, target []int) ([]float64, error)
}

// NewBackend resolves a backend by name, mirroring the storage factory:
// "scalar" (default) runs plain loops, "blas" routes the contraction
// through gonum's BLAS-backed dense kernels.
func NewBackend(kind string) (Backend, error) {
	switch kind {
	case "", "scalar":
		return ScalarBackend{}, nil
	case "blas":
		return NewBLASBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported field backend: %s", kind)
	}
}

// ScalarBackend is the reference implementation: one pass per target
// element, skipping electrodes with no injected current.
type ScalarBackend struct{}

func (ScalarBackend) Name() string {
	return "scalar"
}

func (ScalarBackend) TIFromLeadfield(lf *model.Leadfield, stim1, stim2 []float64, target []int) ([]float64, error) {
	if err := validateStims(lf, stim1, stim2); err != nil {
		return nil, err
	}

	if target == nil {
		target = allElements(lf.NElements)
	}
	out := make([]float64, len(target))
	for ti, element := range target {
		if element < 0 || element >= lf.NElements {
			return nil, fmt.Errorf("target element out of range: %d", element)
		}
		var f1, f2 [3]float64
		for e := 0; e < lf.NElectrodes; e++ {
			s1 := stim1[e]
			s2 := stim2[e]
			if s1 == 0 && s2 == 0 {
				continue
			}
			base := (e*lf.NElements + element) * 3
			for c := 0; c < 3; c++ {
				v := lf.Data[base+c]
				f1[c] += s1 * v
				f2[c] += s2 * v
			}
		}
		for c := 0; c < 3; c++ {
			f1[c] *= unitScale
			f2[c] *= unitScale
		}
		out[ti] = Envelope(f1, f2)
	}
	return out, nil
}

func validateStims(lf *model.Leadfield, stim1, stim2 []float64) error {
	if lf == nil {
		return fmt.Errorf("leadfield is required")
	}
	if err := lf.Validate(); err != nil {
		return err
	}
	if len(stim1) != lf.NElectrodes || len(stim2) != lf.NElectrodes {
		return fmt.Errorf("stimulation vector length mismatch: got=%d/%d want=%d", len(stim1), len(stim2), lf.NElectrodes)
	}
	return nil
}

func allElements(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
