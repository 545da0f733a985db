package model

import "fmt"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Leadfield is the precomputed linear map from per-electrode injected
// current (mA) to the electric field at every mesh element (mV/mm).
// Data is laid out [electrode][element][xyz] and is shared read-only
// across all evaluations.
type Leadfield struct {
	NElectrodes int
	NElements   int
	Data        []float64
}

func (lf *Leadfield) Validate() error {
	if lf.NElectrodes <= 0 {
		return fmt.Errorf("%w: leadfield has no electrodes", ErrData)
	}
	if lf.NElements <= 0 {
		return fmt.Errorf("%w: leadfield has no elements", ErrData)
	}
	want := lf.NElectrodes * lf.NElements * 3
	if len(lf.Data) != want {
		return fmt.Errorf("%w: leadfield data length mismatch: got=%d want=%d", ErrData, len(lf.Data), want)
	}
	return nil
}

// At returns the field contribution of one electrode at one element.
func (lf *Leadfield) At(electrode, element int) [3]float64 {
	base := (electrode*lf.NElements + element) * 3
	return [3]float64{lf.Data[base], lf.Data[base+1], lf.Data[base+2]}
}

// Mesh holds element centers (mm, xyz-flat), volumes (mm^3) and tissue
// tags. Owned by the loader, referenced by all consumers.
type Mesh struct {
	Centers []float64
	Volumes []float64
	Tags    []int
}

func (m *Mesh) NElements() int {
	return len(m.Centers) / 3
}

func (m *Mesh) Center(element int) [3]float64 {
	base := element * 3
	return [3]float64{m.Centers[base], m.Centers[base+1], m.Centers[base+2]}
}

func (m *Mesh) Validate() error {
	if len(m.Centers)%3 != 0 {
		return fmt.Errorf("%w: mesh centers length must be a multiple of 3: got=%d", ErrData, len(m.Centers))
	}
	n := m.NElements()
	if n == 0 {
		return fmt.Errorf("%w: mesh has no elements", ErrData)
	}
	if len(m.Volumes) != n {
		return fmt.Errorf("%w: mesh volumes length mismatch: got=%d want=%d", ErrData, len(m.Volumes), n)
	}
	if len(m.Tags) != n {
		return fmt.Errorf("%w: mesh tags length mismatch: got=%d want=%d", ErrData, len(m.Tags), n)
	}
	return nil
}

// ElectrodeIndex maps electrode names to leadfield rows. Immutable after
// construction.
type ElectrodeIndex struct {
	names []string
	rows  map[string]int
}

func NewElectrodeIndex(names []string) (*ElectrodeIndex, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: electrode index requires at least one name", ErrData)
	}
	rows := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: electrode name is empty at row %d", ErrData, i)
		}
		if _, exists := rows[name]; exists {
			return nil, fmt.Errorf("%w: duplicate electrode name: %s", ErrData, name)
		}
		rows[name] = i
	}
	return &ElectrodeIndex{names: append([]string(nil), names...), rows: rows}, nil
}

func (ix *ElectrodeIndex) Row(name string) (int, bool) {
	row, ok := ix.rows[name]
	return row, ok
}

func (ix *ElectrodeIndex) Name(row int) (string, bool) {
	if row < 0 || row >= len(ix.names) {
		return "", false
	}
	return ix.names[row], true
}

func (ix *ElectrodeIndex) Names() []string {
	return append([]string(nil), ix.names...)
}

func (ix *ElectrodeIndex) Len() int {
	return len(ix.names)
}

// ROISpec selects target elements either by sphere (Center+RadiusMM) or
// by atlas/tissue tag. Resolution is deterministic for a given mesh.
type ROISpec struct {
	Center   [3]float64 `json:"center"`
	RadiusMM float64    `json:"radius_mm"`
	AtlasTag int        `json:"atlas_tag,omitempty"`
	ByTag    bool       `json:"by_tag,omitempty"`
}

func (r ROISpec) Validate() error {
	if r.ByTag {
		return nil
	}
	if r.RadiusMM <= 0 {
		return fmt.Errorf("%w: roi radius must be > 0: got=%g", ErrConfiguration, r.RadiusMM)
	}
	return nil
}

// Montage is one electrode-role assignment plus per-channel currents (mA).
type Montage struct {
	E1Plus   int
	E1Minus  int
	E2Plus   int
	E2Minus  int
	Channel1 float64
	Channel2 float64
}

func (m Montage) Indices() [4]int {
	return [4]int{m.E1Plus, m.E1Minus, m.E2Plus, m.E2Minus}
}

// Distinct reports whether the four role indices are pairwise distinct.
func (m Montage) Distinct() bool {
	idx := m.Indices()
	for i := 0; i < len(idx); i++ {
		for j := i + 1; j < len(idx); j++ {
			if idx[i] == idx[j] {
				return false
			}
		}
	}
	return true
}

// InRange reports whether all role indices address valid leadfield rows.
func (m Montage) InRange(nElectrodes int) bool {
	for _, idx := range m.Indices() {
		if idx < 0 || idx >= nElectrodes {
			return false
		}
	}
	return true
}

// MontageMetrics is the evaluation result for one montage. Focality is
// nil when grey-matter data is empty or its mean field is zero; the
// absence is meaningful and survives JSON round-trips via omitempty.
type MontageMetrics struct {
	TImaxROI  float64  `json:"ti_max_roi"`
	TImeanROI float64  `json:"ti_mean_roi"`
	TImeanGM  float64  `json:"ti_mean_gm"`
	Focality  *float64 `json:"focality,omitempty"`
	NElements int      `json:"n_elements"`
}
