package mesh

import (
	"errors"
	"math"
	"testing"

	"tistim/internal/model"
)

// newGridMesh builds an n x n x n unit-spaced grid with unit volumes.
func newGridMesh(n int, tag int) *model.Mesh {
	m := &model.Mesh{}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				m.Centers = append(m.Centers, float64(x), float64(y), float64(z))
				m.Volumes = append(m.Volumes, 1.0)
				m.Tags = append(m.Tags, tag)
			}
		}
	}
	return m
}

func TestSphereIndicesCoversFullGrid(t *testing.T) {
	m := newGridMesh(4, 2)
	sel, err := SphereIndices(m, [3]float64{1.5, 1.5, 1.5}, 100)
	if err != nil {
		t.Fatalf("sphere indices: %v", err)
	}
	if sel.Len() != m.NElements() {
		t.Fatalf("oversized radius should select all %d elements, got %d", m.NElements(), sel.Len())
	}
}

func TestSphereIndicesSubset(t *testing.T) {
	m := newGridMesh(5, 2)
	sel, err := SphereIndices(m, [3]float64{0, 0, 0}, 1.0)
	if err != nil {
		t.Fatalf("sphere indices: %v", err)
	}
	// Origin plus the three unit-distance neighbors.
	if sel.Len() != 4 {
		t.Fatalf("expected 4 elements within radius 1, got %d", sel.Len())
	}
	if len(sel.Volumes) != sel.Len() {
		t.Fatalf("volumes length mismatch: %d vs %d", len(sel.Volumes), sel.Len())
	}
}

func TestSphereIndicesRejectsBadRadius(t *testing.T) {
	m := newGridMesh(2, 2)
	_, err := SphereIndices(m, [3]float64{0, 0, 0}, 0)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGreyMatterIndicesByTag(t *testing.T) {
	m := newGridMesh(2, 2)
	m.Tags[0] = 1
	m.Tags[3] = 1

	sel, err := GreyMatterIndices(m, []int{2})
	if err != nil {
		t.Fatalf("grey matter indices: %v", err)
	}
	if sel.Len() != m.NElements()-2 {
		t.Fatalf("expected %d grey elements, got %d", m.NElements()-2, sel.Len())
	}
	for _, idx := range sel.Indices {
		if m.Tags[idx] != 2 {
			t.Fatalf("element %d has tag %d, want 2", idx, m.Tags[idx])
		}
	}
}

func TestROIMetricsEmptyRegion(t *testing.T) {
	metrics := ROIMetrics(nil, nil, nil, nil)
	if metrics.TImaxROI != 0 || metrics.TImeanROI != 0 {
		t.Fatalf("empty region should yield zero metrics: %+v", metrics)
	}
	if metrics.Focality != nil {
		t.Fatal("empty region should omit focality")
	}
}

func TestROIMetricsVolumeWeightedMean(t *testing.T) {
	values := []float64{1, 3}
	volumes := []float64{3, 1}
	metrics := ROIMetrics(values, volumes, nil, nil)
	if metrics.TImaxROI != 3 {
		t.Fatalf("max: got=%g want=3", metrics.TImaxROI)
	}
	want := (1*3.0 + 3*1.0) / 4.0
	if math.Abs(metrics.TImeanROI-want) > 1e-12 {
		t.Fatalf("weighted mean: got=%g want=%g", metrics.TImeanROI, want)
	}
	if metrics.Focality != nil {
		t.Fatal("no grey-matter data: focality must be absent")
	}
}

func TestROIMetricsFocality(t *testing.T) {
	metrics := ROIMetrics([]float64{2, 2}, []float64{1, 1}, []float64{1, 1}, []float64{1, 1})
	if metrics.Focality == nil {
		t.Fatal("expected focality")
	}
	if math.Abs(*metrics.Focality-2) > 1e-12 {
		t.Fatalf("focality: got=%g want=2", *metrics.Focality)
	}
}

func TestROIMetricsZeroGreyMeanOmitsFocality(t *testing.T) {
	metrics := ROIMetrics([]float64{1}, []float64{1}, []float64{0, 0}, []float64{1, 1})
	if metrics.Focality != nil {
		t.Fatal("zero grey-matter mean must omit focality")
	}
}

func TestResolveByTag(t *testing.T) {
	m := newGridMesh(2, 3)
	sel, err := Resolve(m, model.ROISpec{ByTag: true, AtlasTag: 3})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sel.Len() != m.NElements() {
		t.Fatalf("tag resolve: got %d elements, want %d", sel.Len(), m.NElements())
	}
}
