package mesh

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"tistim/internal/model"
)

// ErrEmptyROI marks a region specification that resolves to zero mesh
// elements, usually a misplaced center or an undersized radius.
var ErrEmptyROI = errors.New("roi resolves to zero elements")

// Selection is a resolved set of mesh elements with their volumes.
// Resolution is deterministic for a given mesh.
type Selection struct {
	Indices []int
	Volumes []float64
}

func (s Selection) Len() int {
	return len(s.Indices)
}

// SphereIndices selects elements whose center lies within radius (mm) of
// center, by Euclidean distance.
func SphereIndices(m *model.Mesh, center [3]float64, radiusMM float64) (Selection, error) {
	if m == nil {
		return Selection{}, fmt.Errorf("%w: mesh is required", model.ErrConfiguration)
	}
	if radiusMM <= 0 {
		return Selection{}, fmt.Errorf("%w: sphere radius must be > 0: got=%g", model.ErrConfiguration, radiusMM)
	}

	r2 := radiusMM * radiusMM
	sel := Selection{}
	for i := 0; i < m.NElements(); i++ {
		c := m.Center(i)
		dx := c[0] - center[0]
		dy := c[1] - center[1]
		dz := c[2] - center[2]
		if dx*dx+dy*dy+dz*dz <= r2 {
			sel.Indices = append(sel.Indices, i)
			sel.Volumes = append(sel.Volumes, m.Volumes[i])
		}
	}
	return sel, nil
}

// GreyMatterIndices selects elements whose tissue tag is in tags.
func GreyMatterIndices(m *model.Mesh, tags []int) (Selection, error) {
	if m == nil {
		return Selection{}, fmt.Errorf("%w: mesh is required", model.ErrConfiguration)
	}
	if len(tags) == 0 {
		return Selection{}, fmt.Errorf("%w: at least one tissue tag is required", model.ErrConfiguration)
	}

	wanted := make(map[int]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}
	sel := Selection{}
	for i, tag := range m.Tags {
		if _, ok := wanted[tag]; ok {
			sel.Indices = append(sel.Indices, i)
			sel.Volumes = append(sel.Volumes, m.Volumes[i])
		}
	}
	return sel, nil
}

// Resolve maps an ROI spec onto the mesh, by sphere or by atlas tag.
func Resolve(m *model.Mesh, roi model.ROISpec) (Selection, error) {
	if err := roi.Validate(); err != nil {
		return Selection{}, err
	}
	if roi.ByTag {
		return GreyMatterIndices(m, []int{roi.AtlasTag})
	}
	return SphereIndices(m, roi.Center, roi.RadiusMM)
}

// ROIMetrics aggregates envelope values into the montage metrics.
// TImax is the plain maximum (0 for an empty region); means are
// volume-weighted. Focality stays nil when grey-matter data is missing
// or its mean is zero — the absence is meaningful.
func ROIMetrics(values, volumes, gmValues, gmVolumes []float64) model.MontageMetrics {
	metrics := model.MontageMetrics{NElements: len(values)}
	if len(values) == 0 {
		return metrics
	}

	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	metrics.TImaxROI = maxVal
	metrics.TImeanROI = weightedMean(values, volumes)

	if len(gmValues) == 0 {
		return metrics
	}
	metrics.TImeanGM = weightedMean(gmValues, gmVolumes)
	if metrics.TImeanGM == 0 {
		return metrics
	}
	focality := metrics.TImeanROI / metrics.TImeanGM
	metrics.Focality = &focality
	return metrics
}

func weightedMean(values, weights []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(weights) != len(values) || totalWeight(weights) <= 0 {
		return stat.Mean(values, nil)
	}
	mean := stat.Mean(values, weights)
	if math.IsNaN(mean) {
		return 0
	}
	return mean
}

func totalWeight(weights []float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return total
}
