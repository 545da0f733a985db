package movea

import (
	"fmt"
	"log/slog"
	"math"

	"tistim/internal/field"
	"tistim/internal/mesh"
	"tistim/internal/model"
	"tistim/internal/montage"
)

// infeasible is the cost sentinel a minimizing search discards without
// an error on the hot path.
var infeasible = math.Inf(1)

// OptimizerConfig fixes the evaluation context. The target region is
// set separately via SetTarget so one optimizer can be retargeted
// between runs.
type OptimizerConfig struct {
	TotalCurrentMA float64
	GreyMatterTags []int
	Backend        field.Backend
	Logger         *slog.Logger
}

// Optimizer evaluates montage genotypes against a fixed leadfield and
// target region. All methods after SetTarget are safe for concurrent
// use; the shared state is read-only.
type Optimizer struct {
	cfg OptimizerConfig
	lf  *model.Leadfield
	ix  *model.ElectrodeIndex
	m   *model.Mesh

	roi mesh.Selection
	gm  mesh.Selection
}

func NewOptimizer(cfg OptimizerConfig, lf *model.Leadfield, ix *model.ElectrodeIndex, m *model.Mesh) (*Optimizer, error) {
	if lf == nil {
		return nil, fmt.Errorf("%w: leadfield is required", model.ErrData)
	}
	if err := lf.Validate(); err != nil {
		return nil, err
	}
	if ix == nil || ix.Len() != lf.NElectrodes {
		return nil, fmt.Errorf("%w: electrode index does not match leadfield", model.ErrData)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: mesh is required", model.ErrData)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.NElements() != lf.NElements {
		return nil, fmt.Errorf("%w: mesh has %d elements, leadfield %d", model.ErrData, m.NElements(), lf.NElements)
	}
	if cfg.TotalCurrentMA <= 0 {
		return nil, fmt.Errorf("%w: total current must be > 0: got=%g", model.ErrConfiguration, cfg.TotalCurrentMA)
	}
	if len(cfg.GreyMatterTags) == 0 {
		cfg.GreyMatterTags = []int{2}
	}
	if cfg.Backend == nil {
		cfg.Backend = field.ScalarBackend{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	gm, err := mesh.GreyMatterIndices(m, cfg.GreyMatterTags)
	if err != nil {
		return nil, err
	}

	return &Optimizer{cfg: cfg, lf: lf, ix: ix, m: m, gm: gm}, nil
}

// SetTarget resolves the spherical target region. Zero resolved
// elements is a configuration failure, usually a misplaced center or
// an undersized radius.
func (o *Optimizer) SetTarget(center [3]float64, radiusMM float64) error {
	sel, err := mesh.SphereIndices(o.m, center, radiusMM)
	if err != nil {
		return err
	}
	if sel.Len() == 0 {
		return fmt.Errorf("%w: center=%v radius_mm=%g", mesh.ErrEmptyROI, center, radiusMM)
	}
	o.cfg.Logger.Info("target region resolved",
		"center", center, "radius_mm", radiusMM, "elements", sel.Len())
	o.roi = sel
	return nil
}

// TargetSize is the number of elements in the current target region.
func (o *Optimizer) TargetSize() int {
	return o.roi.Len()
}

// EvaluateMontage returns the scalar cost of a genotype: the negated
// volume-weighted mean TI amplitude over the target, so lower is
// stronger stimulation. Fewer than 4 distinct in-range electrodes or a
// ratio outside (0,1) yields +Inf rather than an error.
func (o *Optimizer) EvaluateMontage(electrodes [4]int, ratio float64) float64 {
	metrics, ok := o.metricsFor(electrodes, ratio)
	if !ok {
		return infeasible
	}
	return -metrics.TImeanROI
}

// EvaluateMontageDual returns the minimized (intensity, focality)
// objective pair. An infeasible genotype yields [+Inf, +Inf]. A montage
// with no focality (empty grey matter or zero mean) scores 0 on the
// second objective.
func (o *Optimizer) EvaluateMontageDual(electrodes [4]int, ratio float64) [2]float64 {
	metrics, ok := o.metricsFor(electrodes, ratio)
	if !ok {
		return [2]float64{infeasible, infeasible}
	}
	focality := 0.0
	if metrics.Focality != nil {
		focality = *metrics.Focality
	}
	return [2]float64{-metrics.TImeanROI, -focality}
}

// Metrics exposes the full metric set for a genotype, for reporting the
// winners after a run. Same feasibility rules as EvaluateMontage.
func (o *Optimizer) Metrics(electrodes [4]int, ratio float64) (model.MontageMetrics, bool) {
	return o.metricsFor(electrodes, ratio)
}

func (o *Optimizer) metricsFor(electrodes [4]int, ratio float64) (model.MontageMetrics, bool) {
	if o.roi.Len() == 0 {
		return model.MontageMetrics{}, false
	}
	if ratio <= 0 || ratio >= 1 {
		return model.MontageMetrics{}, false
	}
	m := model.Montage{
		E1Plus:   electrodes[0],
		E1Minus:  electrodes[1],
		E2Plus:   electrodes[2],
		E2Minus:  electrodes[3],
		Channel1: ratio * o.cfg.TotalCurrentMA,
		Channel2: (1 - ratio) * o.cfg.TotalCurrentMA,
	}
	if !m.InRange(o.lf.NElectrodes) || !m.Distinct() {
		return model.MontageMetrics{}, false
	}

	patterns := montage.PatternsForMontage(o.lf.NElectrodes, m)
	roiValues, err := o.cfg.Backend.TIFromLeadfield(o.lf, patterns.Stim1, patterns.Stim2, o.roi.Indices)
	if err != nil {
		o.cfg.Logger.Warn("montage evaluation failed", "montage", m.Indices(), "error", err)
		return model.MontageMetrics{}, false
	}
	var gmValues []float64
	if o.gm.Len() > 0 {
		gmValues, err = o.cfg.Backend.TIFromLeadfield(o.lf, patterns.Stim1, patterns.Stim2, o.gm.Indices)
		if err != nil {
			o.cfg.Logger.Warn("montage evaluation failed", "montage", m.Indices(), "error", err)
			return model.MontageMetrics{}, false
		}
	}
	return mesh.ROIMetrics(roiValues, o.roi.Volumes, gmValues, o.gm.Volumes), true
}

// MontageFor materializes the model.Montage a genotype encodes.
func (o *Optimizer) MontageFor(ind Individual) model.Montage {
	return model.Montage{
		E1Plus:   ind.Electrodes[0],
		E1Minus:  ind.Electrodes[1],
		E2Plus:   ind.Electrodes[2],
		E2Minus:  ind.Electrodes[3],
		Channel1: ind.Ratio * o.cfg.TotalCurrentMA,
		Channel2: (1 - ind.Ratio) * o.cfg.TotalCurrentMA,
	}
}

// NameFor renders the canonical montage name for a genotype.
func (o *Optimizer) NameFor(ind Individual) string {
	return montage.NameForMontage(o.ix, o.MontageFor(ind))
}

// NElectrodes is the leadfield row count, the genotype index space.
func (o *Optimizer) NElectrodes() int {
	return o.lf.NElectrodes
}
