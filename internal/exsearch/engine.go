package exsearch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"tistim/internal/field"
	"tistim/internal/mesh"
	"tistim/internal/model"
	"tistim/internal/montage"
)

// Mode selects how the montage space is enumerated.
type Mode string

const (
	// ModeBucketed walks the cartesian product of the four role pools.
	ModeBucketed Mode = "bucketed"
	// ModeAllCombinations assigns any 4 distinct electrodes from one
	// pool across the 4 roles (ordered permutations).
	ModeAllCombinations Mode = "all_combinations"
)

const splitEps = 1e-9

// Config is the immutable search configuration, validated once in
// NewEngine. All knobs are explicit; there is no ambient state.
type Config struct {
	Mode             Mode
	Roles            montage.Roles
	Pool             []string
	TotalCurrentMA   float64
	CurrentStepMA    float64
	ChannelCapMA     float64
	Workers          int
	ProgressInterval time.Duration
	Backend          field.Backend
	Logger           *slog.Logger
}

// Report is the outcome of one search run. The accounting identity
// Processed + Errored + Invalid + Unprocessed == Total holds for every
// run, interrupted or not, and Results never contains a partial entry.
type Report struct {
	Results     map[string]model.MontageMetrics
	Order       []string
	Processed   int
	Errored     int
	Invalid     int
	Unprocessed int
	Total       int
	Elapsed     time.Duration
	Interrupted bool
}

// Engine enumerates and evaluates the full montage x current-split
// space. Evaluations share only the read-only leadfield, electrode
// index and element selections.
type Engine struct {
	cfg Config
	lf  *model.Leadfield
	ix  *model.ElectrodeIndex
	roi mesh.Selection
	gm  mesh.Selection

	splits [][2]float64
	pools  rolePools

	stop      atomic.Bool
	processed atomic.Int64
	total     atomic.Int64
	startNano atomic.Int64
}

type rolePools struct {
	e1Plus  []int
	e1Minus []int
	e2Plus  []int
	e2Minus []int
	all     []int
}

func NewEngine(cfg Config, lf *model.Leadfield, ix *model.ElectrodeIndex, roi, gm mesh.Selection) (*Engine, error) {
	if lf == nil {
		return nil, fmt.Errorf("%w: leadfield is required", model.ErrData)
	}
	if err := lf.Validate(); err != nil {
		return nil, err
	}
	if ix == nil || ix.Len() != lf.NElectrodes {
		return nil, fmt.Errorf("%w: electrode index does not match leadfield", model.ErrData)
	}
	if roi.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrConfiguration, mesh.ErrEmptyROI)
	}
	if cfg.TotalCurrentMA <= 0 {
		return nil, fmt.Errorf("%w: total current must be > 0: got=%g", model.ErrConfiguration, cfg.TotalCurrentMA)
	}
	if cfg.CurrentStepMA <= 0 {
		return nil, fmt.Errorf("%w: current step must be > 0: got=%g", model.ErrConfiguration, cfg.CurrentStepMA)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBucketed
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	if cfg.Backend == nil {
		cfg.Backend = field.ScalarBackend{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	splits := currentSplits(cfg.TotalCurrentMA, cfg.CurrentStepMA, cfg.ChannelCapMA)
	if len(splits) == 0 {
		return nil, fmt.Errorf("%w: no current splits possible for total=%g step=%g cap=%g",
			model.ErrConfiguration, cfg.TotalCurrentMA, cfg.CurrentStepMA, cfg.ChannelCapMA)
	}

	pools, err := resolvePools(cfg, ix)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:    cfg,
		lf:     lf,
		ix:     ix,
		roi:    roi,
		gm:     gm,
		splits: splits,
		pools:  pools,
	}, nil
}

// Stop trips the cooperative stop flag. The run finishes any in-flight
// evaluations and returns everything accumulated so far.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// TotalCombinations is the analytic size of the search space:
// |p1+|*|p1-|*|p2+|*|p2-|*|splits| in bucketed mode (non-distinct
// assignments count as invalid), ordered distinct 4-permutations times
// splits in all-combinations mode.
func (e *Engine) TotalCombinations() int {
	switch e.cfg.Mode {
	case ModeAllCombinations:
		n := len(e.pools.all)
		if n < 4 {
			return 0
		}
		return n * (n - 1) * (n - 2) * (n - 3) * len(e.splits)
	default:
		return len(e.pools.e1Plus) * len(e.pools.e1Minus) *
			len(e.pools.e2Plus) * len(e.pools.e2Minus) * len(e.splits)
	}
}

type candidate struct {
	idx int
	m   model.Montage
}

type outcome struct {
	idx     int
	name    string
	metrics model.MontageMetrics
	err     error
}

// Run evaluates every enumerated montage. Candidate failures are
// logged and skipped; the stop flag is polled once per outer-loop
// iteration and cancellation is a controlled early exit, not an error.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	candidates, invalid := e.enumerate()
	total := len(candidates) + invalid

	e.total.Store(int64(total))
	e.processed.Store(0)
	start := time.Now()
	e.startNano.Store(start.UnixNano())

	progressDone := make(chan struct{})
	go e.logProgress(progressDone)
	defer close(progressDone)

	workerCount := e.cfg.Workers
	if workerCount > len(candidates) && len(candidates) > 0 {
		workerCount = len(candidates)
	}

	jobs := make(chan candidate)
	results := make(chan outcome, len(candidates))

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				metrics, err := e.evaluate(j.m)
				e.processed.Add(1)
				results <- outcome{
					idx:     j.idx,
					name:    montage.NameForMontage(e.ix, j.m),
					metrics: metrics,
					err:     err,
				}
			}
		}()
	}

	interrupted := false
	submitted := 0
	for _, cand := range candidates {
		if e.stop.Load() || ctx.Err() != nil {
			interrupted = true
			break
		}
		jobs <- cand
		submitted++
	}
	close(jobs)
	wg.Wait()
	close(results)

	ordered := make([]*outcome, len(candidates))
	for res := range results {
		r := res
		ordered[r.idx] = &r
	}

	report := Report{
		Results:     make(map[string]model.MontageMetrics, submitted),
		Invalid:     invalid,
		Total:       total,
		Interrupted: interrupted,
	}
	for _, res := range ordered {
		if res == nil {
			continue
		}
		if res.err != nil {
			report.Errored++
			e.cfg.Logger.Error("candidate evaluation failed, skipping",
				"montage", res.name, "error", res.err)
			continue
		}
		report.Results[res.name] = res.metrics
		report.Order = append(report.Order, res.name)
		report.Processed++
	}
	report.Unprocessed = len(candidates) - submitted
	report.Elapsed = time.Since(start)

	e.cfg.Logger.Info("search finished",
		"processed", report.Processed,
		"errored", report.Errored,
		"invalid", report.Invalid,
		"unprocessed", report.Unprocessed,
		"total", report.Total,
		"interrupted", report.Interrupted,
		"elapsed", report.Elapsed.Round(time.Millisecond).String())
	return report, nil
}

// evaluate computes metrics for one montage. Panics inside the numeric
// path are recovered into candidate errors so a single bad candidate
// never aborts the batch.
func (e *Engine) evaluate(m model.Montage) (metrics model.MontageMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("candidate evaluation panic: %v", r)
		}
	}()

	patterns := montage.PatternsForMontage(e.ix.Len(), m)
	roiValues, err := e.cfg.Backend.TIFromLeadfield(e.lf, patterns.Stim1, patterns.Stim2, e.roi.Indices)
	if err != nil {
		return model.MontageMetrics{}, err
	}
	var gmValues []float64
	if e.gm.Len() > 0 {
		gmValues, err = e.cfg.Backend.TIFromLeadfield(e.lf, patterns.Stim1, patterns.Stim2, e.gm.Indices)
		if err != nil {
			return model.MontageMetrics{}, err
		}
	}
	return mesh.ROIMetrics(roiValues, e.roi.Volumes, gmValues, e.gm.Volumes), nil
}

// enumerate produces the deterministic candidate order plus the count
// of invalid (non-distinct) assignments that are accounted but never
// evaluated.
func (e *Engine) enumerate() ([]candidate, int) {
	if e.cfg.Mode == ModeAllCombinations {
		return e.enumerateAllCombinations()
	}
	return e.enumerateBucketed()
}

func (e *Engine) enumerateBucketed() ([]candidate, int) {
	candidates := make([]candidate, 0, e.TotalCombinations())
	invalid := 0
	idx := 0
	for _, a := range e.pools.e1Plus {
		for _, b := range e.pools.e1Minus {
			for _, c := range e.pools.e2Plus {
				for _, d := range e.pools.e2Minus {
					for _, split := range e.splits {
						m := model.Montage{
							E1Plus: a, E1Minus: b, E2Plus: c, E2Minus: d,
							Channel1: split[0], Channel2: split[1],
						}
						if !m.Distinct() {
							invalid++
							continue
						}
						candidates = append(candidates, candidate{idx: idx, m: m})
						idx++
					}
				}
			}
		}
	}
	return candidates, invalid
}

func (e *Engine) enumerateAllCombinations() ([]candidate, int) {
	pool := e.pools.all
	candidates := make([]candidate, 0, e.TotalCombinations())
	idx := 0
	for _, a := range pool {
		for _, b := range pool {
			if b == a {
				continue
			}
			for _, c := range pool {
				if c == a || c == b {
					continue
				}
				for _, d := range pool {
					if d == a || d == b || d == c {
						continue
					}
					for _, split := range e.splits {
						candidates = append(candidates, candidate{
							idx: idx,
							m: model.Montage{
								E1Plus: a, E1Minus: b, E2Plus: c, E2Minus: d,
								Channel1: split[0], Channel2: split[1],
							},
						})
						idx++
					}
				}
			}
		}
	}
	return candidates, 0
}

// currentSplits lists the (channel1, channel2) pairs that partition the
// total current at the given step, optionally capped per channel.
func currentSplits(totalMA, stepMA, capMA float64) [][2]float64 {
	steps := int(math.Round(totalMA / stepMA))
	out := make([][2]float64, 0, steps)
	for i := 1; i < steps; i++ {
		c1 := stepMA * float64(i)
		c2 := totalMA - c1
		if capMA > 0 && (c1 > capMA+splitEps || c2 > capMA+splitEps) {
			continue
		}
		out = append(out, [2]float64{c1, c2})
	}
	return out
}

func resolvePools(cfg Config, ix *model.ElectrodeIndex) (rolePools, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolve := func(role string, names []string) ([]int, error) {
		rows := make([]int, 0, len(names))
		for _, name := range names {
			row, ok := ix.Row(name)
			if !ok {
				logger.Warn("unknown electrode in pool ignored", "role", role, "electrode", name)
				continue
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: electrode pool %s is empty", model.ErrConfiguration, role)
		}
		return rows, nil
	}

	var pools rolePools
	var err error
	if cfg.Mode == ModeAllCombinations {
		pools.all, err = resolve("pool", cfg.Pool)
		if err != nil {
			return rolePools{}, err
		}
		if len(pools.all) < 4 {
			return rolePools{}, fmt.Errorf("%w: all-combinations mode needs at least 4 electrodes: got=%d", model.ErrConfiguration, len(pools.all))
		}
		return pools, nil
	}

	if pools.e1Plus, err = resolve("e1_plus", cfg.Roles.E1Plus); err != nil {
		return rolePools{}, err
	}
	if pools.e1Minus, err = resolve("e1_minus", cfg.Roles.E1Minus); err != nil {
		return rolePools{}, err
	}
	if pools.e2Plus, err = resolve("e2_plus", cfg.Roles.E2Plus); err != nil {
		return rolePools{}, err
	}
	if pools.e2Minus, err = resolve("e2_minus", cfg.Roles.E2Minus); err != nil {
		return rolePools{}, err
	}
	return pools, nil
}
