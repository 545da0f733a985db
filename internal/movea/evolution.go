package movea

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"tistim/internal/model"
)

// Config drives one evolutionary run. Seed makes the run reproducible;
// every stochastic decision flows from the single rng it initializes.
type Config struct {
	PopulationSize  int
	Generations     int
	EliteCount      int
	TournamentSize  int
	Workers         int
	Seed            int64
	ElectrodeMutate float64
	RatioSigma      float64
	DualObjective   bool
	Logger          *slog.Logger
}

// GenerationDiagnostics summarizes one generation for the run report.
type GenerationDiagnostics struct {
	Generation    int     `json:"generation"`
	BestCost      float64 `json:"best_cost"`
	MeanCost      float64 `json:"mean_cost"`
	WorstCost     float64 `json:"worst_cost"`
	FeasibleCount int     `json:"feasible_count"`
	FrontSize     int     `json:"front_size"`
}

// Result is the outcome of a run: the per-generation best costs, the
// accumulated Pareto front (dual-objective runs), diagnostics, and the
// final ranked population.
type Result struct {
	BestByGeneration []float64
	Diagnostics      []GenerationDiagnostics
	Front            Front
	FinalPopulation  []Individual
}

// Evolution runs a seeded generational search over montage genotypes.
type Evolution struct {
	cfg Config
	opt *Optimizer
	rng *rand.Rand
}

func NewEvolution(cfg Config, opt *Optimizer) (*Evolution, error) {
	if opt == nil {
		return nil, fmt.Errorf("%w: optimizer is required", model.ErrConfiguration)
	}
	if opt.TargetSize() == 0 {
		return nil, fmt.Errorf("%w: optimizer has no target region", model.ErrConfiguration)
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0", model.ErrConfiguration)
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("%w: generations must be > 0", model.ErrConfiguration)
	}
	if cfg.EliteCount <= 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("%w: elite count must be in [1, population size]", model.ErrConfiguration)
	}
	if opt.NElectrodes() < 4 {
		return nil, fmt.Errorf("%w: need at least 4 electrodes: got=%d", model.ErrConfiguration, opt.NElectrodes())
	}
	if cfg.TournamentSize <= 0 {
		cfg.TournamentSize = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ElectrodeMutate <= 0 || cfg.ElectrodeMutate > 1 {
		cfg.ElectrodeMutate = 0.2
	}
	if cfg.RatioSigma <= 0 {
		cfg.RatioSigma = 0.1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Evolution{
		cfg: cfg,
		opt: opt,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run evolves a random initial population for the configured number of
// generations and returns the ranked final population plus history.
func (e *Evolution) Run(ctx context.Context) (Result, error) {
	population := make([]Individual, e.cfg.PopulationSize)
	for i := range population {
		population[i] = e.randomIndividual()
	}

	result := Result{
		BestByGeneration: make([]float64, 0, e.cfg.Generations),
		Diagnostics:      make([]GenerationDiagnostics, 0, e.cfg.Generations),
	}

	var scored []Individual
	for gen := 0; gen < e.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		scored = e.evaluatePopulation(population)
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Scalar < scored[j].Scalar
		})

		if e.cfg.DualObjective {
			for _, ind := range scored {
				result.Front.Add(ind)
			}
		}

		diag := summarizeGeneration(scored, gen+1, result.Front.Len())
		result.BestByGeneration = append(result.BestByGeneration, diag.BestCost)
		result.Diagnostics = append(result.Diagnostics, diag)
		e.cfg.Logger.Info("generation evaluated",
			"generation", diag.Generation,
			"best_cost", diag.BestCost,
			"mean_cost", diag.MeanCost,
			"feasible", diag.FeasibleCount,
			"front_size", diag.FrontSize)

		if gen < e.cfg.Generations-1 {
			population = e.nextGeneration(scored)
		}
	}

	result.FinalPopulation = scored
	return result, nil
}

// evaluatePopulation scores every genotype on the worker pool. Results
// carry the submission index, so the reassembled slice is independent
// of completion order. A panic inside an evaluation maps to the +Inf
// sentinel rather than aborting the run.
func (e *Evolution) evaluatePopulation(population []Individual) []Individual {
	type job struct {
		idx int
		ind Individual
	}
	type outcome struct {
		idx int
		ind Individual
	}

	jobs := make(chan job)
	results := make(chan outcome, len(population))

	workerCount := e.cfg.Workers
	if workerCount > len(population) {
		workerCount = len(population)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- outcome{idx: j.idx, ind: e.score(j.ind)}
			}
		}()
	}

	for i := range population {
		jobs <- job{idx: i, ind: population[i]}
	}
	close(jobs)
	wg.Wait()
	close(results)

	scored := make([]Individual, len(population))
	for res := range results {
		scored[res.idx] = res.ind
	}
	return scored
}

func (e *Evolution) score(ind Individual) (out Individual) {
	out = ind
	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Error("genotype evaluation panic, discarding",
				"electrodes", ind.Electrodes, "panic", r)
			out.Scalar = infeasible
			out.Cost = [2]float64{infeasible, infeasible}
		}
	}()

	if e.cfg.DualObjective {
		out.Cost = e.opt.EvaluateMontageDual(ind.Electrodes, ind.Ratio)
		out.Scalar = out.Cost[0]
		return out
	}
	out.Scalar = e.opt.EvaluateMontage(ind.Electrodes, ind.Ratio)
	out.Cost = [2]float64{out.Scalar, 0}
	return out
}

// nextGeneration keeps the elites verbatim and fills the rest with
// mutated tournament winners.
func (e *Evolution) nextGeneration(ranked []Individual) []Individual {
	next := make([]Individual, 0, e.cfg.PopulationSize)
	for i := 0; i < e.cfg.EliteCount; i++ {
		next = append(next, ranked[i])
	}
	for len(next) < e.cfg.PopulationSize {
		parent := e.tournament(ranked)
		next = append(next, e.mutate(parent))
	}
	return next
}

func (e *Evolution) tournament(ranked []Individual) Individual {
	best := ranked[e.rng.Intn(len(ranked))]
	for i := 1; i < e.cfg.TournamentSize; i++ {
		challenger := ranked[e.rng.Intn(len(ranked))]
		if challenger.Scalar < best.Scalar {
			best = challenger
		}
	}
	return best
}

// mutate reassigns each electrode slot with probability ElectrodeMutate
// (keeping the four slots distinct) and perturbs the ratio with
// gaussian noise clamped away from the channel-off endpoints.
func (e *Evolution) mutate(parent Individual) Individual {
	child := parent
	for slot := 0; slot < 4; slot++ {
		if e.rng.Float64() >= e.cfg.ElectrodeMutate {
			continue
		}
		child.Electrodes[slot] = e.freshElectrode(child.Electrodes, slot)
	}
	child.Ratio = clampRatio(child.Ratio + e.rng.NormFloat64()*e.cfg.RatioSigma)
	child.Scalar = 0
	child.Cost = [2]float64{}
	return child
}

func (e *Evolution) freshElectrode(taken [4]int, slot int) int {
	for {
		candidate := e.rng.Intn(e.opt.NElectrodes())
		conflict := false
		for i, row := range taken {
			if i != slot && row == candidate {
				conflict = true
				break
			}
		}
		if !conflict {
			return candidate
		}
	}
}

func (e *Evolution) randomIndividual() Individual {
	perm := e.rng.Perm(e.opt.NElectrodes())
	return Individual{
		Electrodes: [4]int{perm[0], perm[1], perm[2], perm[3]},
		Ratio:      clampRatio(e.rng.Float64()),
	}
}

const ratioFloor = 0.05

func clampRatio(r float64) float64 {
	if r < ratioFloor {
		return ratioFloor
	}
	if r > 1-ratioFloor {
		return 1 - ratioFloor
	}
	return r
}

func summarizeGeneration(ranked []Individual, generation, frontSize int) GenerationDiagnostics {
	diag := GenerationDiagnostics{Generation: generation, FrontSize: frontSize}
	if len(ranked) == 0 {
		return diag
	}

	diag.BestCost = ranked[0].Scalar
	total := 0.0
	worst := math.Inf(-1)
	for _, ind := range ranked {
		if math.IsInf(ind.Scalar, 1) {
			continue
		}
		diag.FeasibleCount++
		total += ind.Scalar
		if ind.Scalar > worst {
			worst = ind.Scalar
		}
	}
	if diag.FeasibleCount > 0 {
		diag.MeanCost = total / float64(diag.FeasibleCount)
		diag.WorstCost = worst
	}
	return diag
}
