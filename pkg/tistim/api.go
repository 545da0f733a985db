package tistim

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"tistim/internal/exsearch"
	"tistim/internal/field"
	"tistim/internal/leadfield"
	"tistim/internal/mesh"
	"tistim/internal/model"
	"tistim/internal/montage"
	"tistim/internal/movea"
	"tistim/internal/stats"
	"tistim/internal/storage"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultDBPath        = "tistim.db"

	defaultTotalCurrentMA = 2.0
	defaultCurrentStepMA  = 0.5
	defaultROIRadiusMM    = 10.0
	defaultWorkers        = 4
)

// greyMatterTag is the conventional tissue tag for grey matter in the
// meshes the leadfield generator produces.
var defaultGreyMatterTags = []int{2}

type Options struct {
	StoreKind     string
	DBPath        string
	BenchmarksDir string
	ExportsDir    string
	Logger        *slog.Logger
}

// Client is the embedding surface for the engines: import a leadfield
// once, then run exhaustive searches and evolutionary optimizations
// against it.
type Client struct {
	store  storage.Store
	logger *slog.Logger

	benchmarksDir string
	exportsDir    string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		logger:        logger,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Store exposes the underlying store for callers that seed records
// directly, mainly tests.
func (c *Client) Store() storage.Store {
	return c.store
}

type ImportSummary struct {
	LeadfieldID string
	NElectrodes int
	NElements   int
}

// ImportLeadfield ingests a generator export (JSON header + raw tensor
// file) and persists it.
func (c *Client) ImportLeadfield(ctx context.Context, headerPath, tensorPath string) (ImportSummary, error) {
	header, err := os.Open(headerPath)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("open leadfield header: %w", err)
	}
	defer header.Close()

	tensor, err := os.Open(tensorPath)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("open leadfield tensor: %w", err)
	}
	defer tensor.Close()

	record, err := leadfield.ImportRaw(header, tensor)
	if err != nil {
		return ImportSummary{}, err
	}
	if err := c.store.SaveLeadfield(ctx, record); err != nil {
		return ImportSummary{}, fmt.Errorf("persist leadfield %s: %w", record.ID, err)
	}

	c.logger.Info("leadfield imported",
		"id", record.ID,
		"electrodes", len(record.ElectrodeNames),
		"elements", record.NElements)
	return ImportSummary{
		LeadfieldID: record.ID,
		NElectrodes: len(record.ElectrodeNames),
		NElements:   record.NElements,
	}, nil
}

// Leadfields lists the ids of the stored leadfield datasets.
func (c *Client) Leadfields(ctx context.Context) ([]string, error) {
	return c.store.ListLeadfields(ctx)
}

type SearchRequest struct {
	LeadfieldID    string
	Mode           string
	E1Plus         []string
	E1Minus        []string
	E2Plus         []string
	E2Minus        []string
	Pool           []string
	TotalCurrentMA float64
	CurrentStepMA  float64
	ChannelCapMA   float64
	ROICenter      [3]float64
	ROIRadiusMM    float64
	ROITag         int
	ROIByTag       bool
	GreyMatterTags []int
	Workers        int
	Backend        string
	HandleSignals  bool
}

type SearchSummary struct {
	RunID        string
	ArtifactsDir string
	BestMontage  string
	BestMetrics  model.MontageMetrics
	Processed    int
	Errored      int
	Invalid      int
	Unprocessed  int
	Total        int
	Interrupted  bool
	Elapsed      time.Duration
}

// Search runs the exhaustive engine against a stored leadfield and
// persists the report, a run summary and the artifact directory.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchSummary, error) {
	if req.LeadfieldID == "" {
		return SearchSummary{}, fmt.Errorf("%w: leadfield id is required", model.ErrConfiguration)
	}
	if req.Mode == "" {
		req.Mode = string(exsearch.ModeBucketed)
	}
	if req.TotalCurrentMA <= 0 {
		req.TotalCurrentMA = defaultTotalCurrentMA
	}
	if req.CurrentStepMA <= 0 {
		req.CurrentStepMA = defaultCurrentStepMA
	}
	if req.ROIRadiusMM <= 0 && !req.ROIByTag {
		req.ROIRadiusMM = defaultROIRadiusMM
	}
	if len(req.GreyMatterTags) == 0 {
		req.GreyMatterTags = defaultGreyMatterTags
	}
	if req.Workers <= 0 {
		req.Workers = defaultWorkers
	}

	ds, err := leadfield.Load(ctx, c.store, req.LeadfieldID)
	if err != nil {
		return SearchSummary{}, err
	}

	roi, err := mesh.Resolve(ds.Mesh, model.ROISpec{
		Center:   req.ROICenter,
		RadiusMM: req.ROIRadiusMM,
		AtlasTag: req.ROITag,
		ByTag:    req.ROIByTag,
	})
	if err != nil {
		return SearchSummary{}, err
	}
	gm, err := mesh.GreyMatterIndices(ds.Mesh, req.GreyMatterTags)
	if err != nil {
		return SearchSummary{}, err
	}

	backend, err := field.NewBackend(req.Backend)
	if err != nil {
		return SearchSummary{}, err
	}

	engine, err := exsearch.NewEngine(exsearch.Config{
		Mode: exsearch.Mode(req.Mode),
		Roles: montage.Roles{
			E1Plus:  req.E1Plus,
			E1Minus: req.E1Minus,
			E2Plus:  req.E2Plus,
			E2Minus: req.E2Minus,
		},
		Pool:           req.Pool,
		TotalCurrentMA: req.TotalCurrentMA,
		CurrentStepMA:  req.CurrentStepMA,
		ChannelCapMA:   req.ChannelCapMA,
		Workers:        req.Workers,
		Backend:        backend,
		Logger:         c.logger,
	}, ds.Leadfield, ds.Electrodes, roi, gm)
	if err != nil {
		return SearchSummary{}, err
	}

	if req.HandleSignals {
		release := engine.InstallSignalHandler()
		defer release()
	}

	report, err := engine.Run(ctx)
	if err != nil {
		return SearchSummary{}, err
	}

	runID := uuid.NewString()
	bestName, bestMetrics := bestByMeanROI(report.Results)

	record := model.SearchReportRecord{
		RunID:       runID,
		LeadfieldID: req.LeadfieldID,
		Mode:        req.Mode,
		Results:     report.Results,
		Order:       report.Order,
		Processed:   report.Processed,
		Errored:     report.Errored,
		Invalid:     report.Invalid,
		Unprocessed: report.Unprocessed,
		Total:       report.Total,
		ElapsedMS:   report.Elapsed.Milliseconds(),
		Interrupted: report.Interrupted,
	}
	storage.Stamp(&record.VersionedRecord)
	if err := c.store.SaveSearchReport(ctx, record); err != nil {
		return SearchSummary{}, fmt.Errorf("persist search report %s: %w", runID, err)
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	summary := model.RunSummaryRecord{
		RunID:         runID,
		Kind:          "search",
		LeadfieldID:   req.LeadfieldID,
		CreatedAtUTC:  createdAt,
		BestMontage:   bestName,
		BestTImeanROI: bestMetrics.TImeanROI,
		Interrupted:   report.Interrupted,
	}
	storage.Stamp(&summary.VersionedRecord)
	if err := c.store.SaveRunSummary(ctx, summary); err != nil {
		return SearchSummary{}, fmt.Errorf("persist run summary %s: %w", runID, err)
	}

	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          runID,
			Kind:           "search",
			LeadfieldID:    req.LeadfieldID,
			Mode:           req.Mode,
			E1Plus:         req.E1Plus,
			E1Minus:        req.E1Minus,
			E2Plus:         req.E2Plus,
			E2Minus:        req.E2Minus,
			Pool:           req.Pool,
			TotalCurrentMA: req.TotalCurrentMA,
			CurrentStepMA:  req.CurrentStepMA,
			ChannelCapMA:   req.ChannelCapMA,
			ROICenter:      req.ROICenter[:],
			ROIRadiusMM:    req.ROIRadiusMM,
			GreyMatterTags: req.GreyMatterTags,
			Workers:        req.Workers,
			Backend:        backend.Name(),
		},
		Report: &record,
	})
	if err != nil {
		return SearchSummary{}, err
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:         runID,
		Kind:          "search",
		LeadfieldID:   req.LeadfieldID,
		Mode:          req.Mode,
		BestMontage:   bestName,
		BestTImeanROI: bestMetrics.TImeanROI,
		Processed:     report.Processed,
		Total:         report.Total,
		Interrupted:   report.Interrupted,
		CreatedAtUTC:  createdAt,
	}); err != nil {
		return SearchSummary{}, err
	}

	return SearchSummary{
		RunID:        runID,
		ArtifactsDir: runDir,
		BestMontage:  bestName,
		BestMetrics:  bestMetrics,
		Processed:    report.Processed,
		Errored:      report.Errored,
		Invalid:      report.Invalid,
		Unprocessed:  report.Unprocessed,
		Total:        report.Total,
		Interrupted:  report.Interrupted,
		Elapsed:      report.Elapsed,
	}, nil
}

type MoveaRequest struct {
	LeadfieldID    string
	TotalCurrentMA float64
	ROICenter      [3]float64
	ROIRadiusMM    float64
	GreyMatterTags []int
	PopulationSize int
	Generations    int
	EliteCount     int
	TournamentSize int
	Workers        int
	Seed           int64
	DualObjective  bool
	Backend        string
}

type MoveaSummary struct {
	RunID            string
	ArtifactsDir     string
	BestMontage      string
	BestCost         float64
	BestByGeneration []float64
	FrontSize        int
	Front            []model.ParetoIndividual
}

// Movea runs the evolutionary optimizer and persists the Pareto front,
// a run summary and the artifact directory.
func (c *Client) Movea(ctx context.Context, req MoveaRequest) (MoveaSummary, error) {
	if req.LeadfieldID == "" {
		return MoveaSummary{}, fmt.Errorf("%w: leadfield id is required", model.ErrConfiguration)
	}
	if req.TotalCurrentMA <= 0 {
		req.TotalCurrentMA = defaultTotalCurrentMA
	}
	if req.ROIRadiusMM <= 0 {
		req.ROIRadiusMM = defaultROIRadiusMM
	}
	if len(req.GreyMatterTags) == 0 {
		req.GreyMatterTags = defaultGreyMatterTags
	}
	if req.PopulationSize <= 0 {
		req.PopulationSize = 50
	}
	if req.Generations <= 0 {
		req.Generations = 100
	}
	if req.EliteCount <= 0 {
		req.EliteCount = req.PopulationSize / 5
		if req.EliteCount < 1 {
			req.EliteCount = 1
		}
	}
	if req.Workers <= 0 {
		req.Workers = defaultWorkers
	}

	ds, err := leadfield.Load(ctx, c.store, req.LeadfieldID)
	if err != nil {
		return MoveaSummary{}, err
	}

	backend, err := field.NewBackend(req.Backend)
	if err != nil {
		return MoveaSummary{}, err
	}

	opt, err := movea.NewOptimizer(movea.OptimizerConfig{
		TotalCurrentMA: req.TotalCurrentMA,
		GreyMatterTags: req.GreyMatterTags,
		Backend:        backend,
		Logger:         c.logger,
	}, ds.Leadfield, ds.Electrodes, ds.Mesh)
	if err != nil {
		return MoveaSummary{}, err
	}
	if err := opt.SetTarget(req.ROICenter, req.ROIRadiusMM); err != nil {
		return MoveaSummary{}, err
	}

	evo, err := movea.NewEvolution(movea.Config{
		PopulationSize: req.PopulationSize,
		Generations:    req.Generations,
		EliteCount:     req.EliteCount,
		TournamentSize: req.TournamentSize,
		Workers:        req.Workers,
		Seed:           req.Seed,
		DualObjective:  req.DualObjective,
		Logger:         c.logger,
	}, opt)
	if err != nil {
		return MoveaSummary{}, err
	}

	result, err := evo.Run(ctx)
	if err != nil {
		return MoveaSummary{}, err
	}

	runID := uuid.NewString()
	individuals := make([]model.ParetoIndividual, 0, result.Front.Len())
	for _, member := range result.Front.Members() {
		individuals = append(individuals, model.ParetoIndividual{
			Electrodes: member.Electrodes,
			Ratio:      member.Ratio,
			Intensity:  -member.Cost[0],
			Focality:   -member.Cost[1],
		})
	}

	front := model.ParetoFrontRecord{
		RunID:       runID,
		LeadfieldID: req.LeadfieldID,
		Generations: req.Generations,
		Individuals: individuals,
	}
	storage.Stamp(&front.VersionedRecord)
	if err := c.store.SaveParetoFront(ctx, front); err != nil {
		return MoveaSummary{}, fmt.Errorf("persist pareto front %s: %w", runID, err)
	}

	var bestMontage string
	var bestCost float64
	if len(result.FinalPopulation) > 0 {
		best := result.FinalPopulation[0]
		bestMontage = opt.NameFor(best)
		bestCost = best.Scalar
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	summary := model.RunSummaryRecord{
		RunID:         runID,
		Kind:          "movea",
		LeadfieldID:   req.LeadfieldID,
		CreatedAtUTC:  createdAt,
		BestMontage:   bestMontage,
		BestTImeanROI: -bestCost,
	}
	storage.Stamp(&summary.VersionedRecord)
	if err := c.store.SaveRunSummary(ctx, summary); err != nil {
		return MoveaSummary{}, fmt.Errorf("persist run summary %s: %w", runID, err)
	}

	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          runID,
			Kind:           "movea",
			LeadfieldID:    req.LeadfieldID,
			TotalCurrentMA: req.TotalCurrentMA,
			ROICenter:      req.ROICenter[:],
			ROIRadiusMM:    req.ROIRadiusMM,
			GreyMatterTags: req.GreyMatterTags,
			Workers:        req.Workers,
			Backend:        backend.Name(),
			PopulationSize: req.PopulationSize,
			Generations:    req.Generations,
			EliteCount:     req.EliteCount,
			TournamentSize: req.TournamentSize,
			Seed:           req.Seed,
			DualObjective:  req.DualObjective,
		},
		Front:            &front,
		BestByGeneration: result.BestByGeneration,
	})
	if err != nil {
		return MoveaSummary{}, err
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:         runID,
		Kind:          "movea",
		LeadfieldID:   req.LeadfieldID,
		BestMontage:   bestMontage,
		BestTImeanROI: -bestCost,
		CreatedAtUTC:  createdAt,
	}); err != nil {
		return MoveaSummary{}, err
	}

	return MoveaSummary{
		RunID:            runID,
		ArtifactsDir:     runDir,
		BestMontage:      bestMontage,
		BestCost:         bestCost,
		BestByGeneration: result.BestByGeneration,
		FrontSize:        len(individuals),
		Front:            individuals,
	}, nil
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	Kind          string
	LeadfieldID   string
	CreatedAtUTC  string
	BestMontage   string
	BestTImeanROI float64
	Interrupted   bool
}

// Runs lists stored run summaries, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	summaries, err := c.store.ListRunSummaries(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]RunItem, 0, len(summaries))
	for i := len(summaries) - 1; i >= 0; i-- {
		s := summaries[i]
		items = append(items, RunItem{
			RunID:         s.RunID,
			Kind:          s.Kind,
			LeadfieldID:   s.LeadfieldID,
			CreatedAtUTC:  s.CreatedAtUTC,
			BestMontage:   s.BestMontage,
			BestTImeanROI: s.BestTImeanROI,
			Interrupted:   s.Interrupted,
		})
		if req.Limit > 0 && len(items) >= req.Limit {
			break
		}
	}
	return items, nil
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

// Export copies a run's artifact directory into the exports dir.
func (c *Client) Export(req ExportRequest) (ExportSummary, error) {
	runID := req.RunID
	if req.Latest {
		index, err := stats.ListRunIndex(c.benchmarksDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(index) == 0 {
			return ExportSummary{}, fmt.Errorf("no runs recorded under %s", c.benchmarksDir)
		}
		runID = index[0].RunID
	}
	if runID == "" {
		return ExportSummary{}, fmt.Errorf("%w: run id is required", model.ErrConfiguration)
	}

	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}
	dir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, outDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: dir}, nil
}

func bestByMeanROI(results map[string]model.MontageMetrics) (string, model.MontageMetrics) {
	var bestName string
	var best model.MontageMetrics
	for name, metrics := range results {
		if bestName == "" || metrics.TImeanROI > best.TImeanROI ||
			(metrics.TImeanROI == best.TImeanROI && name < bestName) {
			bestName = name
			best = metrics
		}
	}
	return bestName, best
}
