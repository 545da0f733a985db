package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tistim/internal/storage"
	tiapi "tistim/pkg/tistim"
)

const (
	benchmarksDir = "benchmarks"
	exportsDir    = "exports"
	defaultDBPath = "tistim.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "leadfields":
		return runLeadfields(ctx, args[1:])
	case "search":
		return runSearch(ctx, args[1:])
	case "movea":
		return runMovea(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newClient(storeKind, dbPath string) (*tiapi.Client, error) {
	return tiapi.New(tiapi.Options{
		StoreKind:     storeKind,
		DBPath:        dbPath,
		BenchmarksDir: benchmarksDir,
		ExportsDir:    exportsDir,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	headerPath := fs.String("header", "", "leadfield JSON header path")
	tensorPath := fs.String("tensor", "", "leadfield binary tensor path")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *headerPath == "" || *tensorPath == "" {
		return usageError("import requires -header and -tensor")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.ImportLeadfield(ctx, *headerPath, *tensorPath)
	if err != nil {
		return err
	}
	fmt.Printf("imported leadfield id=%s electrodes=%d elements=%d\n",
		summary.LeadfieldID, summary.NElectrodes, summary.NElements)
	return nil
}

func runLeadfields(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leadfields", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	ids, err := client.Leadfields(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no leadfields stored")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON search config path")
	leadfieldID := fs.String("leadfield", "", "leadfield id")
	mode := fs.String("mode", "", "enumeration mode: bucketed|all_combinations")
	e1Plus := fs.String("e1-plus", "", "comma separated channel 1 anode candidates")
	e1Minus := fs.String("e1-minus", "", "comma separated channel 1 cathode candidates")
	e2Plus := fs.String("e2-plus", "", "comma separated channel 2 anode candidates")
	e2Minus := fs.String("e2-minus", "", "comma separated channel 2 cathode candidates")
	pool := fs.String("pool", "", "comma separated electrode pool for all_combinations mode")
	totalCurrent := fs.Float64("total-ma", 0, "total current in mA")
	currentStep := fs.Float64("step-ma", 0, "current split step in mA")
	channelCap := fs.Float64("cap-ma", 0, "per-channel current cap in mA (0 disables)")
	roiCenter := fs.String("roi-center", "", "ROI center as x,y,z in mm")
	radius := fs.Float64("roi-radius", 0, "spherical ROI radius in mm")
	workers := fs.Int("workers", 0, "worker count")
	backend := fs.String("backend", "", "field backend: scalar|blas")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultSearchRequest(*configPath)
	if err != nil {
		return err
	}
	if *leadfieldID != "" {
		req.LeadfieldID = *leadfieldID
	}
	if *mode != "" {
		req.Mode = *mode
	}
	if names := splitList(*e1Plus); len(names) > 0 {
		req.E1Plus = names
	}
	if names := splitList(*e1Minus); len(names) > 0 {
		req.E1Minus = names
	}
	if names := splitList(*e2Plus); len(names) > 0 {
		req.E2Plus = names
	}
	if names := splitList(*e2Minus); len(names) > 0 {
		req.E2Minus = names
	}
	if names := splitList(*pool); len(names) > 0 {
		req.Pool = names
	}
	if *totalCurrent > 0 {
		req.TotalCurrentMA = *totalCurrent
	}
	if *currentStep > 0 {
		req.CurrentStepMA = *currentStep
	}
	if *channelCap > 0 {
		req.ChannelCapMA = *channelCap
	}
	if *roiCenter != "" {
		center, err := parseTriple(*roiCenter)
		if err != nil {
			return err
		}
		req.ROICenter = center
	}
	if *radius > 0 {
		req.ROIRadiusMM = *radius
	}
	if *workers > 0 {
		req.Workers = *workers
	}
	if *backend != "" {
		req.Backend = *backend
	}
	req.HandleSignals = true

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.Search(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(summary)
	}
	fmt.Printf("run %s finished: processed=%d errored=%d invalid=%d unprocessed=%d total=%d interrupted=%v\n",
		summary.RunID, summary.Processed, summary.Errored, summary.Invalid,
		summary.Unprocessed, summary.Total, summary.Interrupted)
	if summary.BestMontage != "" {
		fmt.Printf("best montage %s: ti_mean_roi=%.4f ti_max_roi=%.4f\n",
			summary.BestMontage, summary.BestMetrics.TImeanROI, summary.BestMetrics.TImaxROI)
	}
	fmt.Printf("artifacts: %s\n", summary.ArtifactsDir)
	return nil
}

func runMovea(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("movea", flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON movea config path")
	leadfieldID := fs.String("leadfield", "", "leadfield id")
	totalCurrent := fs.Float64("total-ma", 0, "total current in mA")
	roiCenter := fs.String("roi-center", "", "ROI center as x,y,z in mm")
	radius := fs.Float64("roi-radius", 0, "spherical ROI radius in mm")
	population := fs.Int("pop", 0, "population size")
	generations := fs.Int("gens", 0, "generation count")
	seed := fs.Int64("seed", 0, "rng seed")
	workers := fs.Int("workers", 0, "worker count")
	dual := fs.Bool("dual", false, "optimize intensity and focality jointly")
	backend := fs.String("backend", "", "field backend: scalar|blas")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultMoveaRequest(*configPath)
	if err != nil {
		return err
	}
	if *leadfieldID != "" {
		req.LeadfieldID = *leadfieldID
	}
	if *totalCurrent > 0 {
		req.TotalCurrentMA = *totalCurrent
	}
	if *roiCenter != "" {
		center, err := parseTriple(*roiCenter)
		if err != nil {
			return err
		}
		req.ROICenter = center
	}
	if *radius > 0 {
		req.ROIRadiusMM = *radius
	}
	if *population > 0 {
		req.PopulationSize = *population
	}
	if *generations > 0 {
		req.Generations = *generations
	}
	if *seed != 0 {
		req.Seed = *seed
	}
	if *workers > 0 {
		req.Workers = *workers
	}
	if *dual {
		req.DualObjective = true
	}
	if *backend != "" {
		req.Backend = *backend
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.Movea(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(summary)
	}
	fmt.Printf("run %s finished: generations=%d front=%d\n",
		summary.RunID, len(summary.BestByGeneration), summary.FrontSize)
	if summary.BestMontage != "" {
		fmt.Printf("best montage %s: ti_mean_roi=%.4f\n", summary.BestMontage, -summary.BestCost)
	}
	fmt.Printf("artifacts: %s\n", summary.ArtifactsDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to print (<=0 for all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit runs as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	runs, err := client.Runs(ctx, tiapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, item := range runs {
		fmt.Printf("%s  %-6s  leadfield=%s  best=%.4f  %s  interrupted=%v\n",
			item.CreatedAtUTC, item.Kind, item.LeadfieldID, item.BestTImeanROI,
			item.BestMontage, item.Interrupted)
	}
	return nil
}

func runExport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", "", "destination directory (default: exports)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient("memory", defaultDBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(tiapi.ExportRequest{
		RunID:  *runID,
		Latest: *latest,
		OutDir: *outDir,
	})
	if err != nil {
		return err
	}
	fmt.Printf("exported run %s to %s\n", summary.RunID, summary.Directory)
	return nil
}

func parseTriple(value string) ([3]float64, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return [3]float64{}, fmt.Errorf("expected x,y,z but got %q", value)
	}
	var out [3]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [3]float64{}, fmt.Errorf("bad coordinate %q: %w", part, err)
		}
		out[i] = f
	}
	return out, nil
}

func printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: tistimctl <init|import|leadfields|search|movea|runs|export> [flags]", msg)
}
