package stats

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"tistim/internal/model"
)

func searchArtifacts(runID string) RunArtifacts {
	focality := 1.25
	return RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			Kind:           "search",
			LeadfieldID:    "lf-1",
			Mode:           "bucketed",
			E1Plus:         []string{"F3"},
			E1Minus:        []string{"F4"},
			E2Plus:         []string{"P3"},
			E2Minus:        []string{"P4"},
			TotalCurrentMA: 2.0,
			CurrentStepMA:  0.5,
			Workers:        4,
		},
		Report: &model.SearchReportRecord{
			RunID:       runID,
			LeadfieldID: "lf-1",
			Mode:        "bucketed",
			Results: map[string]model.MontageMetrics{
				"F3-F4_P3-P4_1.00-1.00mA": {TImaxROI: 0.8, TImeanROI: 0.4, TImeanGM: 0.32, Focality: &focality, NElements: 12},
				"F3-F4_P3-P4_1.50-0.50mA": {TImaxROI: 0.6, TImeanROI: 0.3, NElements: 12},
			},
			Order:     []string{"F3-F4_P3-P4_1.00-1.00mA", "F3-F4_P3-P4_1.50-0.50mA"},
			Processed: 2,
			Total:     2,
		},
	}
}

func TestWriteRunArtifactsSearch(t *testing.T) {
	baseDir := t.TempDir()
	runDir, err := WriteRunArtifacts(baseDir, searchArtifacts("run-1"))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	for _, file := range []string{"config.json", "results.json", "results.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("missing %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, "pareto.json")); !os.IsNotExist(err) {
		t.Fatal("search run must not write a pareto file")
	}

	file, err := os.Open(filepath.Join(runDir, "results.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv rows: got=%d want=3", len(rows))
	}
	if rows[1][0] != "F3-F4_P3-P4_1.00-1.00mA" {
		t.Fatalf("csv order broken: %v", rows[1])
	}
	// Absent focality renders as an empty cell, not zero.
	if rows[2][4] != "" {
		t.Fatalf("absent focality must stay empty: %q", rows[2][4])
	}
	if rows[1][4] == "" {
		t.Fatal("present focality lost in csv")
	}
}

func TestWriteRunArtifactsMovea(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:          "run-evo",
			Kind:           "movea",
			LeadfieldID:    "lf-1",
			TotalCurrentMA: 2.0,
			PopulationSize: 20,
			Generations:    10,
			Seed:           7,
			DualObjective:  true,
		},
		Front: &model.ParetoFrontRecord{
			RunID:       "run-evo",
			LeadfieldID: "lf-1",
			Generations: 10,
			Individuals: []model.ParetoIndividual{
				{Electrodes: [4]int{0, 1, 2, 3}, Ratio: 0.5, Intensity: 0.3, Focality: 1.2},
			},
		},
		BestByGeneration: []float64{-0.1, -0.2, -0.25},
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range []string{"config.json", "pareto.json", "pareto.csv", "best_history.json"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("missing %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, "results.json")); !os.IsNotExist(err) {
		t.Fatal("evolutionary run must not write search results")
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("missing run id accepted")
	}
}

func TestRunIndexAppendAndList(t *testing.T) {
	baseDir := t.TempDir()

	entries := []RunIndexEntry{
		{RunID: "r1", Kind: "search", LeadfieldID: "lf-1", BestTImeanROI: 0.4, CreatedAtUTC: "2026-08-30T10:00:00Z"},
		{RunID: "r2", Kind: "movea", LeadfieldID: "lf-1", BestTImeanROI: 0.5, CreatedAtUTC: "2026-08-31T10:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(index) != 2 || index[0].RunID != "r2" {
		t.Fatalf("index not newest-first: %+v", index)
	}

	// Re-appending the same run id upserts rather than duplicates.
	updated := entries[0]
	updated.BestTImeanROI = 0.9
	if err := AppendRunIndex(baseDir, updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	index, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("upsert duplicated entry: %+v", index)
	}
	for _, entry := range index {
		if entry.RunID == "r1" && entry.BestTImeanROI != 0.9 {
			t.Fatalf("upsert lost: %+v", entry)
		}
	}
}

func TestListRunIndexMissingFile(t *testing.T) {
	index, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("expected empty index, got %+v", index)
	}
}

func TestExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := WriteRunArtifacts(baseDir, searchArtifacts("run-1")); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	outDir := t.TempDir()
	dst, err := ExportRunArtifacts(baseDir, "run-1", outDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, file := range []string{"config.json", "results.json", "results.csv"} {
		if _, err := os.Stat(filepath.Join(dst, file)); err != nil {
			t.Fatalf("missing exported %s: %v", file, err)
		}
	}

	if _, err := ExportRunArtifacts(baseDir, "missing", outDir); err == nil {
		t.Fatal("export of missing run accepted")
	}
}

func TestReadRunConfigAndReport(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := WriteRunArtifacts(baseDir, searchArtifacts("run-1")); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%v err=%v", ok, err)
	}
	if cfg.Mode != "bucketed" || cfg.TotalCurrentMA != 2.0 {
		t.Fatalf("config lost: %+v", cfg)
	}

	report, ok, err := ReadSearchReport(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read report: ok=%v err=%v", ok, err)
	}
	if report.Processed != 2 || len(report.Results) != 2 {
		t.Fatalf("report lost: %+v", report)
	}

	if _, ok, err := ReadRunConfig(baseDir, "missing"); err != nil || ok {
		t.Fatalf("missing run: ok=%v err=%v", ok, err)
	}
}
