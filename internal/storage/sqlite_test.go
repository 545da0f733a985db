//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"tistim/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "tistim.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return store
}

func TestSQLiteLeadfieldRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)

	record := testLeadfieldRecord("lf-1")
	if err := store.SaveLeadfield(context.Background(), record); err != nil {
		t.Fatalf("save leadfield: %v", err)
	}

	got, ok, err := store.GetLeadfield(context.Background(), "lf-1")
	if err != nil || !ok {
		t.Fatalf("get leadfield: ok=%v err=%v", ok, err)
	}
	if len(got.Tensor) != len(record.Tensor) {
		t.Fatalf("tensor length: got=%d want=%d", len(got.Tensor), len(record.Tensor))
	}
	for i := range got.Tensor {
		if got.Tensor[i] != record.Tensor[i] {
			t.Fatalf("tensor value %d: got=%g want=%g", i, got.Tensor[i], record.Tensor[i])
		}
	}
	if got.NElements != record.NElements || len(got.ElectrodeNames) != len(record.ElectrodeNames) {
		t.Fatalf("meta lost: %+v", got)
	}

	if _, ok, _ := store.GetLeadfield(context.Background(), "missing"); ok {
		t.Fatal("missing leadfield reported present")
	}
}

func TestSQLiteRunRecordsRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)

	report := model.SearchReportRecord{
		RunID:       "run-1",
		LeadfieldID: "lf-1",
		Mode:        "bucketed",
		Results:     map[string]model.MontageMetrics{"m": {TImeanROI: 0.7}},
		Processed:   1,
		Total:       1,
	}
	Stamp(&report.VersionedRecord)
	if err := store.SaveSearchReport(context.Background(), report); err != nil {
		t.Fatalf("save report: %v", err)
	}
	gotReport, ok, err := store.GetSearchReport(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("get report: ok=%v err=%v", ok, err)
	}
	if gotReport.Results["m"].TImeanROI != 0.7 {
		t.Fatalf("report lost: %+v", gotReport)
	}

	front := model.ParetoFrontRecord{
		RunID:       "run-1",
		LeadfieldID: "lf-1",
		Generations: 5,
		Individuals: []model.ParetoIndividual{{Electrodes: [4]int{3, 1, 0, 2}, Ratio: 0.4, Intensity: 0.2, Focality: 1.1}},
	}
	Stamp(&front.VersionedRecord)
	if err := store.SaveParetoFront(context.Background(), front); err != nil {
		t.Fatalf("save front: %v", err)
	}
	gotFront, ok, err := store.GetParetoFront(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("get front: ok=%v err=%v", ok, err)
	}
	if len(gotFront.Individuals) != 1 || gotFront.Individuals[0].Electrodes != [4]int{3, 1, 0, 2} {
		t.Fatalf("front lost: %+v", gotFront)
	}

	summary := model.RunSummaryRecord{
		RunID:        "run-1",
		Kind:         "search",
		LeadfieldID:  "lf-1",
		CreatedAtUTC: "2026-08-31T12:00:00Z",
		BestMontage:  "m",
	}
	Stamp(&summary.VersionedRecord)
	if err := store.SaveRunSummary(context.Background(), summary); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	summaries, err := store.ListRunSummaries(context.Background())
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].BestMontage != "m" {
		t.Fatalf("summaries lost: %+v", summaries)
	}
}

func TestSQLiteSaveOverwrites(t *testing.T) {
	store := newTestSQLiteStore(t)

	record := testLeadfieldRecord("lf-1")
	if err := store.SaveLeadfield(context.Background(), record); err != nil {
		t.Fatalf("save: %v", err)
	}
	record.Tensor[0] = 42
	if err := store.SaveLeadfield(context.Background(), record); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _, err := store.GetLeadfield(context.Background(), "lf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Tensor[0] != 42 {
		t.Fatalf("overwrite lost: got=%g", got.Tensor[0])
	}
}
