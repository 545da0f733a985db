package exsearch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"tistim/internal/field"
	"tistim/internal/mesh"
	"tistim/internal/model"
	"tistim/internal/montage"
)

func testFixture(t *testing.T, nElectrodes, nElements int) (*model.Leadfield, *model.ElectrodeIndex, mesh.Selection, mesh.Selection) {
	t.Helper()

	rng := rand.New(rand.NewSource(21))
	data := make([]float64, nElectrodes*nElements*3)
	for i := range data {
		data[i] = rng.NormFloat64() * 50
	}
	lf := &model.Leadfield{NElectrodes: nElectrodes, NElements: nElements, Data: data}

	names := make([]string, nElectrodes)
	for i := range names {
		names[i] = fmt.Sprintf("E%d", i)
	}
	ix, err := model.NewElectrodeIndex(names)
	if err != nil {
		t.Fatalf("electrode index: %v", err)
	}

	m := &model.Mesh{}
	for i := 0; i < nElements; i++ {
		m.Centers = append(m.Centers, float64(i), 0, 0)
		m.Volumes = append(m.Volumes, 1)
		m.Tags = append(m.Tags, 2)
	}
	roi, err := mesh.SphereIndices(m, [3]float64{0, 0, 0}, 1.5)
	if err != nil {
		t.Fatalf("roi: %v", err)
	}
	gm, err := mesh.GreyMatterIndices(m, []int{2})
	if err != nil {
		t.Fatalf("gm: %v", err)
	}
	return lf, ix, roi, gm
}

func bucketedConfig() Config {
	return Config{
		Mode:           ModeBucketed,
		Roles: montage.Roles{
			E1Plus:  []string{"E0", "E1"},
			E1Minus: []string{"E2"},
			E2Plus:  []string{"E3"},
			E2Minus: []string{"E4", "E5"},
		},
		TotalCurrentMA: 2.0,
		CurrentStepMA:  0.5,
		Workers:        2,
	}
}

func TestBucketedAccountingIdentity(t *testing.T) {
	lf, ix, roi, gm := testFixture(t, 6, 8)
	cfg := bucketedConfig()
	// Overlapping pools so some assignments are non-distinct.
	cfg.Roles.E2Plus = []string{"E0", "E3"}

	engine, err := NewEngine(cfg, lf, ix, roi, gm)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Total != engine.TotalCombinations() {
		t.Fatalf("total mismatch: report=%d analytic=%d", report.Total, engine.TotalCombinations())
	}
	if got := report.Processed + report.Errored + report.Invalid + report.Unprocessed; got != report.Total {
		t.Fatalf("accounting identity broken: %d != %d", got, report.Total)
	}
	if report.Invalid == 0 {
		t.Fatal("overlapping pools must produce invalid assignments")
	}
	if report.Interrupted {
		t.Fatal("uninterrupted run flagged as interrupted")
	}
	if len(report.Results) != report.Processed {
		t.Fatalf("results/processed mismatch: %d vs %d", len(report.Results), report.Processed)
	}
}

func TestAllCombinationsCount(t *testing.T) {
	lf, ix, roi, gm := testFixture(t, 6, 8)
	cfg := Config{
		Mode:           ModeAllCombinations,
		Pool:           []string{"E0", "E1", "E2", "E3", "E4"},
		TotalCurrentMA: 2.0,
		CurrentStepMA:  1.0,
		Workers:        3,
	}
	engine, err := NewEngine(cfg, lf, ix, roi, gm)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	// P(5,4) ordered permutations times one split.
	want := 5 * 4 * 3 * 2 * 1
	if got := engine.TotalCombinations(); got != want {
		t.Fatalf("analytic total: got=%d want=%d", got, want)
	}
	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != want || report.Invalid != 0 {
		t.Fatalf("all-combinations run: processed=%d invalid=%d want processed=%d invalid=0",
			report.Processed, report.Invalid, want)
	}
}

func TestDeterministicOrder(t *testing.T) {
	lf, ix, roi, gm := testFixture(t, 6, 8)
	run := func() []string {
		engine, err := NewEngine(bucketedConfig(), lf, ix, roi, gm)
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		report, err := engine.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return report.Order
	}

	first := run()
	second := run()
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("order lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("order diverges at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

// stopAfterBackend trips the engine's stop flag after n evaluations.
type stopAfterBackend struct {
	inner  field.Backend
	engine *Engine
	after  int64
	count  atomic.Int64
}

func (b *stopAfterBackend) Name() string { return "stop_after" }

func (b *stopAfterBackend) TIFromLeadfield(lf *model.Leadfield, s1, s2 []float64, target []int) ([]float64, error) {
	if b.count.Add(1) >= b.after {
		b.engine.Stop()
	}
	return b.inner.TIFromLeadfield(lf, s1, s2, target)
}

func TestInterruptionReturnsPartialResults(t *testing.T) {
	lf, ix, roi, gm := testFixture(t, 6, 8)
	backend := &stopAfterBackend{inner: field.ScalarBackend{}, after: 6}
	cfg := bucketedConfig()
	cfg.Workers = 1
	cfg.Backend = backend

	engine, err := NewEngine(cfg, lf, ix, roi, gm)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	backend.engine = engine

	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("interrupted run must not be an error: %v", err)
	}
	if !report.Interrupted {
		t.Fatal("expected interrupted report")
	}
	if report.Unprocessed == 0 {
		t.Fatal("expected unprocessed candidates after interruption")
	}
	if report.Processed == 0 {
		t.Fatal("expected completed candidates before interruption")
	}
	if got := report.Processed + report.Errored + report.Invalid + report.Unprocessed; got != report.Total {
		t.Fatalf("accounting identity broken under interruption: %d != %d", got, report.Total)
	}
	// No partial entries: every recorded result carries full metrics.
	if len(report.Results) != report.Processed {
		t.Fatalf("results/processed mismatch: %d vs %d", len(report.Results), report.Processed)
	}
	for name, metrics := range report.Results {
		if metrics.NElements == 0 {
			t.Fatalf("partial entry recorded for %s", name)
		}
	}
}

// failEveryBackend errors on every nth evaluation.
type failEveryBackend struct {
	inner field.Backend
	every int64
	count atomic.Int64
}

func (b *failEveryBackend) Name() string { return "fail_every" }

func (b *failEveryBackend) TIFromLeadfield(lf *model.Leadfield, s1, s2 []float64, target []int) ([]float64, error) {
	if b.count.Add(1)%b.every == 0 {
		return nil, errors.New("synthetic evaluation failure")
	}
	return b.inner.TIFromLeadfield(lf, s1, s2, target)
}

func TestCandidateFailuresAreSkippedNotFatal(t *testing.T) {
	lf, ix, roi, gm := testFixture(t, 6, 8)
	cfg := bucketedConfig()
	cfg.Workers = 1
	cfg.Backend = &failEveryBackend{inner: field.ScalarBackend{}, every: 4}

	engine, err := NewEngine(cfg, lf, ix, roi, gm)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run must survive candidate failures: %v", err)
	}
	if report.Errored == 0 {
		t.Fatal("expected errored candidates")
	}
	if report.Processed == 0 {
		t.Fatal("expected surviving candidates")
	}
	if got := report.Processed + report.Errored + report.Invalid + report.Unprocessed; got != report.Total {
		t.Fatalf("accounting identity broken with failures: %d != %d", got, report.Total)
	}
}

func TestNewEngineFailsFast(t *testing.T) {
	lf, ix, roi, gm := testFixture(t, 6, 8)

	bad := bucketedConfig()
	bad.TotalCurrentMA = 0
	if _, err := NewEngine(bad, lf, ix, roi, gm); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("zero current: expected configuration error, got %v", err)
	}

	bad = bucketedConfig()
	bad.Roles.E1Plus = nil
	if _, err := NewEngine(bad, lf, ix, roi, gm); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("empty pool: expected configuration error, got %v", err)
	}

	if _, err := NewEngine(bucketedConfig(), lf, ix, mesh.Selection{}, gm); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("empty roi: expected configuration error, got %v", err)
	}
}

func TestCurrentSplits(t *testing.T) {
	splits := currentSplits(2.0, 0.5, 0)
	if len(splits) != 3 {
		t.Fatalf("expected 3 splits, got %d: %v", len(splits), splits)
	}
	for _, s := range splits {
		if sum := s[0] + s[1]; sum != 2.0 {
			t.Fatalf("split does not partition total: %v", s)
		}
	}

	capped := currentSplits(2.0, 0.5, 1.0)
	if len(capped) != 1 {
		t.Fatalf("cap should leave only the even split, got %v", capped)
	}
}
