package leadfield

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"tistim/internal/model"
	"tistim/internal/storage"
)

func validRecord() model.LeadfieldRecord {
	record := model.LeadfieldRecord{
		ID:             "lf-1",
		ElectrodeNames: []string{"F3", "F4", "P3", "P4"},
		NElements:      2,
		Centers:        []float64{0, 0, 0, 1, 0, 0},
		Volumes:        []float64{1, 1},
		Tags:           []int{2, 1},
		Tensor:         make([]float64, 4*2*3),
	}
	storage.Stamp(&record.VersionedRecord)
	return record
}

func TestFromRecordAssemblesDataset(t *testing.T) {
	ds, err := FromRecord(validRecord())
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if ds.Leadfield.NElectrodes != 4 || ds.Leadfield.NElements != 2 {
		t.Fatalf("leadfield shape: %+v", ds.Leadfield)
	}
	if ds.Mesh.NElements() != 2 {
		t.Fatalf("mesh elements: got=%d want=2", ds.Mesh.NElements())
	}
	if row, ok := ds.Electrodes.Row("P3"); !ok || row != 2 {
		t.Fatalf("electrode lookup: row=%d ok=%v", row, ok)
	}
}

func TestFromRecordRejectsInconsistency(t *testing.T) {
	short := validRecord()
	short.Tensor = short.Tensor[:5]
	if _, err := FromRecord(short); err == nil {
		t.Fatal("short tensor accepted")
	}

	mismatch := validRecord()
	mismatch.NElements = 3
	if _, err := FromRecord(mismatch); !errors.Is(err, model.ErrData) {
		t.Fatalf("element mismatch: expected data error, got %v", err)
	}

	noNames := validRecord()
	noNames.ElectrodeNames = nil
	if _, err := FromRecord(noNames); !errors.Is(err, model.ErrData) {
		t.Fatalf("missing names: expected data error, got %v", err)
	}

	dupNames := validRecord()
	dupNames.ElectrodeNames = []string{"F3", "F3", "P3", "P4"}
	if _, err := FromRecord(dupNames); err == nil {
		t.Fatal("duplicate electrode names accepted")
	}
}

func TestLoadMissingLeadfield(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := Load(context.Background(), store, "nope"); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error for missing leadfield, got %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	record := validRecord()
	record.Tensor[7] = 3.5
	if err := store.SaveLeadfield(context.Background(), record); err != nil {
		t.Fatalf("save: %v", err)
	}

	ds, err := Load(context.Background(), store, "lf-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ds.Leadfield.Data[7] != 3.5 {
		t.Fatalf("tensor value lost: got=%g", ds.Leadfield.Data[7])
	}
}

func TestImportRaw(t *testing.T) {
	record := validRecord()
	for i := range record.Tensor {
		record.Tensor[i] = float64(i) * 0.5
	}

	header := `{
		"id": "lf-raw",
		"electrode_names": ["F3", "F4", "P3", "P4"],
		"n_elements": 2,
		"centers": [0, 0, 0, 1, 0, 0],
		"volumes": [1, 1],
		"tags": [2, 1]
	}`
	tensor := storage.EncodeTensor(record.Tensor)

	imported, err := ImportRaw(strings.NewReader(header), bytes.NewReader(tensor))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.ID != "lf-raw" {
		t.Fatalf("id: got=%q", imported.ID)
	}
	if imported.SchemaVersion != storage.CurrentSchemaVersion {
		t.Fatal("imported record not version-stamped")
	}
	for i := range record.Tensor {
		if imported.Tensor[i] != record.Tensor[i] {
			t.Fatalf("tensor value %d: got=%g want=%g", i, imported.Tensor[i], record.Tensor[i])
		}
	}
}

func TestImportRawRejectsBadInput(t *testing.T) {
	if _, err := ImportRaw(strings.NewReader("{not json"), bytes.NewReader(nil)); !errors.Is(err, model.ErrData) {
		t.Fatalf("bad header: expected data error, got %v", err)
	}

	header := `{"id": "lf-raw", "electrode_names": ["F3", "F4", "P3", "P4"], "n_elements": 2,
		"centers": [0, 0, 0, 1, 0, 0], "volumes": [1, 1], "tags": [2, 1]}`
	if _, err := ImportRaw(strings.NewReader(header), bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatal("misaligned tensor blob accepted")
	}

	short := storage.EncodeTensor(make([]float64, 5))
	if _, err := ImportRaw(strings.NewReader(header), bytes.NewReader(short)); err == nil {
		t.Fatal("short tensor accepted")
	}

	noID := `{"electrode_names": ["F3"], "n_elements": 1, "centers": [0,0,0], "volumes": [1], "tags": [2]}`
	if _, err := ImportRaw(strings.NewReader(noID), bytes.NewReader(nil)); !errors.Is(err, model.ErrData) {
		t.Fatalf("missing id: expected data error, got %v", err)
	}
}
