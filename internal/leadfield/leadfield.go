package leadfield

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"tistim/internal/model"
	"tistim/internal/storage"
)

// Dataset is a fully validated, ready-to-evaluate leadfield: the field
// tensor, the mesh it was computed on and the electrode name lookup.
// Loaded once at engine start and shared read-only afterwards.
type Dataset struct {
	Leadfield  *model.Leadfield
	Mesh       *model.Mesh
	Electrodes *model.ElectrodeIndex
}

// FromRecord validates a persisted record and assembles the dataset.
// Any inconsistency between tensor, mesh and electrode names is a data
// error, not a configuration one.
func FromRecord(record model.LeadfieldRecord) (*Dataset, error) {
	if len(record.ElectrodeNames) == 0 {
		return nil, fmt.Errorf("%w: leadfield %s has no electrode names", model.ErrData, record.ID)
	}
	if record.NElements <= 0 {
		return nil, fmt.Errorf("%w: leadfield %s has no elements", model.ErrData, record.ID)
	}

	lf := &model.Leadfield{
		NElectrodes: len(record.ElectrodeNames),
		NElements:   record.NElements,
		Data:        record.Tensor,
	}
	if err := lf.Validate(); err != nil {
		return nil, fmt.Errorf("leadfield %s: %w", record.ID, err)
	}

	mesh := &model.Mesh{
		Centers: record.Centers,
		Volumes: record.Volumes,
		Tags:    record.Tags,
	}
	if err := mesh.Validate(); err != nil {
		return nil, fmt.Errorf("leadfield %s mesh: %w", record.ID, err)
	}
	if mesh.NElements() != record.NElements {
		return nil, fmt.Errorf("%w: leadfield %s mesh has %d elements, tensor %d",
			model.ErrData, record.ID, mesh.NElements(), record.NElements)
	}

	ix, err := model.NewElectrodeIndex(record.ElectrodeNames)
	if err != nil {
		return nil, fmt.Errorf("leadfield %s: %w", record.ID, err)
	}

	return &Dataset{Leadfield: lf, Mesh: mesh, Electrodes: ix}, nil
}

// Load fetches and assembles a dataset from the store. A missing id is
// a data error, since engines cannot start without their leadfield.
func Load(ctx context.Context, store storage.Store, id string) (*Dataset, error) {
	record, ok, err := store.GetLeadfield(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load leadfield %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: leadfield %s not found", model.ErrData, id)
	}
	return FromRecord(record)
}

// rawHeader is the JSON header the external leadfield generator writes
// next to the binary tensor.
type rawHeader struct {
	ID             string    `json:"id"`
	ElectrodeNames []string  `json:"electrode_names"`
	NElements      int       `json:"n_elements"`
	Centers        []float64 `json:"centers"`
	Volumes        []float64 `json:"volumes"`
	Tags           []int     `json:"tags"`
}

// ImportRaw ingests a generator export: a JSON header plus a raw
// little-endian float64 tensor laid out [electrode][element][xyz]. The
// returned record is validated and version-stamped, ready to persist.
func ImportRaw(header io.Reader, tensor io.Reader) (model.LeadfieldRecord, error) {
	var h rawHeader
	if err := json.NewDecoder(header).Decode(&h); err != nil {
		return model.LeadfieldRecord{}, fmt.Errorf("%w: parse leadfield header: %v", model.ErrData, err)
	}
	if h.ID == "" {
		return model.LeadfieldRecord{}, fmt.Errorf("%w: leadfield header has no id", model.ErrData)
	}

	blob, err := io.ReadAll(tensor)
	if err != nil {
		return model.LeadfieldRecord{}, fmt.Errorf("read leadfield tensor: %w", err)
	}
	values, err := storage.DecodeTensor(blob)
	if err != nil {
		return model.LeadfieldRecord{}, fmt.Errorf("%w: leadfield %s tensor: %v", model.ErrData, h.ID, err)
	}

	record := model.LeadfieldRecord{
		ID:             h.ID,
		ElectrodeNames: h.ElectrodeNames,
		NElements:      h.NElements,
		Centers:        h.Centers,
		Volumes:        h.Volumes,
		Tags:           h.Tags,
		Tensor:         values,
	}
	storage.Stamp(&record.VersionedRecord)

	if _, err := FromRecord(record); err != nil {
		return model.LeadfieldRecord{}, err
	}
	return record, nil
}
