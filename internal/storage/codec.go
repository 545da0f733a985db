package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"tistim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp marks a record with the current schema and codec versions.
func Stamp(v *model.VersionedRecord) {
	v.SchemaVersion = CurrentSchemaVersion
	v.CodecVersion = CurrentCodecVersion
}

// EncodeLeadfieldMeta serializes everything except the field tensor,
// which is stored out-of-band via EncodeTensor.
func EncodeLeadfieldMeta(record model.LeadfieldRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeLeadfieldMeta(data []byte) (model.LeadfieldRecord, error) {
	var record model.LeadfieldRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.LeadfieldRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.LeadfieldRecord{}, err
	}
	return record, nil
}

// EncodeTensor packs the field tensor as little-endian float64s.
func EncodeTensor(tensor []float64) []byte {
	out := make([]byte, 8*len(tensor))
	for i, v := range tensor {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func DecodeTensor(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("tensor blob length %d is not a multiple of 8", len(data))
	}
	tensor := make([]float64, len(data)/8)
	for i := range tensor {
		tensor[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return tensor, nil
}

func EncodeSearchReport(record model.SearchReportRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeSearchReport(data []byte) (model.SearchReportRecord, error) {
	var record model.SearchReportRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.SearchReportRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.SearchReportRecord{}, err
	}
	return record, nil
}

func EncodeParetoFront(record model.ParetoFrontRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeParetoFront(data []byte) (model.ParetoFrontRecord, error) {
	var record model.ParetoFrontRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ParetoFrontRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ParetoFrontRecord{}, err
	}
	return record, nil
}

func EncodeRunSummary(record model.RunSummaryRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeRunSummary(data []byte) (model.RunSummaryRecord, error) {
	var record model.RunSummaryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.RunSummaryRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.RunSummaryRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
