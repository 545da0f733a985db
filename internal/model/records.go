package model

// LeadfieldRecord is the persisted form of one leadfield dataset:
// electrode names, mesh geometry and the field tensor. The tensor is
// stored out-of-band as a binary blob, everything else as JSON.
type LeadfieldRecord struct {
	VersionedRecord
	ID             string    `json:"id"`
	ElectrodeNames []string  `json:"electrode_names"`
	NElements      int       `json:"n_elements"`
	Centers        []float64 `json:"centers"`
	Volumes        []float64 `json:"volumes"`
	Tags           []int     `json:"tags"`
	Tensor         []float64 `json:"-"`
}

// SearchReportRecord is the persisted outcome of one exhaustive run.
// Partial results from an interrupted run are saved the same way as a
// completed run, with Interrupted set.
type SearchReportRecord struct {
	VersionedRecord
	RunID       string                    `json:"run_id"`
	LeadfieldID string                    `json:"leadfield_id"`
	Mode        string                    `json:"mode"`
	Results     map[string]MontageMetrics `json:"results"`
	Order       []string                  `json:"order"`
	Processed   int                       `json:"processed"`
	Errored     int                       `json:"errored"`
	Invalid     int                       `json:"invalid"`
	Unprocessed int                       `json:"unprocessed"`
	Total       int                       `json:"total"`
	ElapsedMS   int64                     `json:"elapsed_ms"`
	Interrupted bool                      `json:"interrupted"`
}

// ParetoIndividual is one non-dominated montage genotype with its
// objective values (both maximized).
type ParetoIndividual struct {
	Electrodes [4]int  `json:"electrodes"`
	Ratio      float64 `json:"ratio"`
	Intensity  float64 `json:"intensity"`
	Focality   float64 `json:"focality"`
}

// ParetoFrontRecord is the persisted outcome of one evolutionary run.
type ParetoFrontRecord struct {
	VersionedRecord
	RunID       string             `json:"run_id"`
	LeadfieldID string             `json:"leadfield_id"`
	Generations int                `json:"generations"`
	Individuals []ParetoIndividual `json:"individuals"`
}

// RunSummaryRecord indexes a finished run of either engine.
type RunSummaryRecord struct {
	VersionedRecord
	RunID         string  `json:"run_id"`
	Kind          string  `json:"kind"`
	LeadfieldID   string  `json:"leadfield_id"`
	CreatedAtUTC  string  `json:"created_at_utc"`
	BestMontage   string  `json:"best_montage,omitempty"`
	BestTImeanROI float64 `json:"best_ti_mean_roi"`
	Interrupted   bool    `json:"interrupted"`
}
