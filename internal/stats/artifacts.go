package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tistim/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the reproducibility record written next to every run's
// results. It captures every knob that shaped the run.
type RunConfig struct {
	RunID          string    `json:"run_id"`
	Kind           string    `json:"kind"`
	LeadfieldID    string    `json:"leadfield_id"`
	Mode           string    `json:"mode,omitempty"`
	E1Plus         []string  `json:"e1_plus,omitempty"`
	E1Minus        []string  `json:"e1_minus,omitempty"`
	E2Plus         []string  `json:"e2_plus,omitempty"`
	E2Minus        []string  `json:"e2_minus,omitempty"`
	Pool           []string  `json:"pool,omitempty"`
	TotalCurrentMA float64   `json:"total_current_ma"`
	CurrentStepMA  float64   `json:"current_step_ma,omitempty"`
	ChannelCapMA   float64   `json:"channel_cap_ma,omitempty"`
	ROICenter      []float64 `json:"roi_center,omitempty"`
	ROIRadiusMM    float64   `json:"roi_radius_mm,omitempty"`
	GreyMatterTags []int     `json:"grey_matter_tags,omitempty"`
	Workers        int       `json:"workers"`
	Backend        string    `json:"backend,omitempty"`
	PopulationSize int       `json:"population_size,omitempty"`
	Generations    int       `json:"generations,omitempty"`
	EliteCount     int       `json:"elite_count,omitempty"`
	TournamentSize int       `json:"tournament_size,omitempty"`
	Seed           int64     `json:"seed,omitempty"`
	DualObjective  bool      `json:"dual_objective,omitempty"`
}

// RunArtifacts bundles everything one run produced. Report is set for
// exhaustive runs, Front and BestByGeneration for evolutionary ones.
type RunArtifacts struct {
	Config           RunConfig                 `json:"config"`
	Report           *model.SearchReportRecord `json:"report,omitempty"`
	Front            *model.ParetoFrontRecord  `json:"front,omitempty"`
	BestByGeneration []float64                 `json:"best_by_generation,omitempty"`
}

// RunIndexEntry is one line of the append-only benchmarks index.
type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	Kind          string  `json:"kind"`
	LeadfieldID   string  `json:"leadfield_id"`
	Mode          string  `json:"mode,omitempty"`
	BestMontage   string  `json:"best_montage,omitempty"`
	BestTImeanROI float64 `json:"best_ti_mean_roi"`
	Processed     int     `json:"processed"`
	Total         int     `json:"total"`
	Interrupted   bool    `json:"interrupted"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes one run's directory under baseDir: always
// config.json, plus results.json/results.csv for exhaustive runs and
// pareto.json/pareto.csv/best_history.json for evolutionary ones.
// Returns the run directory path.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}

	if artifacts.Report != nil {
		if err := writeJSON(filepath.Join(runDir, "results.json"), artifacts.Report); err != nil {
			return "", err
		}
		if err := writeResultsCSV(filepath.Join(runDir, "results.csv"), artifacts.Report); err != nil {
			return "", err
		}
	}

	if artifacts.Front != nil {
		if err := writeJSON(filepath.Join(runDir, "pareto.json"), artifacts.Front); err != nil {
			return "", err
		}
		if err := writeParetoCSV(filepath.Join(runDir, "pareto.csv"), artifacts.Front); err != nil {
			return "", err
		}
	}

	if len(artifacts.BestByGeneration) > 0 {
		if err := writeJSON(filepath.Join(runDir, "best_history.json"),
			map[string]any{"best_by_generation": artifacts.BestByGeneration}); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func writeResultsCSV(path string, report *model.SearchReportRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"montage", "ti_max_roi", "ti_mean_roi", "ti_mean_gm", "focality", "n_elements"}); err != nil {
		return err
	}
	for _, name := range report.Order {
		metrics, ok := report.Results[name]
		if !ok {
			continue
		}
		focality := ""
		if metrics.Focality != nil {
			focality = strconv.FormatFloat(*metrics.Focality, 'f', -1, 64)
		}
		if err := writer.Write([]string{
			name,
			strconv.FormatFloat(metrics.TImaxROI, 'f', -1, 64),
			strconv.FormatFloat(metrics.TImeanROI, 'f', -1, 64),
			strconv.FormatFloat(metrics.TImeanGM, 'f', -1, 64),
			focality,
			strconv.Itoa(metrics.NElements),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeParetoCSV(path string, front *model.ParetoFrontRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"e1_plus", "e1_minus", "e2_plus", "e2_minus", "ratio", "intensity", "focality"}); err != nil {
		return err
	}
	for _, ind := range front.Individuals {
		if err := writer.Write([]string{
			strconv.Itoa(ind.Electrodes[0]),
			strconv.Itoa(ind.Electrodes[1]),
			strconv.Itoa(ind.Electrodes[2]),
			strconv.Itoa(ind.Electrodes[3]),
			strconv.FormatFloat(ind.Ratio, 'f', -1, 64),
			strconv.FormatFloat(ind.Intensity, 'f', -1, 64),
			strconv.FormatFloat(ind.Focality, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// AppendRunIndex upserts an entry keyed by run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory into outDir, skipping the
// files the run kind never produced.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "results.json", "results.csv", "pareto.json", "pareto.csv", "best_history.json"}
	for _, file := range files {
		srcPath := filepath.Join(src, file)
		if _, err := os.Stat(srcPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(srcPath, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// ReadRunConfig loads a run's config; the second return is false when
// the run directory does not exist.
func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

// ReadSearchReport loads the persisted results of an exhaustive run.
func ReadSearchReport(baseDir, runID string) (model.SearchReportRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "results.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.SearchReportRecord{}, false, nil
		}
		return model.SearchReportRecord{}, false, err
	}

	var report model.SearchReportRecord
	if err := json.Unmarshal(data, &report); err != nil {
		return model.SearchReportRecord{}, false, err
	}
	return report, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
