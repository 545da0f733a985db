package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	tiapi "tistim/pkg/tistim"
)

// loadOrDefaultSearchRequest returns a zero request when no config path is
// given, so flag overrides alone can drive a run.
func loadOrDefaultSearchRequest(path string) (tiapi.SearchRequest, error) {
	if path == "" {
		return tiapi.SearchRequest{}, nil
	}
	return loadSearchRequestFromConfig(path)
}

func loadOrDefaultMoveaRequest(path string) (tiapi.MoveaRequest, error) {
	if path == "" {
		return tiapi.MoveaRequest{}, nil
	}
	return loadMoveaRequestFromConfig(path)
}

func loadSearchRequestFromConfig(path string) (tiapi.SearchRequest, error) {
	raw, err := readConfigMap(path)
	if err != nil {
		return tiapi.SearchRequest{}, err
	}

	var req tiapi.SearchRequest
	if v, ok := asString(raw["leadfield_id"]); ok {
		req.LeadfieldID = v
	}
	if v, ok := asString(raw["mode"]); ok {
		req.Mode = v
	}
	if v, ok := asStringSlice(raw["e1_plus"]); ok {
		req.E1Plus = v
	}
	if v, ok := asStringSlice(raw["e1_minus"]); ok {
		req.E1Minus = v
	}
	if v, ok := asStringSlice(raw["e2_plus"]); ok {
		req.E2Plus = v
	}
	if v, ok := asStringSlice(raw["e2_minus"]); ok {
		req.E2Minus = v
	}
	if v, ok := asStringSlice(raw["pool"]); ok {
		req.Pool = v
	}
	if v, ok := asFloat64(raw["total_current_ma"]); ok {
		req.TotalCurrentMA = v
	}
	if v, ok := asFloat64(raw["current_step_ma"]); ok {
		req.CurrentStepMA = v
	}
	if v, ok := asFloat64(raw["channel_cap_ma"]); ok {
		req.ChannelCapMA = v
	}
	if v, ok := asFloat64Triple(raw["roi_center"]); ok {
		req.ROICenter = v
	}
	if v, ok := asFloat64(raw["roi_radius_mm"]); ok {
		req.ROIRadiusMM = v
	}
	if v, ok := asInt(raw["roi_tag"]); ok {
		req.ROITag = v
		req.ROIByTag = true
	}
	if v, ok := asIntSlice(raw["grey_matter_tags"]); ok {
		req.GreyMatterTags = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asString(raw["backend"]); ok {
		req.Backend = v
	}
	return req, nil
}

func loadMoveaRequestFromConfig(path string) (tiapi.MoveaRequest, error) {
	raw, err := readConfigMap(path)
	if err != nil {
		return tiapi.MoveaRequest{}, err
	}

	var req tiapi.MoveaRequest
	if v, ok := asString(raw["leadfield_id"]); ok {
		req.LeadfieldID = v
	}
	if v, ok := asFloat64(raw["total_current_ma"]); ok {
		req.TotalCurrentMA = v
	}
	if v, ok := asFloat64Triple(raw["roi_center"]); ok {
		req.ROICenter = v
	}
	if v, ok := asFloat64(raw["roi_radius_mm"]); ok {
		req.ROIRadiusMM = v
	}
	if v, ok := asIntSlice(raw["grey_matter_tags"]); ok {
		req.GreyMatterTags = v
	}
	if v, ok := asInt(raw["population_size"]); ok {
		req.PopulationSize = v
	}
	if v, ok := asInt(raw["generations"]); ok {
		req.Generations = v
	}
	if v, ok := asInt(raw["elite_count"]); ok {
		req.EliteCount = v
	}
	if v, ok := asInt(raw["tournament_size"]); ok {
		req.TournamentSize = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asBool(raw["dual_objective"]); ok {
		req.DualObjective = v
	}
	if v, ok := asString(raw["backend"]); ok {
		req.Backend = v
	}
	return req, nil
}

func readConfigMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

// splitList turns a comma separated flag value into trimmed names.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asFloat64(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asInt64(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func asStringSlice(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func asIntSlice(v any) ([]int, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, int(f))
	}
	return out, true
}

func asFloat64Triple(v any) ([3]float64, bool) {
	items, ok := v.([]any)
	if !ok || len(items) != 3 {
		return [3]float64{}, false
	}
	var out [3]float64
	for i, item := range items {
		f, ok := item.(float64)
		if !ok {
			return [3]float64{}, false
		}
		out[i] = f
	}
	return out, true
}
