package storage

import (
	"context"
	"sort"
	"sync"

	"tistim/internal/model"
)

type MemoryStore struct {
	mu         sync.RWMutex
	leadfields map[string]model.LeadfieldRecord
	reports    map[string]model.SearchReportRecord
	fronts     map[string]model.ParetoFrontRecord
	summaries  map[string]model.RunSummaryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leadfields = make(map[string]model.LeadfieldRecord)
	s.reports = make(map[string]model.SearchReportRecord)
	s.fronts = make(map[string]model.ParetoFrontRecord)
	s.summaries = make(map[string]model.RunSummaryRecord)
	return nil
}

func (s *MemoryStore) SaveLeadfield(_ context.Context, record model.LeadfieldRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Tensor = append([]float64(nil), record.Tensor...)
	s.leadfields[record.ID] = record
	return nil
}

func (s *MemoryStore) GetLeadfield(_ context.Context, id string) (model.LeadfieldRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.leadfields[id]
	if !ok {
		return model.LeadfieldRecord{}, false, nil
	}
	record.Tensor = append([]float64(nil), record.Tensor...)
	return record, true, nil
}

func (s *MemoryStore) ListLeadfields(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.leadfields))
	for id := range s.leadfields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveSearchReport(_ context.Context, record model.SearchReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetSearchReport(_ context.Context, runID string) (model.SearchReportRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.reports[runID]
	return record, ok, nil
}

func (s *MemoryStore) SaveParetoFront(_ context.Context, record model.ParetoFrontRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Individuals = append([]model.ParetoIndividual(nil), record.Individuals...)
	s.fronts[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetParetoFront(_ context.Context, runID string) (model.ParetoFrontRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.fronts[runID]
	if !ok {
		return model.ParetoFrontRecord{}, false, nil
	}
	record.Individuals = append([]model.ParetoIndividual(nil), record.Individuals...)
	return record, true, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, record model.RunSummaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[record.RunID] = record
	return nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.RunSummaryRecord, 0, len(s.summaries))
	for _, record := range s.summaries {
		summaries = append(summaries, record)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAtUTC != summaries[j].CreatedAtUTC {
			return summaries[i].CreatedAtUTC < summaries[j].CreatedAtUTC
		}
		return summaries[i].RunID < summaries[j].RunID
	})
	return summaries, nil
}
