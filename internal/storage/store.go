package storage

import (
	"context"

	"tistim/internal/model"
)

// Store defines persistence for leadfield datasets and run outcomes.
type Store interface {
	Init(ctx context.Context) error
	SaveLeadfield(ctx context.Context, record model.LeadfieldRecord) error
	GetLeadfield(ctx context.Context, id string) (model.LeadfieldRecord, bool, error)
	ListLeadfields(ctx context.Context) ([]string, error)
	SaveSearchReport(ctx context.Context, record model.SearchReportRecord) error
	GetSearchReport(ctx context.Context, runID string) (model.SearchReportRecord, bool, error)
	SaveParetoFront(ctx context.Context, record model.ParetoFrontRecord) error
	GetParetoFront(ctx context.Context, runID string) (model.ParetoFrontRecord, bool, error)
	SaveRunSummary(ctx context.Context, record model.RunSummaryRecord) error
	ListRunSummaries(ctx context.Context) ([]model.RunSummaryRecord, error)
}
