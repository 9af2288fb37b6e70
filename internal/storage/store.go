package storage

import (
	"context"

	"moran/internal/model"
)

// Store persists Moran runs and their per-generation histories.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SavePopulationHistory(ctx context.Context, runID string, history []model.Distribution) error
	GetPopulationHistory(ctx context.Context, runID string) ([]model.Distribution, bool, error)
	SaveScoreHistory(ctx context.Context, runID string, history [][]float64) error
	GetScoreHistory(ctx context.Context, runID string) ([][]float64, bool, error)
	SaveReplacements(ctx context.Context, runID string, records []model.ReplacementRecord) error
	GetReplacements(ctx context.Context, runID string) ([]model.ReplacementRecord, bool, error)
	SaveDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
}

// Resetter is implemented by stores that can wipe all persisted data.
type Resetter interface {
	Reset(ctx context.Context) error
}
