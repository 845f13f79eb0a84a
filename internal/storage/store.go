package storage

import (
	"context"

	"hyperevo/internal/model"
)

// Store defines persistence for runs and their derived records.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationStats(ctx context.Context, runID string, stats []model.GenerationStats) error
	GetGenerationStats(ctx context.Context, runID string) ([]model.GenerationStats, bool, error)
	SaveTrials(ctx context.Context, runID string, trials []model.TrialRecord) error
	GetTrials(ctx context.Context, runID string) ([]model.TrialRecord, bool, error)
}
