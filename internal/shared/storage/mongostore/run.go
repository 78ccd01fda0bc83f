package mongostore

import (
	"context"
	"time"

	"chemsim/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// RunStore
// ============================================================================

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	return insertOne(ctx, s.col(ColRuns), run)
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return findOne[model.Run](ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) GetLatestRunBySlug(ctx context.Context, slug string) (*model.Run, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return findOne[model.Run](ctx, s.col(ColRuns), bson.D{{Key: "slug", Value: slug}}, opts)
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	return findMany[model.Run](ctx, s.col(ColRuns), bson.D{}, opts)
}

func (s *Store) ListUnfinishedRuns(ctx context.Context, before time.Time) ([]*model.Run, error) {
	filter := bson.D{
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{model.RunStatusQueued, model.RunStatusRunning}}}},
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: before}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(1000)
	return findMany[model.Run](ctx, s.col(ColRuns), filter, opts)
}

func (s *Store) MarkRunStarted(ctx context.Context, id string) error {
	now := time.Now()
	return updateFields(ctx, s.col(ColRuns), id, bson.D{
		{Key: "status", Value: model.RunStatusRunning},
		{Key: "started_at", Value: now},
		{Key: "updated_at", Value: now},
	})
}

func (s *Store) UpdateRunStage(ctx context.Context, id string, stage model.Stage, modelCalls int) error {
	return updateFields(ctx, s.col(ColRuns), id, bson.D{
		{Key: "stage", Value: stage},
		{Key: "model_calls", Value: modelCalls},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) FinishRun(ctx context.Context, id string, outcome model.RunOutcome) error {
	now := time.Now()
	update := bson.D{
		{Key: "status", Value: outcome.Status},
		{Key: "stage", Value: outcome.Stage},
		{Key: "repaired", Value: outcome.Repaired},
		{Key: "model_calls", Value: outcome.ModelCalls},
		{Key: "warnings", Value: outcome.Warnings},
		{Key: "finished_at", Value: now},
		{Key: "updated_at", Value: now},
	}
	if outcome.ArchivePath != "" {
		update = append(update, bson.E{Key: "archive_path", Value: outcome.ArchivePath})
	}
	if outcome.Error != "" {
		update = append(update, bson.E{Key: "error", Value: outcome.Error})
	}
	return updateFields(ctx, s.col(ColRuns), id, update)
}
