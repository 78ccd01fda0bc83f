package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chemsim/internal/shared/model"
	"chemsim/internal/shared/storage"
)

const runColumns = `id, slug, experiment_name, request, status, stage, error, archive_path,
	repaired, model_calls, warnings, created_at, started_at, finished_at, updated_at`

// CreateRun 创建 Run
func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	warnings, err := marshalWarnings(run.Warnings)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`)
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.Slug, run.ExperimentName, jsonParam(run.Request), run.Status, nullString(string(run.Stage)),
		run.Error, run.ArchivePath, run.Repaired, run.ModelCalls, jsonParam(warnings),
		run.CreatedAt, run.StartedAt, run.FinishedAt, run.UpdatedAt)
	return err
}

// GetRun 获取 Run
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs WHERE id = $1`)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetLatestRunBySlug 获取该 slug 最新创建的 Run
func (s *Store) GetLatestRunBySlug(ctx context.Context, slug string) (*model.Run, error) {
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs WHERE slug = $1 ORDER BY created_at DESC LIMIT 1`)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns 列出最近的 Run
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC LIMIT $1`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListUnfinishedRuns 列出 before 之前创建、仍处于 queued/running 的 Run
func (s *Store) ListUnfinishedRuns(ctx context.Context, before time.Time) ([]*model.Run, error) {
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs
		WHERE status IN ('queued', 'running') AND created_at < $1
		ORDER BY created_at ASC
		LIMIT 1000`)
	rows, err := s.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// MarkRunStarted 标记 Run 开始执行
func (s *Store) MarkRunStarted(ctx context.Context, id string) error {
	now := time.Now()
	query := s.rebind(`UPDATE runs SET status = $1, started_at = $2, updated_at = $3 WHERE id = $4`)
	return s.execOne(ctx, query, model.RunStatusRunning, now, now, id)
}

// UpdateRunStage 更新当前阶段
func (s *Store) UpdateRunStage(ctx context.Context, id string, stage model.Stage, modelCalls int) error {
	query := s.rebind(`UPDATE runs SET stage = $1, model_calls = $2, updated_at = $3 WHERE id = $4`)
	return s.execOne(ctx, query, stage, modelCalls, time.Now(), id)
}

// FinishRun 写入终态结果
func (s *Store) FinishRun(ctx context.Context, id string, outcome model.RunOutcome) error {
	warnings, err := marshalWarnings(outcome.Warnings)
	if err != nil {
		return err
	}
	now := time.Now()
	query := s.rebind(`UPDATE runs
		SET status = $1, stage = $2, error = $3, archive_path = $4, repaired = $5,
		    model_calls = $6, warnings = $7, finished_at = $8, updated_at = $9
		WHERE id = $10`)
	return s.execOne(ctx, query,
		outcome.Status, nullString(string(outcome.Stage)), nullString(outcome.Error), nullString(outcome.ArchivePath),
		outcome.Repaired, outcome.ModelCalls, jsonParam(warnings), now, now, id)
}

// execOne 执行更新，未命中任何行时返回 storage.ErrNotFound
func (s *Store) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanRun 辅助函数
func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Run, error) {
	run := &model.Run{}
	var (
		request  NullableJSON
		warnings NullableJSON
		stage    sql.NullString
	)
	err := scanner.Scan(
		&run.ID, &run.Slug, &run.ExperimentName, &request.Data, &run.Status, &stage,
		&run.Error, &run.ArchivePath, &run.Repaired, &run.ModelCalls, &warnings.Data,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Request = request.Value()
	run.Stage = model.Stage(stage.String)
	if raw := warnings.Value(); raw != nil {
		if err := json.Unmarshal(raw, &run.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings of run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// scanRuns 批量扫描
func scanRuns(rows *sql.Rows) ([]*model.Run, error) {
	runs := []*model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func marshalWarnings(warnings []string) ([]byte, error) {
	if len(warnings) == 0 {
		return nil, nil
	}
	return json.Marshal(warnings)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
