package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"chemsim/internal/shared/model"
)

// MemoryStore 进程内 RunStore 实现
//
// 进程重启后记录丢失，仅用于测试和 database.driver=memory 的单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*model.Run
}

var _ RunStore = (*MemoryStore)(nil)

// NewMemoryStore 创建进程内存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*model.Run)}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return ErrDuplicate
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) GetLatestRunBySlug(ctx context.Context, slug string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Run
	for _, run := range s.runs {
		if run.Slug != slug {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneRun(latest), nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) ListUnfinishedRuns(ctx context.Context, before time.Time) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []*model.Run
	for _, run := range s.runs {
		if !run.Status.IsTerminal() && run.CreatedAt.Before(before) {
			runs = append(runs, cloneRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

func (s *MemoryStore) MarkRunStarted(ctx context.Context, id string) error {
	return s.update(id, func(run *model.Run, now time.Time) {
		run.Status = model.RunStatusRunning
		run.StartedAt = &now
	})
}

func (s *MemoryStore) UpdateRunStage(ctx context.Context, id string, stage model.Stage, modelCalls int) error {
	return s.update(id, func(run *model.Run, now time.Time) {
		run.Stage = stage
		run.ModelCalls = modelCalls
	})
}

func (s *MemoryStore) FinishRun(ctx context.Context, id string, outcome model.RunOutcome) error {
	return s.update(id, func(run *model.Run, now time.Time) {
		applyOutcome(run, outcome, now)
	})
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) update(id string, fn func(run *model.Run, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	fn(run, now)
	run.UpdatedAt = now
	return nil
}

func applyOutcome(run *model.Run, outcome model.RunOutcome, now time.Time) {
	run.Status = outcome.Status
	run.Stage = outcome.Stage
	run.Repaired = outcome.Repaired
	run.ModelCalls = outcome.ModelCalls
	run.Warnings = append([]string(nil), outcome.Warnings...)
	run.ArchivePath = nil
	if outcome.ArchivePath != "" {
		p := outcome.ArchivePath
		run.ArchivePath = &p
	}
	run.Error = nil
	if outcome.Error != "" {
		e := outcome.Error
		run.Error = &e
	}
	run.FinishedAt = &now
}

func cloneRun(run *model.Run) *model.Run {
	c := *run
	c.Request = append([]byte(nil), run.Request...)
	c.Warnings = append([]string(nil), run.Warnings...)
	return &c
}
