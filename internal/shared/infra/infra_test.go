package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chemsim/internal/config"
	"chemsim/pkg/llm"
	"chemsim/pkg/logging"
	"chemsim/internal/shared/model"
	"chemsim/internal/shared/storage"
)

func TestSqlitePath(t *testing.T) {
	tests := map[string]string{
		"file:./data/chemsim.db?cache=shared&mode=rwc": "./data/chemsim.db",
		"file:/var/lib/c.db":                           "/var/lib/c.db",
		":memory:":                                     "",
		"file::memory:?cache=shared":                   "",
	}
	for dsn, want := range tests {
		if got := sqlitePath(dsn); got != want {
			t.Errorf("sqlitePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenRunStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chemsim.db")
	cfg := &config.Config{DatabaseDriver: "sqlite", DatabaseURL: "file:" + path + "?cache=shared&mode=rwc"}

	store, err := OpenRunStore(cfg)
	if err != nil {
		t.Fatalf("OpenRunStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	run := model.NewRun("run-1", model.ExperimentRequest{Name: "Flame Test", Description: "d"})
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	got, err := store.GetRun(ctx, "run-1")
	if err != nil || got == nil || got.Slug != "flame_test" {
		t.Errorf("GetRun = %+v, %v", got, err)
	}
}

func TestOpenRunStore_Memory(t *testing.T) {
	store, err := OpenRunStore(&config.Config{DatabaseDriver: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*storage.MemoryStore); !ok {
		t.Errorf("store = %T, want *storage.MemoryStore", store)
	}
}

func TestOpenRunStore_Unsupported(t *testing.T) {
	if _, err := OpenRunStore(&config.Config{DatabaseDriver: "oracle"}); err == nil {
		t.Error("未知驱动应返回错误")
	}
}

func TestNew_QueueModeRejectsMemoryStore(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: "memory", Dispatch: config.DispatchConfig{Mode: "queue"}}
	if _, err := New(cfg); err == nil {
		t.Error("队列模式不应接受进程内登记表")
	}
}

func TestNew_LocalWithoutRedis(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: "memory", Dispatch: config.DispatchConfig{Mode: "local"}}
	i, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer i.Close()

	if i.Queue != nil {
		t.Error("本地模式不应创建队列")
	}
	if i.EventBus == nil {
		t.Fatal("应使用进程内事件总线")
	}
	if i.Objects != nil {
		t.Error("未启用 MinIO 时 Objects 应为 nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, _ := i.EventBus.SubscribeRunEvents(ctx, "run-x")
	cancel()
	for range ch {
	}
}

func TestLLMConfig_Defaults(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: "k"}}
	got := LLMConfig(cfg)
	if got.Temperature != llm.DefaultTemperature || got.TopK != llm.DefaultTopK ||
		got.TopP != llm.DefaultTopP || got.MaxOutputTokens != llm.DefaultMaxOutputTokens {
		t.Errorf("未填充默认生成参数: %+v", got)
	}
	if got.APIKey != "k" || got.Model != "gemini-2.0-flash" {
		t.Errorf("cfg = %+v", got)
	}
}

func TestNewPipeline_Stub(t *testing.T) {
	root := filepath.Join(t.TempDir(), "projects")
	cfg := &config.Config{
		ProjectsRoot: root,
		LLM:          config.LLMConfig{Provider: "stub"},
		Pipeline:     config.PipelineConfig{RepairAttempts: 1, PassPhrase: "ready for use"},
	}
	i := NewMemoryInfrastructure()
	defer i.Close()

	p, mat, err := NewPipeline(cfg, i, logging.Discard())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if mat.Root() != root {
		t.Errorf("root = %s, want %s", mat.Root(), root)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("项目根目录应已创建: %v", err)
	}

	res, err := p.Run(context.Background(), model.ExperimentRequest{Name: "Flame Test", Description: "d"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != model.RunStatusCompleted || res.ModelCalls != 3 {
		t.Errorf("res = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(root, "flame_test", "index.html")); err != nil {
		t.Errorf("index.html 未写入: %v", err)
	}
}

func TestNewPipeline_MissingKey(t *testing.T) {
	cfg := &config.Config{ProjectsRoot: t.TempDir(), LLM: config.LLMConfig{Provider: "gemini"}}
	if _, _, err := NewPipeline(cfg, NewMemoryInfrastructure(), logging.Discard()); err == nil {
		t.Error("未配置密钥时应返回错误")
	}
}
