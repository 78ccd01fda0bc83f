package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chemsim/internal/project"
	"chemsim/internal/shared/model"
	"chemsim/pkg/llm/stub"
)

// ==================== 测试辅助 ====================

type recordingObserver struct {
	mu     sync.Mutex
	stages []model.Stage
	calls  []model.Stage
	result *Result
}

func (o *recordingObserver) OnStage(ctx context.Context, stage model.Stage, modelCalls int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) OnModelCall(ctx context.Context, stage model.Stage, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, stage)
}

func (o *recordingObserver) OnResult(ctx context.Context, res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.result = res
}

type failingMaterializer struct{ err error }

func (m failingMaterializer) Materialize(ctx context.Context, a model.Artifact, slug string) (string, error) {
	return "", m.err
}

func titration() model.ExperimentRequest {
	return model.ExperimentRequest{
		Name:        "Acid Base Titration",
		Description: "Titrate HCl with NaOH using phenolphthalein.",
	}
}

func readIndex(t *testing.T, root, slug string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, slug, "index.html"))
	if err != nil {
		t.Fatalf("读取 index.html 失败: %v", err)
	}
	return string(data)
}

func assertNoFiles(t *testing.T, root string) {
	t.Helper()
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("失败的执行不应写入任何文件, got %d entries", len(entries))
	}
}

// ==================== 端到端 ====================

func TestRun_ValidationPasses(t *testing.T) {
	root := t.TempDir()
	gen := stub.Texts(
		"1. Burette and flask layout",
		"```html\n<html>OK</html>\n```",
		"This project is ready for use.",
	)
	obs := &recordingObserver{}
	p := New(gen, project.New(root), Config{})

	res, err := p.Run(context.Background(), titration(), obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if gen.Calls() != 3 {
		t.Errorf("模型调用次数 = %d, want 3（审查通过不应修复）", gen.Calls())
	}
	if res.Status != model.RunStatusCompleted || res.Repaired || !res.Validated {
		t.Errorf("res = %+v", res)
	}
	if res.Slug != "acid_base_titration" {
		t.Errorf("Slug = %q", res.Slug)
	}
	if got := readIndex(t, root, "acid_base_titration"); got != "<html>OK</html>" {
		t.Errorf("index.html = %q", got)
	}
	if res.ArchivePath != filepath.Join(root, "acid_base_titration.zip") {
		t.Errorf("ArchivePath = %q", res.ArchivePath)
	}
	if _, err := os.Stat(res.ArchivePath); err != nil {
		t.Errorf("压缩包不存在: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("干净提取不应有告警: %v", res.Warnings)
	}

	wantStages := []model.Stage{
		model.StageInstructing, model.StageImplementing, model.StageExtracting,
		model.StageValidating, model.StageMaterializing,
	}
	if strings.Join(stageNames(obs.stages), ",") != strings.Join(stageNames(wantStages), ",") {
		t.Errorf("stages = %v, want %v", obs.stages, wantStages)
	}
	if obs.result != res {
		t.Error("OnResult 应收到最终结果")
	}
}

func TestRun_ValidationFailsTriggersSingleFix(t *testing.T) {
	root := t.TempDir()
	gen := stub.Texts(
		"1. Burette and flask layout",
		"```html\n<html>DRAFT</html>\n```",
		"Missing safety section.",
		"```html\n<html>FIXED but still not great</html>\n```",
	)
	obs := &recordingObserver{}
	p := New(gen, project.New(root), Config{})

	res, err := p.Run(context.Background(), titration(), obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if gen.Calls() != 4 {
		t.Errorf("模型调用次数 = %d, want 4", gen.Calls())
	}
	if !res.Repaired || res.Repairs != 1 || res.Validated {
		t.Errorf("res = %+v", res)
	}
	// 修复结果不再审查，直接采用
	if got := readIndex(t, root, "acid_base_titration"); got != "<html>FIXED but still not great</html>" {
		t.Errorf("index.html = %q", got)
	}

	prompts := gen.Prompts()
	fixPrompt := prompts[3]
	if !strings.Contains(fixPrompt, "Missing safety section.") {
		t.Errorf("修复提示词应包含审查意见: %s", fixPrompt)
	}
	if !strings.Contains(fixPrompt, "<html>DRAFT</html>") {
		t.Errorf("修复提示词应包含当前文档: %s", fixPrompt)
	}
	if obs.stages[len(obs.stages)-2] != model.StageReExtracting {
		t.Errorf("stages = %v", obs.stages)
	}
}

func TestRun_PassPhraseCaseInsensitive(t *testing.T) {
	gen := stub.Texts("plan", "<html>x</html>", "Verdict: READY FOR USE")
	p := New(gen, project.New(t.TempDir()), Config{})

	res, err := p.Run(context.Background(), titration(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Repaired || gen.Calls() != 3 {
		t.Errorf("大写通过短语应判定通过: calls=%d repaired=%v", gen.Calls(), res.Repaired)
	}
}

func TestRun_CustomPassPhrase(t *testing.T) {
	gen := stub.Texts("plan", "<html>x</html>", "Looks good, ready for use", "<html>y</html>")
	p := New(gen, project.New(t.TempDir()), Config{PassPhrase: "APPROVED"})

	res, err := p.Run(context.Background(), titration(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Repaired || gen.Calls() != 4 {
		t.Errorf("自定义短语未出现时应修复: calls=%d", gen.Calls())
	}
}

func TestRun_UnfencedImplementationWarns(t *testing.T) {
	root := t.TempDir()
	gen := stub.Texts("plan", "  <html>bare</html>  ", "ready for use")
	p := New(gen, project.New(root), Config{})

	res, err := p.Run(context.Background(), titration(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := readIndex(t, root, "acid_base_titration"); got != "<html>bare</html>" {
		t.Errorf("index.html = %q", got)
	}
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "extracting: ") {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

// ==================== 修复次数 ====================

func TestRun_RepairAttempts(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		replies   []string
		wantCalls int
		wantDoc   string
		validated bool
	}{
		{
			name:      "两次修复均未通过，第二次修复结果直接采用",
			attempts:  2,
			replies:   []string{"plan", "<p>v1</p>", "bad", "<p>v2</p>", "still bad", "<p>v3</p>"},
			wantCalls: 6,
			wantDoc:   "<p>v3</p>",
		},
		{
			name:      "第一次修复后审查通过",
			attempts:  2,
			replies:   []string{"plan", "<p>v1</p>", "bad", "<p>v2</p>", "ready for use"},
			wantCalls: 5,
			wantDoc:   "<p>v2</p>",
			validated: true,
		},
		{
			name:      "非法修复次数按 1 处理",
			attempts:  0,
			replies:   []string{"plan", "<p>v1</p>", "bad", "<p>v2</p>"},
			wantCalls: 4,
			wantDoc:   "<p>v2</p>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			gen := stub.Texts(tt.replies...).WithFallback(func(string) string {
				t.Error("脚本之外不应再调用模型")
				return ""
			})
			p := New(gen, project.New(root), Config{RepairAttempts: tt.attempts})

			res, err := p.Run(context.Background(), titration(), nil)
			if err != nil {
				t.Fatal(err)
			}
			if gen.Calls() != tt.wantCalls || res.ModelCalls != tt.wantCalls {
				t.Errorf("calls = %d/%d, want %d", gen.Calls(), res.ModelCalls, tt.wantCalls)
			}
			if got := readIndex(t, root, "acid_base_titration"); got != tt.wantDoc {
				t.Errorf("index.html = %q, want %q", got, tt.wantDoc)
			}
			if res.Validated != tt.validated {
				t.Errorf("Validated = %v, want %v", res.Validated, tt.validated)
			}
		})
	}
}

// ==================== 失败路径 ====================

func TestRun_BlankRequest(t *testing.T) {
	tests := []struct {
		name string
		req  model.ExperimentRequest
	}{
		{"名称为空", model.ExperimentRequest{Name: "", Description: "d"}},
		{"描述为空白", model.ExperimentRequest{Name: "x", Description: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			gen := stub.New()
			p := New(gen, project.New(root), Config{})

			res, err := p.Run(context.Background(), tt.req, nil)
			if !errors.Is(err, model.ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
			if res.Status != model.RunStatusFailed {
				t.Errorf("Status = %q", res.Status)
			}
			if gen.Calls() != 0 {
				t.Errorf("非法请求不应调用模型, calls = %d", gen.Calls())
			}
			assertNoFiles(t, root)
		})
	}
}

func TestRun_ModelFailure(t *testing.T) {
	quota := errors.New("quota exceeded")
	tests := []struct {
		name      string
		replies   []stub.Reply
		wantStage model.Stage
		wantCalls int
	}{
		{"instructing 失败", []stub.Reply{{Err: quota}}, model.StageInstructing, 1},
		{"implementing 失败", []stub.Reply{{Text: "plan"}, {Err: quota}}, model.StageImplementing, 2},
		{"validating 失败", []stub.Reply{{Text: "plan"}, {Text: "<p/>"}, {Err: quota}}, model.StageValidating, 3},
		{"fixing 失败", []stub.Reply{{Text: "plan"}, {Text: "<p/>"}, {Text: "bad"}, {Err: quota}}, model.StageFixing, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			gen := stub.New(tt.replies...)
			obs := &recordingObserver{}
			p := New(gen, project.New(root), Config{})

			res, err := p.Run(context.Background(), titration(), obs)
			if !errors.Is(err, ErrExternalService) || !errors.Is(err, quota) {
				t.Fatalf("err = %v", err)
			}
			var se *StageError
			if !errors.As(err, &se) || se.Stage != tt.wantStage {
				t.Errorf("StageError = %+v, want stage %s", se, tt.wantStage)
			}
			if res.Status != model.RunStatusFailed || res.ModelCalls != tt.wantCalls {
				t.Errorf("res = %+v", res)
			}
			if obs.result == nil || obs.result.Err != err {
				t.Error("OnResult 应收到失败结果")
			}

			out := res.Outcome()
			if out.Stage != model.StageFailed || !strings.Contains(out.Error, "quota exceeded") {
				t.Errorf("Outcome = %+v", out)
			}
			assertNoFiles(t, root)
		})
	}
}

func TestRun_StorageFailure(t *testing.T) {
	gen := stub.Texts("plan", "<p/>", "ready for use")
	diskFull := errors.New("no space left on device")
	p := New(gen, failingMaterializer{err: diskFull}, Config{})

	res, err := p.Run(context.Background(), titration(), nil)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, diskFull) {
		t.Fatalf("err = %v", err)
	}
	if res.Status != model.RunStatusFailed || res.ArchivePath != "" {
		t.Errorf("res = %+v", res)
	}
}

func TestRun_EmptyModelResponse(t *testing.T) {
	// stub 对空文本返回 llm.ErrEmptyResponse
	gen := stub.New(stub.Reply{Text: "plan"}, stub.Reply{Text: ""})
	p := New(gen, project.New(t.TempDir()), Config{})

	_, err := p.Run(context.Background(), titration(), nil)
	if !errors.Is(err, ErrExternalService) {
		t.Errorf("err = %v", err)
	}
}

func TestResult_OutcomeCompleted(t *testing.T) {
	res := &Result{
		Status:      model.RunStatusCompleted,
		ArchivePath: "r/x.zip",
		Repaired:    true,
		ModelCalls:  4,
		Warnings:    []string{"w"},
	}
	out := res.Outcome()
	if out.Stage != model.StageCompleted || out.Error != "" || out.ArchivePath != "r/x.zip" || !out.Repaired {
		t.Errorf("Outcome = %+v", out)
	}
}

func stageNames(stages []model.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
