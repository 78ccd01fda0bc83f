package extract

import (
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      string
		wantLang  string
		wantClean bool
		wantWarns []string
	}{
		{
			name:      "带 html 语言标签的围栏",
			raw:       "```html\n<html><body>X</body></html>\n```",
			want:      "<html><body>X</body></html>",
			wantLang:  "html",
			wantClean: true,
		},
		{
			name:      "无语言标签的围栏",
			raw:       "```\n<p>hi</p>\n```",
			want:      "<p>hi</p>",
			wantClean: true,
		},
		{
			name:      "首尾空白",
			raw:       "   \n```html\n<html>OK</html>\n```\n  ",
			want:      "<html>OK</html>",
			wantLang:  "html",
			wantClean: true,
		},
		{
			name:      "无围栏",
			raw:       "<html>X</html>",
			want:      "<html>X</html>",
			wantWarns: []string{WarnNoFence},
		},
		{
			name:      "缺少结尾围栏",
			raw:       "```html\n<html>X</html>",
			want:      "<html>X</html>",
			wantLang:  "html",
			wantWarns: []string{WarnUnterminated},
		},
		{
			name:      "只有结尾围栏",
			raw:       "<html>X</html>\n```",
			want:      "<html>X</html>",
			wantWarns: []string{WarnStrayClosing},
		},
		{
			name:      "中间的围栏不处理",
			raw:       "Here you go:\n```html\n<html>X</html>\n```",
			want:      "Here you go:\n```html\n<html>X</html>",
			wantWarns: []string{WarnStrayClosing},
		},
		{
			name:      "空响应",
			raw:       "   ",
			want:      "",
			wantWarns: []string{WarnNoFence, WarnEmptyDocument},
		},
		{
			name:      "空围栏",
			raw:       "```html\n```",
			want:      "",
			wantLang:  "html",
			wantClean: true,
			wantWarns: []string{WarnEmptyDocument},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw)
			if got.Content() != tt.want {
				t.Errorf("Content = %q, want %q", got.Content(), tt.want)
			}
			if got.Language != tt.wantLang {
				t.Errorf("Language = %q, want %q", got.Language, tt.wantLang)
			}
			if got.Clean() != tt.wantClean {
				t.Errorf("Clean() = %v, want %v", got.Clean(), tt.wantClean)
			}
			if len(got.Warnings) != len(tt.wantWarns) {
				t.Fatalf("Warnings = %v, want %v", got.Warnings, tt.wantWarns)
			}
			for i := range tt.wantWarns {
				if got.Warnings[i] != tt.wantWarns[i] {
					t.Errorf("Warnings[%d] = %q, want %q", i, got.Warnings[i], tt.wantWarns[i])
				}
			}
			if got.Artifact.Filename != "index.html" {
				t.Errorf("Filename = %q, want index.html", got.Artifact.Filename)
			}
		})
	}
}

// 无围栏文本重复提取结果不变
func TestExtract_IdempotentWithoutFences(t *testing.T) {
	inputs := []string{
		"<html>X</html>",
		"  <div>padded</div>\n",
		"plain text with ` single backticks",
		"",
	}
	for _, in := range inputs {
		once := Extract(in).Content()
		twice := Extract(once).Content()
		if once != twice {
			t.Errorf("Extract 非幂等: %q -> %q -> %q", in, once, twice)
		}
	}
}

// 干净提取的结果再次提取不变
func TestExtract_CleanOutputIsStable(t *testing.T) {
	first := Extract("```html\n<html>OK</html>\n```")
	second := Extract(first.Content())
	if second.Content() != first.Content() {
		t.Errorf("二次提取 = %q, want %q", second.Content(), first.Content())
	}
}
