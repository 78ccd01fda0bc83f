// Package extract 从模型的自由文本响应中提取单个 HTML 文档
//
// 提取规则只处理首尾：去掉开头的代码围栏（可带语言标签）和结尾的代码围栏，
// 再去除首尾空白。不在文本中间搜索围栏。
//
// 提取永不失败；是否为干净提取由 Result 的字段区分。
package extract

import (
	"strings"

	"chemsim/internal/shared/model"
)

// Fence 代码围栏标记
const Fence = "```"

// 提取告警
const (
	WarnNoFence       = "no fence markers, raw text used"
	WarnUnterminated  = "unterminated fence"
	WarnStrayClosing  = "closing fence without opening fence"
	WarnEmptyDocument = "empty document"
)

// Result 提取结果
type Result struct {
	Artifact model.Artifact
	Opened   bool     // 是否去掉了开头围栏
	Closed   bool     // 是否去掉了结尾围栏
	Language string   // 开头围栏后的语言标签，如 html
	Warnings []string // 回退提取时的告警
}

// Clean 首尾围栏是否都存在
func (r Result) Clean() bool {
	return r.Opened && r.Closed
}

// Content 提取出的文档内容
func (r Result) Content() string {
	return r.Artifact.Content
}

// Extract 从原始响应中提取 index.html 内容
func Extract(raw string) Result {
	var res Result
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, Fence) {
		res.Opened = true
		text = text[len(Fence):]
		n := languageTagLen(text)
		res.Language = text[:n]
		text = text[n:]
	}

	if strings.HasSuffix(text, Fence) {
		res.Closed = true
		text = text[:len(text)-len(Fence)]
	}

	text = strings.TrimSpace(text)
	res.Artifact = model.NewArtifact(text)

	switch {
	case !res.Opened && !res.Closed:
		res.Warnings = append(res.Warnings, WarnNoFence)
	case res.Opened && !res.Closed:
		res.Warnings = append(res.Warnings, WarnUnterminated)
	case !res.Opened && res.Closed:
		res.Warnings = append(res.Warnings, WarnStrayClosing)
	}
	if text == "" {
		res.Warnings = append(res.Warnings, WarnEmptyDocument)
	}
	return res
}

// languageTagLen 开头围栏后紧跟的语言标签长度
func languageTagLen(s string) int {
	i := 0
	for i < len(s) {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '_' || c == '+' || c == '-' || c == '.' {
			i++
			continue
		}
		break
	}
	return i
}
