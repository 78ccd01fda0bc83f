// Package stub 按脚本返回固定文本的 Generator
//
// 用于单元测试和无 API 密钥的本地开发。
package stub

import (
	"context"
	"strings"
	"sync"

	"chemsim/pkg/llm"
)

// Reply 一次脚本化响应
type Reply struct {
	Text string
	Err  error
}

// Generator 脚本化 Generator
//
// 依次返回 Replies 中的响应；脚本用尽后返回 Fallback 生成的文本。
// 并发安全，所有收到的提示词记录在 Prompts 中。
type Generator struct {
	mu       sync.Mutex
	replies  []Reply
	fallback func(prompt string) string
	prompts  []string
}

// New 创建脚本化 Generator
func New(replies ...Reply) *Generator {
	return &Generator{replies: replies, fallback: Offline}
}

// Texts 以纯文本列表创建脚本
func Texts(texts ...string) *Generator {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return New(replies...)
}

// WithFallback 设置脚本用尽后的响应函数
func (g *Generator) WithFallback(fn func(prompt string) string) *Generator {
	g.fallback = fn
	return g
}

// Name 返回 provider 名称
func (g *Generator) Name() string {
	return "stub"
}

// Generate 返回下一条脚本响应
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	if len(g.replies) > 0 {
		r := g.replies[0]
		g.replies = g.replies[1:]
		if r.Err != nil {
			return "", r.Err
		}
		if r.Text == "" {
			return "", llm.ErrEmptyResponse
		}
		return r.Text, nil
	}
	return g.fallback(prompt), nil
}

// Calls 已调用次数
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// Prompts 返回收到的全部提示词副本
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.prompts))
	copy(out, g.prompts)
	return out
}

// Offline 离线响应：根据提示词类型返回可用的占位内容
func Offline(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Validate the following"):
		return "The simulation is complete and ready for use."
	case strings.HasPrefix(prompt, "Based on these instructions"),
		strings.HasPrefix(prompt, "Based on this validation feedback"):
		return "```html\n" + offlinePage + "\n```"
	default:
		return "1. Single page with a beaker, burette and indicator.\n2. Animate colour change at the end point.\n3. Show safety notes."
	}
}

const offlinePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Offline Simulation</title>
<style>body{font-family:sans-serif;margin:2rem}#beaker{width:120px;height:160px;border:3px solid #333;border-top:none;position:relative}#liquid{position:absolute;bottom:0;width:100%;height:40%;background:#8ecae6;transition:background 1s}</style>
</head>
<body>
<h1>Offline Simulation</h1>
<div id="beaker"><div id="liquid"></div></div>
<button onclick="document.getElementById('liquid').style.background='#ffafcc'">Add indicator</button>
<p>Wear goggles and gloves when handling acids and bases.</p>
</body>
</html>`
