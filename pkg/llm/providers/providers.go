// Package providers 根据配置组装 Generator 注册表
package providers

import (
	"fmt"

	"chemsim/pkg/llm"
	"chemsim/pkg/llm/gemini"
	"chemsim/pkg/llm/openai"
	"chemsim/pkg/llm/stub"
)

// NewRegistry 注册当前配置可用的全部 provider
//
// stub 总是可用；gemini/openai 只有在 provider 匹配且配置了密钥时注册。
func NewRegistry(cfg llm.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	reg.Register(stub.New())

	switch cfg.Provider {
	case "gemini", "":
		if cfg.APIKey == "" {
			break
		}
		g, err := gemini.New(cfg)
		if err != nil {
			return nil, err
		}
		reg.Register(g)
	case "openai":
		c, err := openai.New(cfg)
		if err != nil {
			return nil, err
		}
		reg.Register(c)
	case "stub":
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	return reg, nil
}

// New 返回配置指定的 Generator
func New(cfg llm.Config) (llm.Generator, error) {
	reg, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	name := cfg.Provider
	if name == "" {
		name = "gemini"
	}
	g, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("llm provider %s unavailable (registered: %v): %w", name, reg.List(), llm.ErrMissingAPIKey)
	}
	return g, nil
}
