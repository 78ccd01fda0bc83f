package providers

import (
	"errors"
	"testing"

	"chemsim/pkg/llm"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      llm.Config
		wantName string
		wantErr  error
	}{
		{"stub", llm.Config{Provider: "stub"}, "stub", nil},
		{"gemini 有密钥", llm.Config{Provider: "gemini", APIKey: "k"}, "gemini", nil},
		{"默认 gemini", llm.Config{APIKey: "k"}, "gemini", nil},
		{"openai 有密钥", llm.Config{Provider: "openai", APIKey: "k"}, "openai", nil},
		{"gemini 缺密钥", llm.Config{Provider: "gemini"}, "", llm.ErrMissingAPIKey},
		{"openai 缺密钥", llm.Config{Provider: "openai"}, "", llm.ErrMissingAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if g.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", g.Name(), tt.wantName)
			}
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(llm.Config{Provider: "llama"}); err == nil {
		t.Error("未知 provider 应返回错误")
	}
}

func TestNewRegistry_List(t *testing.T) {
	reg, err := NewRegistry(llm.Config{Provider: "gemini", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	names := reg.List()
	if len(names) != 2 || names[0] != "gemini" || names[1] != "stub" {
		t.Errorf("List() = %v", names)
	}
}
