package config_test

import (
	"testing"

	"github.com/reminderd/reminderd/internal/config"
)

func TestDiffLogLevel(t *testing.T) {
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	next := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, next)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged = true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("new log level = %q, want %q", d.NewLogLevel, config.LogDebug)
	}
}

func TestDiffProviderChange(t *testing.T) {
	old := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
	}}
	next := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
	}}

	d := config.Diff(old, next)
	if !d.LLMProviderChanged {
		t.Fatal("expected LLMProviderChanged = true")
	}
	if d.S2SProviderChanged {
		t.Fatal("expected S2SProviderChanged = false")
	}
}

func TestDiffNoChange(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.LLMProviderChanged || d.S2SProviderChanged {
		t.Fatal("expected no changes when comparing a config to itself")
	}
}
