package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("CONTENT_REFRESH_INTERVAL", "")
	t.Setenv("RETRIEVER_TOP_K", "")

	cfg := Load()
	if cfg.LLM.Provider != ProviderOpenAI {
		t.Fatalf("expected default provider %q, got %q", ProviderOpenAI, cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens != 200 {
		t.Fatalf("expected 200 max tokens, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.Content.RefreshInterval != time.Hour {
		t.Fatalf("expected one hour refresh interval, got %s", cfg.Content.RefreshInterval)
	}
	if cfg.Content.FetchTimeout != 10*time.Second {
		t.Fatalf("expected 10s fetch timeout, got %s", cfg.Content.FetchTimeout)
	}
	if len(cfg.Content.Sources) != 2 {
		t.Fatalf("expected two default content sources, got %d", len(cfg.Content.Sources))
	}
	if cfg.Retrieval.TopK != 5 {
		t.Fatalf("expected top-k 5, got %d", cfg.Retrieval.TopK)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Ollama")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("CONTENT_REFRESH_INTERVAL", "120")
	t.Setenv("CONTENT_SOURCES", " https://a.example/wp-json , ,https://b.example/wp-json")
	t.Setenv("CHAT_STAGES", "rephrase,validate,two_sentences")
	t.Setenv("RETRIEVER_TOP_K", "not-a-number")

	cfg := Load()
	if cfg.LLM.Provider != ProviderOllama {
		t.Fatalf("expected lowercased provider, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature < 0.19 || cfg.LLM.Temperature > 0.21 {
		t.Fatalf("unexpected temperature %f", cfg.LLM.Temperature)
	}
	if cfg.Content.RefreshInterval != 2*time.Minute {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.Content.RefreshInterval)
	}
	if len(cfg.Content.Sources) != 2 || cfg.Content.Sources[1] != "https://b.example/wp-json" {
		t.Fatalf("unexpected sources: %v", cfg.Content.Sources)
	}
	if len(cfg.Chat.Stages) != 3 {
		t.Fatalf("expected three stages, got %v", cfg.Chat.Stages)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Fatalf("expected invalid int to fall back to 5, got %d", cfg.Retrieval.TopK)
	}
}

func TestLoadTelemetry(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc, broken ,tenant=palms")
	t.Setenv("OTEL_SAMPLER_RATIO", "3")

	cfg := Load()
	if !cfg.Telemetry.Enabled {
		t.Fatal("expected telemetry enabled")
	}
	if len(cfg.Telemetry.Headers) != 2 || cfg.Telemetry.Headers["tenant"] != "palms" {
		t.Fatalf("unexpected headers: %v", cfg.Telemetry.Headers)
	}
	if cfg.Telemetry.SampleRatio != 1 {
		t.Fatalf("expected ratio clamped to 1, got %f", cfg.Telemetry.SampleRatio)
	}
}
