package config

import (
	"testing"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("expected port=%d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.ChannelConcurrency != DefaultChannelConcurrency {
		t.Fatalf("expected channel concurrency=%d, got %d", DefaultChannelConcurrency, cfg.ChannelConcurrency)
	}
	if cfg.MaxGlobalConcurrency != DefaultGlobalConcurrency {
		t.Fatalf("expected global concurrency=%d, got %d", DefaultGlobalConcurrency, cfg.MaxGlobalConcurrency)
	}
	if cfg.DetectPrompt != DefaultDetectPrompt {
		t.Fatalf("expected prompt=%q, got %q", DefaultDetectPrompt, cfg.DetectPrompt)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv(EnvChannelConcurrency, "3")
	t.Setenv(EnvGlobalConcurrency, "12")
	t.Setenv(EnvAutoDetectEnabled, "true")
	t.Setenv(EnvGlobalProxy, "socks5://127.0.0.1:1080")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ChannelConcurrency != 3 {
		t.Fatalf("expected channel concurrency=3, got %d", cfg.ChannelConcurrency)
	}
	if cfg.MaxGlobalConcurrency != 12 {
		t.Fatalf("expected global concurrency=12, got %d", cfg.MaxGlobalConcurrency)
	}
	if !cfg.AutoDetectEnabled {
		t.Fatalf("expected auto detect enabled")
	}
	if cfg.GlobalProxy != "socks5://127.0.0.1:1080" {
		t.Fatalf("unexpected global proxy %q", cfg.GlobalProxy)
	}
}

func TestLoadFromEnv_RejectsReversedDelayRange(t *testing.T) {
	t.Setenv(EnvDetectionMinDelayMs, "5000")
	t.Setenv(EnvDetectionMaxDelayMs, "1000")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for reversed delay range")
	}
}
