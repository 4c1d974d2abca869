package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigLoad_ModelDefaults(t *testing.T) {
	_ = os.Unsetenv("ZAPPY_GEMINI_MODEL")
	_ = os.Unsetenv("ZAPPY_EMBED_MODEL")
	_ = os.Unsetenv("ZAPPY_GEMINI_API_KEY")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.GeminiModel != "gemini-2.5-flash" || cfg.EmbedModel != "text-embedding-004" || cfg.EmbedDimension != 768 {
		t.Fatalf("unexpected default model config: %+v", cfg)
	}
	if cfg.ModelConfigured() {
		t.Fatalf("model should not be configured without an API key")
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	_ = os.Setenv("ZAPPY_STORAGE_POLL_INTERVAL", "5s")
	_ = os.Setenv("ZAPPY_CONTEXT_MAX_CHARS", "1200")
	defer func() {
		_ = os.Unsetenv("ZAPPY_STORAGE_POLL_INTERVAL")
		_ = os.Unsetenv("ZAPPY_CONTEXT_MAX_CHARS")
	}()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.StoragePollInterval != 5*time.Second {
		t.Fatalf("poll interval override failed, got %s", cfg.StoragePollInterval)
	}
	if cfg.ContextMaxChars != 1200 {
		t.Fatalf("context max chars override failed, got %d", cfg.ContextMaxChars)
	}
}
