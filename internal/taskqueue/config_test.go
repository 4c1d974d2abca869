package taskqueue

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Shards != 4 || cfg.QueueSize != 256 || cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.EnqueueTimeout != 100*time.Millisecond {
		t.Fatalf("unexpected enqueue timeout: %v", cfg.EnqueueTimeout)
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("ZAPPY_TASK_SHARDS", "8")
	t.Setenv("ZAPPY_TASK_MAX_ATTEMPTS", "5")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Shards != 8 || cfg.MaxAttempts != 5 {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Shards != 4 || cfg.BaseBackoff != 200*time.Millisecond || cfg.MaxInterval != 10*time.Second {
		t.Fatalf("unexpected zero-value defaults: %+v", cfg)
	}
}
