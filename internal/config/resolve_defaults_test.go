package config

import (
	"os"
	"testing"
)

func unsetStoreEnv() {
	_ = os.Unsetenv("ZAPPY_STORE_DRIVER")
	_ = os.Unsetenv("ZAPPY_POSTGRES_DSN")
}

func TestResolveDefaultsAutoWithoutDSN(t *testing.T) {
	unsetStoreEnv()
	defer unsetStoreEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("expected memory driver, got %s", cfg.StoreDriver)
	}
}

func TestResolveDefaultsAutoWithDSN(t *testing.T) {
	unsetStoreEnv()
	_ = os.Setenv("ZAPPY_POSTGRES_DSN", "postgres://u:p@localhost:5432/crm")
	defer unsetStoreEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres driver, got %s", cfg.StoreDriver)
	}
}

func TestResolveDefaultsPostgresRequiresDSN(t *testing.T) {
	unsetStoreEnv()
	_ = os.Setenv("ZAPPY_STORE_DRIVER", "postgres")
	defer unsetStoreEnv()

	if _, err := New(); err == nil {
		t.Fatalf("expected error for postgres driver without DSN")
	}
}

func TestResolveDefaultsUnknownDriver(t *testing.T) {
	cfg := NewForTesting()
	cfg.StoreDriver = "spanner"
	if err := cfg.ResolveDefaults(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
