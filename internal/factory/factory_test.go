package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/config"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
	"github.com/moctezuma-dev/zappy-back/internal/storagewatch"
)

func TestNewStore_Memory(t *testing.T) {
	cfg := config.NewForTesting()
	st, err := NewStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := st.(*memstore.Store); !ok {
		t.Fatalf("expected memstore, got %T", st)
	}
}

func TestNewStore_Errors(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.StoreDriver = "spanner"
	if _, err := NewStore(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	cfg.StoreDriver = "postgres"
	cfg.PostgresDSN = ""
	if _, err := NewStore(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing DSN")
	}
}

func TestNewObjectStore_RequiresConfig(t *testing.T) {
	cfg := config.NewForTesting()
	if NewObjectStore(cfg) != nil {
		t.Fatal("expected nil object store without storage config")
	}
	cfg.StorageURL = "http://localhost:54321"
	cfg.StorageServiceKey = "key"
	if NewObjectStore(cfg) == nil {
		t.Fatal("expected object store when configured")
	}
}

func TestNewLedger(t *testing.T) {
	cfg := config.NewForTesting()
	l, err := NewLedger(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("memory ledger: %v", err)
	}
	if _, ok := l.(*storagewatch.MemoryLedger); !ok {
		t.Fatalf("expected memory ledger, got %T", l)
	}

	cfg.StorageLedgerPath = filepath.Join(t.TempDir(), "ledger", "processed.db")
	l, err = NewLedger(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("sqlite ledger: %v", err)
	}
	defer l.Close()
	if _, ok := l.(*storagewatch.SQLiteLedger); !ok {
		t.Fatalf("expected sqlite ledger, got %T", l)
	}
}

func TestNewModel_Unconfigured(t *testing.T) {
	client, err := NewModel(context.Background(), config.NewForTesting(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if client.Available() {
		t.Fatal("client without key must not be available")
	}
	if NewEmbeddingProvider(context.Background(), client, zerolog.Nop()) != nil {
		t.Fatal("expected nil provider when model unavailable")
	}
}

func TestNewMailbox_RequiresCredentials(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.IMAPHost = "imap.example.com"
	if NewMailbox(cfg) != nil {
		t.Fatal("expected nil mailbox without credentials")
	}
	cfg.IMAPUsername = "ventas@example.com"
	cfg.IMAPPassword = "secret"
	if NewMailbox(cfg) == nil {
		t.Fatal("expected mailbox when configured")
	}
}
