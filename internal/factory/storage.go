package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/config"
	"github.com/moctezuma-dev/zappy-back/internal/mailwatch"
	"github.com/moctezuma-dev/zappy-back/internal/objectstore"
	storepkg "github.com/moctezuma-dev/zappy-back/internal/store"
	"github.com/moctezuma-dev/zappy-back/internal/store/memstore"
	storepg "github.com/moctezuma-dev/zappy-back/internal/store/postgres"
	"github.com/moctezuma-dev/zappy-back/internal/storagewatch"
)

const objectStoreTimeout = 60 * time.Second

// NewStore returns the store.Store selected by cfg.StoreDriver. Postgres
// connects and applies the embedded schema before returning.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	case "postgres":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER: %s", cfg.StoreDriver)
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("ZAPPY_POSTGRES_DSN is required when STORE_DRIVER=postgres")
	}

	// Open connection synchronously since health checks need it immediately
	db, err := storepg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := storepg.Migrate(ctx, db, storepg.MigrateOptions{
		NotifyChannel:  cfg.RealtimeChannel,
		EmbedDimension: cfg.EmbedDimension,
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("driver", cfg.StoreDriver).Msg("store schema applied")
	return storepg.NewWithDB(db), nil
}

// NewObjectStore returns the Supabase Storage client, or nil when object
// storage is not configured.
func NewObjectStore(cfg *config.Config) objectstore.Store {
	if !cfg.StorageConfigured() {
		return nil
	}
	return objectstore.NewSupabase(cfg.StorageURL, cfg.StorageServiceKey, objectStoreTimeout)
}

// NewLedger returns a sqlite ledger when STORAGE_LEDGER_PATH is set and an
// in-memory one otherwise.
func NewLedger(cfg *config.Config, log zerolog.Logger) (storagewatch.Ledger, error) {
	if cfg.StorageLedgerPath == "" {
		return storagewatch.NewMemoryLedger(), nil
	}
	l, err := storagewatch.OpenSQLiteLedger(cfg.StorageLedgerPath)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.StorageLedgerPath).Msg("processed-file ledger persisted to sqlite")
	return l, nil
}

// NewMailbox returns the IMAP mailbox to poll, or nil when none is configured.
func NewMailbox(cfg *config.Config) mailwatch.Mailbox {
	if !cfg.InboxConfigured() {
		return nil
	}
	return mailwatch.NewIMAPMailbox(mailwatch.IMAPConfig{
		Host:     cfg.IMAPHost,
		Port:     cfg.IMAPPort,
		Username: cfg.IMAPUsername,
		Password: cfg.IMAPPassword,
		UseTLS:   cfg.IMAPUseTLS,
		Mailbox:  cfg.IMAPMailbox,
	})
}
