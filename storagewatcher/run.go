package storagewatcher

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/crmservice"
	"github.com/moctezuma-dev/zappy-back/internal/config"
	"github.com/moctezuma-dev/zappy-back/internal/logger"
)

var errStorageNotConfigured = errors.New("storage watcher needs ZAPPY_STORAGE_URL and ZAPPY_STORAGE_SERVICE_KEY")

// Run polls the configured bucket until SIGINT/SIGTERM. With a Postgres
// store the inserted interactions are analysed by the CRM service through
// its change feed; otherwise they are analysed in this process.
func Run(once bool) error {
	log := logger.New("storage-watcher")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	if !cfg.StorageConfigured() {
		return errStorageNotConfigured
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := crmservice.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	if once {
		return scanOnce(ctx, svc, log)
	}

	svc.Media.Start(ctx)
	log.Info().
		Str("bucket", cfg.StorageBucket).
		Str("folder", cfg.StorageFolder).
		Dur("interval", cfg.StoragePollInterval).
		Msg("storage watcher running")
	<-ctx.Done()
	log.Info().Msg("storage watcher shutting down")
	return nil
}

func scanOnce(ctx context.Context, svc *crmservice.Services, log zerolog.Logger) error {
	n, err := svc.Media.Scan(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scan failed")
		return err
	}
	// Let in-process analysis of the new rows finish before exiting.
	if err := svc.Queue.Close(); err != nil {
		return err
	}
	log.Info().Int("processed", n).Msg("scan complete")
	return nil
}
