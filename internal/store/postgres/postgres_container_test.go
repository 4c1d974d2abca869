//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/moctezuma-dev/zappy-back/internal/store"
	"github.com/moctezuma-dev/zappy-back/internal/store/storetest"
)

// startPGVector runs a throwaway pgvector container and returns its DSN.
func startPGVector(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "zappy",
			"POSTGRES_PASSWORD": "zappy",
			"POSTGRES_DB":       "zappy",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start pgvector container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return fmt.Sprintf("postgres://zappy:zappy@%s:%s/zappy?sslmode=disable", host, port.Port())
}

func TestPostgresStore_Container(t *testing.T) {
	dsn := startPGVector(t)
	storetest.Run(t, func(t *testing.T) store.Store { return openMigrated(t, dsn) })
}

func TestMigrate_Idempotent(t *testing.T) {
	dsn := startPGVector(t)
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	for i := 0; i < 2; i++ {
		if err := Migrate(context.Background(), db, MigrateOptions{NotifyChannel: "crm_changes_test"}); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
}
