//go:build integration

// Package testutil starts throwaway PostGIS databases for integration tests.
package testutil

import (
	"context"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/stwalsh4118/verrify/internal/config"
	"github.com/stwalsh4118/verrify/internal/database"
)

const postgisImage = "postgis/postgis:16-3.4"

// StartPostGIS runs a PostGIS container and returns a config pointing at it.
// The container is terminated when the test finishes.
func StartPostGIS(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, postgisImage,
		tcpostgres.WithDatabase("verrify"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgis container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse dsn: %v", err)
	}

	return config.DatabaseConfig{
		Host:     poolCfg.ConnConfig.Host,
		Port:     strconv.Itoa(int(poolCfg.ConnConfig.Port)),
		Name:     "verrify",
		User:     "test",
		Password: "test",
		SSLMode:  "disable",
		PoolMin:  1,
		PoolMax:  10,
	}
}

// SetupDatabase starts PostGIS, connects and applies every migration.
func SetupDatabase(t *testing.T) *database.Database {
	t.Helper()
	ctx := context.Background()

	cfg := StartPostGIS(t)
	db, err := database.NewPostgresPool(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}
