package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/stwalsh4118/verrify/internal/config"
	"github.com/stwalsh4118/verrify/internal/database"
	"github.com/stwalsh4118/verrify/internal/logger"
)

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Apply pending database migrations and exit",
	Action: func(cCtx *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
		if err != nil {
			return err
		}

		db, err := database.NewPostgresPool(cCtx.Context, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		return runMigrations(cCtx.Context, db, log)
	},
}

func runMigrations(ctx context.Context, db *database.Database, log *logger.Logger) error {
	applied, err := db.Migrate(ctx)
	if err != nil {
		log.Error("Migration failed", err, nil)
		return err
	}
	log.Info("Migrations applied", map[string]interface{}{
		"count": len(applied),
		"files": applied,
	})
	return nil
}
