package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"
	"prompt-coach/internal/config"
	mongostore "prompt-coach/internal/infra/mongo"
	"prompt-coach/internal/infra/postgres"
)

// NewMigrateCmd applies the Postgres migrations and the Mongo indexes without
// starting the server.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables, views and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL == "" && cfg.Mongo.URI == "" {
		return fmt.Errorf("neither postgres nor mongo is configured")
	}

	var db *mongo.Database
	if cfg.Mongo.URI != "" {
		client, err := mongostore.Connect(ctx, mongoClientConfig(cfg))
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background()) //nolint:errcheck
		db = client.Database(mongoDatabase(cfg))
	}

	retention := config.TTLDuration(cfg.Retention.Window, config.DefaultRetention)
	return initializeSchema(ctx, cfg.Postgres.URL, db, retention)
}

// initializeSchema brings both stores up to date concurrently. Every step is
// idempotent; any failure is returned and the caller treats it as fatal.
func initializeSchema(ctx context.Context, postgresURL string, db *mongo.Database, retention time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	if postgresURL != "" {
		g.Go(func() error {
			return postgres.Migrate(gctx, postgresURL)
		})
	}
	if db != nil {
		g.Go(func() error {
			return mongostore.EnsureIndexes(gctx, db, retention)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	slog.Info("schema initialized", "postgres", postgresURL != "", "mongo", db != nil)
	return nil
}

func mongoClientConfig(cfg config.Config) mongostore.ClientConfig {
	return mongostore.ClientConfig{
		URI:           cfg.Mongo.URI,
		MaxPoolSize:   cfg.Mongo.MaxPoolSize,
		MaxConnecting: cfg.Mongo.MaxConnecting,
		Timeout:       config.TTLDuration(cfg.Mongo.Timeout, 5*time.Second),
	}
}

func mongoDatabase(cfg config.Config) string {
	if cfg.Mongo.Database != "" {
		return cfg.Mongo.Database
	}
	return "prompt_coach"
}
