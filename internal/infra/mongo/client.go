package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ClientConfig bounds the driver's connection pool. Operations queue for a
// pooled connection until Timeout expires.
type ClientConfig struct {
	URI                    string
	MaxPoolSize            uint64
	MaxConnecting          uint64
	ServerSelectionTimeout time.Duration
	Timeout                time.Duration
}

// Connect opens a pooled client and pings the primary.
func Connect(ctx context.Context, cfg ClientConfig) (*mongo.Client, error) {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 50
	}
	if cfg.MaxConnecting == 0 {
		cfg.MaxConnecting = 2
	}
	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = 5 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMaxConnecting(cfg.MaxConnecting).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetRetryWrites(true).
		SetRetryReads(true).
		// behavior payloads are opaque maps; keep nested documents as maps too
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	if cfg.Timeout > 0 {
		opts.SetTimeout(cfg.Timeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ServerSelectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	slog.Info("mongo connected", "max_pool_size", cfg.MaxPoolSize)
	return client, nil
}
