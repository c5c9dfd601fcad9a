package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"prompt-coach/internal/app"
	"prompt-coach/internal/config"
	"prompt-coach/internal/domain"
	"prompt-coach/internal/infra/memory"
	mongostore "prompt-coach/internal/infra/mongo"
	"prompt-coach/internal/infra/postgres"
	rediscache "prompt-coach/internal/infra/redis"
	transport "prompt-coach/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	retention := config.TTLDuration(cfg.Retention.Window, config.DefaultRetention)
	cacheTTL := config.TTLDuration(cfg.Cache.TTL, config.DefaultCacheTTL)
	sessionAge := config.TTLDuration(cfg.Sessions.MaxAge, 24*time.Hour)
	sessionSweep := config.TTLDuration(cfg.Sessions.SweepInterval, time.Hour)
	freshness := config.TTLDuration(cfg.Challenge.Freshness, 24*time.Hour)

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = postgres.NewPool(ctx, postgres.PoolConfig{
			URL:            cfg.Postgres.URL,
			MaxConns:       cfg.Postgres.MaxConns,
			AcquireTimeout: config.TTLDuration(cfg.Postgres.AcquireTimeout, 2*time.Second),
		})
		if err != nil {
			return err
		}
		defer pool.Close()
	} else {
		slog.Warn("postgres not configured, quiz history kept in memory")
	}

	var mongoDB *mongo.Database
	if cfg.Mongo.URI != "" {
		client, err := mongostore.Connect(ctx, mongoClientConfig(cfg))
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background()) //nolint:errcheck
		mongoDB = client.Database(mongoDatabase(cfg))
	} else {
		slog.Warn("mongo not configured, challenges kept in memory")
	}

	if err := initializeSchema(ctx, cfg.Postgres.URL, mongoDB, retention); err != nil {
		return err
	}

	var (
		cache       app.Cache
		limiter     app.RateLimiter = app.AllowAll{}
		cacheStatus                 = func() string { return "memory" }
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		redisCache := rediscache.NewCache(ctx, redisClient, config.TTLDuration(cfg.Redis.ProbeInterval, 30*time.Second))
		cache = redisCache
		limiter = rediscache.NewRateLimiter(redisCache, cfg.Limits())
		cacheStatus = func() string {
			if redisCache.Enabled() {
				return "enabled"
			}
			return "disabled"
		}
	} else {
		slog.Warn("redis not configured, using in-process cache and no rate limits")
		cache = memory.NewCache()
	}

	var history app.QuizHistoryRepository = memory.NewQuizHistory()
	if pool != nil {
		history = postgres.NewQuizHistory(pool, config.TTLDuration(cfg.Postgres.AcquireTimeout, 2*time.Second))
	}
	var challenges app.ChallengeRepository = memory.NewChallengeStore()
	if mongoDB != nil {
		challenges = mongostore.NewChallengeStore(mongoDB)
	}

	activeChallenges := app.NewSessionRegistry[domain.Challenge]("challenges", sessionAge, sessionSweep)
	quizSessions := app.NewSessionRegistry[domain.QuizSession]("quizzes", sessionAge, sessionSweep)
	activeChallenges.Start(bgCtx)
	quizSessions.Start(bgCtx)

	sweeper := app.NewSweeper(retention, config.TTLDuration(cfg.Retention.SweepInterval, 24*time.Hour),
		app.SweepTarget{Name: "quiz_history", Purger: history},
		app.SweepTarget{Name: mongostore.ChallengeCollection, Purger: challenges},
	)
	sweeper.Start(bgCtx)

	wsHandler := transport.NewWSHandler(transport.Core{
		Quizzes:      app.NewQuizService(history, cache, retention, cacheTTL),
		Challenges:   app.NewChallengeService(challenges, cache, activeChallenges, freshness, cacheTTL),
		QuizSessions: quizSessions,
		Limiter:      limiter,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "cache": cacheStatus()})
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting gateway server", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve: %w", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		slog.Info("shutting down server")
	case <-ctx.Done():
		slog.Info("context canceled, shutting down server")
	case err := <-serveErr:
		return err
	}

	stopBackground()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
