package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"prompt-coach/internal/domain"
)

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
server:
  port: "9000"
redis:
  addr: "localhost:6379"
postgres:
  url: "postgres://file@localhost/quiz"
retention:
  window: "48h"
rate_limits:
  quiz:
    per_user:
      count: 3
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POSTGRES_URL", "postgres://env@db/quiz")
	t.Setenv("MONGODB_URI", "mongodb://mongo:27017")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Fatalf("expected port from file, got %q", cfg.Server.Port)
	}
	if cfg.Postgres.URL != "postgres://env@db/quiz" {
		t.Fatalf("expected env to override postgres url, got %q", cfg.Postgres.URL)
	}
	if cfg.Mongo.URI != "mongodb://mongo:27017" {
		t.Fatalf("expected mongo uri from env, got %q", cfg.Mongo.URI)
	}
	if got := TTLDuration(cfg.Retention.Window, DefaultRetention); got != 48*time.Hour {
		t.Fatalf("expected 48h retention, got %s", got)
	}

	limits := cfg.Limits()
	quiz := limits[domain.FeatureQuiz]
	if quiz.PerUser.Max != 3 || quiz.PerUser.Window != time.Hour {
		t.Fatalf("expected overridden quiz per-user limit 3/h, got %+v", quiz.PerUser)
	}
	if quiz.PerGuild.Max != 100 {
		t.Fatalf("expected default guild limit kept, got %+v", quiz.PerGuild)
	}
	if limits[domain.FeatureChallenge].PerUser.Max != 3 {
		t.Fatalf("expected default challenge limits, got %+v", limits[domain.FeatureChallenge])
	}
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "bot")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "prompts")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.URL != "postgres://bot:secret@db:5432/prompts?sslmode=disable" {
		t.Fatalf("unexpected postgres url %q", cfg.Postgres.URL)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.Redis.Addr)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for empty, got %s", got)
	}
	if got := TTLDuration("soon", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for invalid, got %s", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}

func TestLimitsSkipsIncompleteUnknownFeature(t *testing.T) {
	cfg := Config{RateLimits: map[string]FeatureLimits{
		"images":   {PerUser: Limit{Count: 2}},
		"feedback": {PerUser: Limit{Count: 4, Window: "30m"}, PerGuild: Limit{Count: 40}},
	}}

	limits := cfg.Limits()
	if _, ok := limits["images"]; ok {
		t.Fatalf("expected limit without guild count dropped, got %+v", limits["images"])
	}
	feedback, ok := limits["feedback"]
	if !ok || feedback.PerUser.Max != 4 || feedback.PerUser.Window != 30*time.Minute || feedback.PerGuild.Max != 40 {
		t.Fatalf("expected complete feedback limits, got %+v ok=%v", feedback, ok)
	}
	if limits[domain.FeatureQuiz].PerUser.Max != 5 {
		t.Fatalf("expected quiz defaults untouched, got %+v", limits[domain.FeatureQuiz])
	}
}
