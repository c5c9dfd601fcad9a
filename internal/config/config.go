package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"prompt-coach/internal/domain"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"log"`
	Redis struct {
		Addr          string `yaml:"addr"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		ProbeInterval string `yaml:"probe_interval"`
	} `yaml:"redis"`
	Postgres struct {
		URL            string `yaml:"url"`
		MaxConns       int32  `yaml:"max_conns"`
		AcquireTimeout string `yaml:"acquire_timeout"`
	} `yaml:"postgres"`
	Mongo struct {
		URI           string `yaml:"uri"`
		Database      string `yaml:"database"`
		MaxPoolSize   uint64 `yaml:"max_pool_size"`
		MaxConnecting uint64 `yaml:"max_connecting"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"mongo"`
	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`
	Retention struct {
		Window        string `yaml:"window"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"retention"`
	Sessions struct {
		MaxAge        string `yaml:"max_age"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"sessions"`
	Challenge struct {
		Freshness string `yaml:"freshness"`
	} `yaml:"challenge"`
	RateLimits map[string]FeatureLimits `yaml:"rate_limits"`
}

// FeatureLimits is the YAML form of domain.FeatureLimits.
type FeatureLimits struct {
	PerUser  Limit `yaml:"per_user"`
	PerGuild Limit `yaml:"per_guild"`
}

type Limit struct {
	Count  int    `yaml:"count"`
	Window string `yaml:"window"`
}

const (
	DefaultRetention = 5 * 24 * time.Hour
	DefaultCacheTTL  = 5 * time.Minute
)

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error; defaults and the environment still apply.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Log.Level, "LOG_LEVEL")

	setString(&c.Postgres.URL, "POSTGRES_URL")
	if c.Postgres.URL == "" && os.Getenv("POSTGRES_HOST") != "" {
		c.Postgres.URL = postgresURL(
			os.Getenv("POSTGRES_HOST"),
			getEnv("POSTGRES_PORT", "5432"),
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			os.Getenv("POSTGRES_DB"),
		)
	}

	setString(&c.Mongo.URI, "MONGODB_URI")
	setString(&c.Mongo.Database, "MONGODB_DB")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	if c.Redis.Addr == "" && os.Getenv("REDIS_HOST") != "" {
		c.Redis.Addr = net.JoinHostPort(os.Getenv("REDIS_HOST"), getEnv("REDIS_PORT", "6379"))
	}
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}

	setString(&c.Retention.Window, "DATA_RETENTION")
}

// Limits converts the configured rate limits, filling in the defaults for
// quiz (5/h per user, 100/h per guild) and challenge (3/h, 50/h).
func (c Config) Limits() map[domain.Feature]domain.FeatureLimits {
	limits := map[domain.Feature]domain.FeatureLimits{
		domain.FeatureQuiz: {
			PerUser:  domain.Limit{Max: 5, Window: time.Hour},
			PerGuild: domain.Limit{Max: 100, Window: time.Hour},
		},
		domain.FeatureChallenge: {
			PerUser:  domain.Limit{Max: 3, Window: time.Hour},
			PerGuild: domain.Limit{Max: 50, Window: time.Hour},
		},
	}
	for name, fl := range c.RateLimits {
		feature := domain.Feature(name)
		current := limits[feature]
		merged := domain.FeatureLimits{
			PerUser:  fl.PerUser.merge(current.PerUser),
			PerGuild: fl.PerGuild.merge(current.PerGuild),
		}
		// A feature without defaults needs both counts, or every call would be denied.
		if merged.PerUser.Max <= 0 || merged.PerGuild.Max <= 0 {
			slog.Warn("ignoring rate limit without a positive count", "feature", name,
				"per_user", merged.PerUser.Max, "per_guild", merged.PerGuild.Max)
			continue
		}
		limits[feature] = merged
	}
	return limits
}

func (l Limit) merge(fallback domain.Limit) domain.Limit {
	out := fallback
	if l.Count > 0 {
		out.Max = l.Count
	}
	out.Window = TTLDuration(l.Window, fallback.Window)
	if out.Window <= 0 {
		out.Window = time.Hour
	}
	return out
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func postgresURL(host, port, user, password, database string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return u.String()
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
