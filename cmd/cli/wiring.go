package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"ratepro/internal/config"
	"ratepro/internal/services"
	"ratepro/pkg/insight"
)

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.Name)
	case "", "postgres", "postgresql":
		dialector = postgres.Open(cfg.Database.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	level := logger.Warn
	if cfg.Log.Level == "debug" {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to enable database tracing: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	return db, nil
}

// openRedis returns nil when Redis is disabled.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr(), err)
	}
	return rdb, nil
}

// openContactStore returns the Mongo store when enabled, the SQL store
// otherwise, plus a close function.
func openContactStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (services.ContactStore, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Mongo.Enabled {
		return services.NewGormContactStore(db), noop, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, noop, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, noop, fmt.Errorf("failed to ping mongo: %w", err)
	}
	store := services.NewMongoContactStore(client.Database(cfg.Mongo.Database), cfg.Mongo.ContactsCollection)
	return store, client.Disconnect, nil
}

// buildInsightSource picks the completion-backed source, or the local
// heuristic when configured or when no API key is set. The breaker is nil
// when disabled.
func buildInsightSource(cfg *config.Config, log *logrus.Logger) (services.InsightSource, *services.CircuitBreaker) {
	provider := strings.ToLower(cfg.AI.Provider)
	if provider == "heuristic" {
		return services.HeuristicInsightSource{}, nil
	}
	oc := cfg.AI.OpenAI
	if oc.APIKey == "" {
		log.Warn("ai.openai.api_key is empty, using heuristic insight source")
		return services.HeuristicInsightSource{}, nil
	}

	client := newCompletionClient(oc, log)

	var breaker *services.CircuitBreaker
	if cb := cfg.Fallback.CircuitBreaker; cb.Enabled {
		breaker = services.NewCircuitBreaker(services.CircuitBreakerConfig{
			MaxFailures:     cb.MaxFailures,
			ResetTimeout:    cb.ResetTimeout,
			HalfOpenMaxReqs: cb.HalfOpenMaxReqs,
		})
	}
	return services.NewLLMInsightSource(client, breaker, log), breaker
}

func newCompletionClient(oc config.OpenAIConfig, log *logrus.Logger) *insight.Client {
	return insight.NewClient(&insight.Config{
		APIKey:      oc.APIKey,
		BaseURL:     oc.BaseURL,
		Model:       oc.Model,
		Temperature: oc.Temperature,
		MaxTokens:   oc.MaxTokens,
		Timeout:     oc.Timeout,
		MaxRetries:  oc.MaxRetries,
	}, log)
}
