package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"club_chat/internal/config"
	"club_chat/internal/handler"
	"club_chat/internal/presence"
	"club_chat/internal/repository"
	"club_chat/pkg/logger"
)

// app - внешние подключения процесса и их порядок закрытия
type app struct {
	repos    *repository.Repositories
	registry presence.Registry
	checks   map[string]handler.Check
	closers  []func()
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func openSQLite(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return repository.OpenSQLite(cfg.DSN)
}

// connectRedis возвращает nil без ошибки, если Redis нужен только для лимитов и недоступен
func connectRedis(ctx context.Context, cfg *config.Config, log logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		if cfg.Presence.Backend == config.PresenceRedis {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Warn("Redis is unavailable, rate limits disabled", "error", err)
		return nil, nil
	}
	log.Info("Redis connection established")
	return client, nil
}

func buildApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{checks: make(map[string]handler.Check)}

	rdb, err := connectRedis(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		a.onClose(func() { rdb.Close() })
		a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := openPostgres(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(pool.Close)
		a.checks["database"] = pool.Ping
		a.repos = repository.NewRepositories(pool, rdb, cfg.Redis.ChannelPrefix, log)
	case config.DriverSQLite:
		db, err := openSQLite(cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(func() { sqlDB.Close() })
		a.checks["database"] = sqlDB.PingContext
		a.repos = repository.NewGormRepositories(db, rdb, cfg.Redis.ChannelPrefix, log)
	}
	log.Info("Database connection established", "driver", cfg.Database.Driver)

	switch cfg.Presence.Backend {
	case config.PresenceRedis:
		registry := presence.NewRedisRegistry(rdb, cfg.Redis.ChannelPrefix, log)
		a.onClose(func() { registry.Close() })
		a.registry = registry
	case config.PresenceNATS:
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("club-chat"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		registry := presence.NewNATSRegistry(nc, cfg.NATS.SubjectPrefix, log)
		a.onClose(func() {
			registry.Close()
			nc.Close()
		})
		a.checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
		a.registry = registry
	case config.PresenceMemory:
		log.Warn("Using in-process presence backend, events will not cross instances")
		a.registry = presence.NewMemoryRegistry()
	}
	log.Info("Presence backend initialized", "backend", cfg.Presence.Backend)

	return a, nil
}
