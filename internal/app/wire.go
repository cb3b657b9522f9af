package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/studytrack/internal/classroom"
	"github.com/hitoshi/studytrack/internal/clock"
	"github.com/hitoshi/studytrack/internal/config"
	"github.com/hitoshi/studytrack/internal/database"
	"github.com/hitoshi/studytrack/internal/ledger"
	"github.com/hitoshi/studytrack/internal/metrics"
	"github.com/hitoshi/studytrack/internal/repository"
	"github.com/hitoshi/studytrack/internal/security"
	"github.com/hitoshi/studytrack/internal/task"
	"github.com/hitoshi/studytrack/internal/timer"
)

// services は起動モードで共有する依存関係をまとめたもの。
type services struct {
	db    *sql.DB
	redis *redis.Client

	registry *prometheus.Registry
	metrics  *metrics.Collector

	store       repository.Store
	timerStates timer.StateStore

	ledger  *ledger.Service
	timer   *timer.Service
	classes *classroom.Service
	tasks   *task.Service
}

// buildServices は設定に従ってストレージとサービスを構築する。
// 戻り値はClose()で接続を閉じる必要がある。
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	s := &services{}

	if cfg.StoreBackend == config.BackendPostgres || cfg.TimerBackend == config.BackendPostgres {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		logger.Info("database connection established")
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		s.store = repository.NewMemoryStore()
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		s.store = repository.NewPostgresStore(s.db)
	}

	switch cfg.TimerBackend {
	case config.BackendRedis:
		client, err := timer.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = client
		s.timerStates = timer.NewRedisStore(client)
		logger.Info("redis connection established")
	case config.BackendMemory:
		s.timerStates = timer.NewMemoryStore()
	default:
		repo := repository.NewPostgresTimerRepo(s.db)
		if cfg.StoreBackend == config.BackendPostgres {
			s.timerStates = repo
		} else {
			// 台帳がPostgreSQLにない場合はトランザクションを共有できない
			s.timerStates = struct{ timer.StateStore }{repo}
		}
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.NewCollector(s.registry)

	clk := clock.System
	sanitizer := security.NewTextSanitizer()

	s.ledger = ledger.NewService(s.store, clk, sanitizer, s.metrics, logger)
	s.timer = timer.NewService(s.timerStates, s.ledger, clk, s.metrics, logger)
	s.classes = classroom.NewService(s.store, clk, sanitizer, logger)
	s.tasks = task.NewService(s.store, clk, sanitizer, s.metrics, logger)

	return s, nil
}

// PingContext はDBとRedisの疎通を確認する。使っていない接続は確認しない。
func (s *services) PingContext(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close は開いている接続をすべて閉じる。
func (s *services) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
