package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/hitoshi/studytrack/internal/config"
	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/repository"
	"github.com/hitoshi/studytrack/internal/timer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestBuildServices_Memory(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.BackendMemory, TimerBackend: config.BackendMemory}

	svc, err := buildServices(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildServices returned error: %v", err)
	}
	defer svc.Close()

	if _, ok := svc.store.(*repository.MemoryStore); !ok {
		t.Errorf("store = %T, want *repository.MemoryStore", svc.store)
	}
	if _, ok := svc.timerStates.(*timer.MemoryStore); !ok {
		t.Errorf("timerStates = %T, want *timer.MemoryStore", svc.timerStates)
	}
	if svc.db != nil || svc.redis != nil {
		t.Error("インメモリ構成では外部接続を開かない")
	}
	if err := svc.PingContext(context.Background()); err != nil {
		t.Errorf("PingContext returned error: %v", err)
	}
}

func TestBuildServices_RedisTimer(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		StoreBackend: config.BackendMemory,
		TimerBackend: config.BackendRedis,
		RedisURL:     "redis://" + mr.Addr(),
	}

	svc, err := buildServices(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildServices returned error: %v", err)
	}
	defer svc.Close()

	if _, ok := svc.timerStates.(*timer.RedisStore); !ok {
		t.Fatalf("timerStates = %T, want *timer.RedisStore", svc.timerStates)
	}
	if err := svc.PingContext(context.Background()); err != nil {
		t.Errorf("PingContext returned error: %v", err)
	}

	// 受講登録がないためNOT_ENROLLEDとなり、Redisの状態は変わらない
	student := model.Actor{ID: "s1", Role: model.RoleStudent}
	_, err = svc.timer.Start(context.Background(), student, "class-1")
	if model.ErrorCode(err) != model.ErrCodeNotEnrolled {
		t.Errorf("Start error = %v, want NOT_ENROLLED", err)
	}
}

func TestBuildServices_RedisUnreachable(t *testing.T) {
	cfg := &config.Config{
		StoreBackend: config.BackendMemory,
		TimerBackend: config.BackendRedis,
		RedisURL:     "redis://127.0.0.1:1",
	}

	if _, err := buildServices(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestBuildServices_MetricsRegistered(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.BackendMemory, TimerBackend: config.BackendMemory}

	svc, err := buildServices(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildServices returned error: %v", err)
	}
	defer svc.Close()

	svc.metrics.RecordTimerConflict("start")
	families, err := svc.registry.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "studytrack_timer_conflicts_total" {
			found = true
		}
	}
	if !found {
		t.Error("studytrack_timer_conflicts_total が登録されていない")
	}
}
