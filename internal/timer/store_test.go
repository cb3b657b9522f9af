package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/studytrack/internal/ledger"
	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/repository"
)

var (
	_ TxStateStore   = (*repository.PostgresTimerRepo)(nil)
	_ ClaimingLedger = (*ledger.Service)(nil)
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

// stateStoreCases は各StateStore実装に共通の振る舞いを検証する。
func stateStoreCases(t *testing.T, newStore func(t *testing.T) StateStore) {
	t.Run("未保存の生徒はIdle", func(t *testing.T) {
		store := newStore(t)
		state, err := store.Load(context.Background(), "s1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if state.IsRunning() || state.Generation != 0 || state.StudentID != "s1" {
			t.Errorf("unexpected initial state: %+v", state)
		}
	})

	t.Run("Generationが一致する場合のみ保存", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		started := time.Date(2024, 4, 1, 9, 0, 0, 123456000, time.UTC)
		running := model.TimerState{
			StudentID: "s1", Status: model.TimerStatusRunning, ClassID: "c1", StartedAt: started, Generation: 1,
		}

		ok, err := store.CompareAndSwap(ctx, 0, running)
		if err != nil || !ok {
			t.Fatalf("first swap: ok=%v err=%v", ok, err)
		}
		ok, err = store.CompareAndSwap(ctx, 0, running)
		if err != nil {
			t.Fatalf("stale swap failed: %v", err)
		}
		if ok {
			t.Error("stale generation should not swap")
		}

		loaded, _ := store.Load(ctx, "s1")
		if !loaded.IsRunning() || loaded.ClassID != "c1" || !loaded.StartedAt.Equal(started) || loaded.Generation != 1 {
			t.Errorf("unexpected loaded state: %+v", loaded)
		}

		idle := model.IdleTimerState("s1")
		idle.Generation = 2
		if ok, _ := store.CompareAndSwap(ctx, 1, idle); !ok {
			t.Fatal("swap to idle failed")
		}
		loaded, _ = store.Load(ctx, "s1")
		if loaded.IsRunning() || loaded.ClassID != "" || !loaded.StartedAt.IsZero() || loaded.Generation != 2 {
			t.Errorf("unexpected idle state: %+v", loaded)
		}
	})

	t.Run("生徒ごとに独立", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		store.CompareAndSwap(ctx, 0, model.TimerState{
			StudentID: "s1", Status: model.TimerStatusRunning, ClassID: "c1", StartedAt: t0, Generation: 1,
		})
		other, _ := store.Load(ctx, "s2")
		if other.IsRunning() || other.Generation != 0 {
			t.Errorf("s2 should be untouched: %+v", other)
		}
	})

	t.Run("同時実行で1件だけ成功", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.CompareAndSwap(ctx, 0, model.TimerState{
					StudentID: "s1", Status: model.TimerStatusRunning, ClassID: "c1", StartedAt: t0, Generation: 1,
				})
				if err != nil {
					t.Errorf("swap failed: %v", err)
				}
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("winners = %d, want 1", wins)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	stateStoreCases(t, func(t *testing.T) StateStore { return NewMemoryStore() })
}

func TestRedisStore(t *testing.T) {
	stateStoreCases(t, func(t *testing.T) StateStore {
		store, _ := newRedisStore(t)
		return store
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	store.CompareAndSwap(ctx, 0, model.TimerState{
		StudentID: "s1", Status: model.TimerStatusRunning, ClassID: "c1", StartedAt: t0, Generation: 1,
	})

	key := redisKeyPrefix + "s1"
	if !mr.Exists(key) {
		t.Fatalf("key %q should exist", key)
	}
	if got := mr.HGet(key, "status"); got != string(model.TimerStatusRunning) {
		t.Errorf("status = %q", got)
	}
	if got := mr.HGet(key, "generation"); got != "1" {
		t.Errorf("generation = %q", got)
	}
}

func TestRedisStore_CorruptedStateIsError(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.HSet(redisKeyPrefix+"s1", "status", "running", "generation", "abc")

	if _, err := store.Load(context.Background(), "s1"); err == nil {
		t.Error("expected decode error")
	}
}

func TestRedisStore_ServerDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client)

	if _, err := store.Load(context.Background(), "s1"); err == nil {
		t.Error("expected error when redis is unavailable")
	}
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := DialRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	client.Close()

	if _, err := DialRedis(context.Background(), "://bad"); err == nil {
		t.Error("expected parse error")
	}
}
