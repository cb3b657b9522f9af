package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/studytrack/internal/clock"
	"github.com/hitoshi/studytrack/internal/ledger"
	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/repository"
	"github.com/hitoshi/studytrack/internal/security"
)

// mockRecomputer はRecomputerのモック実装。
type mockRecomputer struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) (*ledger.ReconcileResult, error)
}

func (m *mockRecomputer) RecomputeAll(ctx context.Context) (*ledger.ReconcileResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.fn(ctx)
}

func (m *mockRecomputer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockMetrics はMetricsRecorderのモック実装。
type mockMetrics struct {
	corrected []int
}

func (m *mockMetrics) RecordReconcile(corrected int, duration time.Duration) {
	m.corrected = append(m.corrected, corrected)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogEntry はキーを含む最初のJSONログ行を返す。
func findLogEntry(t *testing.T, buf *bytes.Buffer, key string) map[string]interface{} {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry
		}
	}
	return nil
}

func TestNewJob_Defaults(t *testing.T) {
	job := NewJob(&mockRecomputer{}, nil, nil)
	if job == nil {
		t.Fatal("NewJob は nil を返してはならない")
	}
	if job.Interval != 24*time.Hour {
		t.Errorf("Interval = %v, want 24h", job.Interval)
	}
}

func TestJob_Run_RecordsResult(t *testing.T) {
	var buf bytes.Buffer
	metrics := &mockMetrics{}
	rec := &mockRecomputer{fn: func(ctx context.Context) (*ledger.ReconcileResult, error) {
		return &ledger.ReconcileResult{Checked: 10, Corrected: 3}, nil
	}}
	job := NewJob(rec, metrics, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(metrics.corrected) != 1 || metrics.corrected[0] != 3 {
		t.Errorf("metrics corrected = %v, want [3]", metrics.corrected)
	}
	entry := findLogEntry(t, &buf, "corrected_count")
	if entry == nil {
		t.Fatalf("ログに corrected_count が記録されていない: %s", buf.String())
	}
	if entry["corrected_count"] != float64(3) || entry["checked_count"] != float64(10) {
		t.Errorf("unexpected log entry: %v", entry)
	}
}

func TestJob_Run_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	metrics := &mockMetrics{}
	cause := errors.New("db down")
	rec := &mockRecomputer{fn: func(ctx context.Context) (*ledger.ReconcileResult, error) {
		return nil, cause
	}}
	job := NewJob(rec, metrics, newTestLogger(&buf))

	err := job.Run(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if len(metrics.corrected) != 0 {
		t.Error("失敗時はメトリクスを記録しない")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}

func TestJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	rec := &mockRecomputer{fn: func(ctx context.Context) (*ledger.ReconcileResult, error) {
		return &ledger.ReconcileResult{}, nil
	}}
	job := NewJob(rec, nil, newTestLogger(&buf))
	job.Interval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for rec.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("calls = %d, want >= 3", rec.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しない")
	}
}

func TestJob_Run_WithLedger(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	store.WithTx(ctx, func(tx repository.Tx) error {
		tx.Classes().Create(ctx, &model.Class{ID: "c1", TeacherID: "t1", Name: "Math", JoinCode: "JC1", CreatedAt: t0})
		tx.Enrollments().Create(ctx, &model.Enrollment{ClassID: "c1", StudentID: "s1", JoinedAt: t0})
		tx.Sessions().Create(ctx, &model.StudySession{
			ID: "ss1", ClassID: "c1", StudentID: "s1", StartTime: t0, EndTime: t0.Add(90 * time.Second), CreatedAt: t0,
		})
		// 集計値をずらしておく
		return tx.Enrollments().UpdateTotal(ctx, "c1", "s1", 10)
	})

	var buf bytes.Buffer
	metrics := &mockMetrics{}
	svc := ledger.NewService(store, clock.NewFake(t0), security.NewTextSanitizer(), nil, newTestLogger(&buf))
	job := NewJob(svc, metrics, newTestLogger(&buf))

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if len(metrics.corrected) != 1 || metrics.corrected[0] != 1 {
		t.Errorf("corrected = %v, want [1]", metrics.corrected)
	}

	store.WithTx(ctx, func(tx repository.Tx) error {
		e, _ := tx.Enrollments().Find(ctx, "c1", "s1")
		if e.TotalStudySeconds != 90 {
			t.Errorf("total = %d, want 90", e.TotalStudySeconds)
		}
		return nil
	})
}
