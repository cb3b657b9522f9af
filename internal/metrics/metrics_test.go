package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名のメトリクスファミリーを返す。見つからない場合はテストを失敗させる。
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if NewCollector(reg) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DoubleRegistrationPanics は同一レジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}

func TestRecordSessionCommitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCommitted(125)
	c.RecordSessionCommitted(75)

	sessions := findMetric(t, reg, "studytrack_sessions_committed_total")
	if v := sessions.GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("sessions_committed_total = %v, want 2", v)
	}
	seconds := findMetric(t, reg, "studytrack_study_seconds_total")
	if v := seconds.GetMetric()[0].GetCounter().GetValue(); v != 200 {
		t.Errorf("study_seconds_total = %v, want 200", v)
	}
}

func TestRecordAggregateClamped_LabelsByOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAggregateClamped("edit", 30)
	c.RecordAggregateClamped("delete", 10)
	c.RecordAggregateClamped("delete", 5)

	mf := findMetric(t, reg, "studytrack_aggregate_clamped_total")
	got := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if got["edit"] != 1 || got["delete"] != 2 {
		t.Errorf("unexpected clamp counts: %v", got)
	}

	drift := findMetric(t, reg, "studytrack_aggregate_clamped_seconds_total")
	if v := drift.GetMetric()[0].GetCounter().GetValue(); v != 45 {
		t.Errorf("clamped_seconds_total = %v, want 45", v)
	}
}

func TestRecordTimerConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTimerConflict("start")

	mf := findMetric(t, reg, "studytrack_timer_conflicts_total")
	m := mf.GetMetric()[0]
	if m.GetLabel()[0].GetValue() != "start" || m.GetCounter().GetValue() != 1 {
		t.Errorf("unexpected timer conflict metric: %v", m)
	}
}

func TestRecordTasksFannedOut(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTasksFannedOut(3)
	c.RecordTasksFannedOut(0)

	mf := findMetric(t, reg, "studytrack_tasks_fanned_out_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 3 {
		t.Errorf("tasks_fanned_out_total = %v, want 3", v)
	}
}

func TestRecordReconcile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReconcile(2, 150*time.Millisecond)

	corrected := findMetric(t, reg, "studytrack_reconcile_corrected_total")
	if v := corrected.GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("reconcile_corrected_total = %v, want 2", v)
	}
	latency := findMetric(t, reg, "studytrack_reconcile_duration_seconds")
	if n := latency.GetMetric()[0].GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("reconcile sample count = %d, want 1", n)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest(200, 10*time.Millisecond)
	c.RecordHTTPRequest(409, 5*time.Millisecond)
	c.RecordHTTPRequest(200, 1*time.Millisecond)

	mf := findMetric(t, reg, "studytrack_http_requests_total")
	got := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if got["200"] != 2 || got["409"] != 1 {
		t.Errorf("unexpected status counts: %v", got)
	}
}

func TestRecordManualAdjust(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordManualAdjust()

	mf := findMetric(t, reg, "studytrack_manual_adjust_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("manual_adjust_total = %v, want 1", v)
	}
}
