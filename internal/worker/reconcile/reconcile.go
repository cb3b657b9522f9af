// Package reconcile は学習時間集計値の定期再計算ジョブを提供する。
// 全受講登録の集計値をセッション記録の合計で上書きし、ずれていた件数を記録する。
// 集計値の更新はledger.Serviceを経由して行う。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/studytrack/internal/ledger"
)

// Recomputer は全件再計算を行う台帳操作。
type Recomputer interface {
	RecomputeAll(ctx context.Context) (*ledger.ReconcileResult, error)
}

// MetricsRecorder は再計算ジョブのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordReconcile(corrected int, duration time.Duration)
}

// Job は集計値の再計算ジョブ。
// 日次実行のバッチジョブとして設計されており、何度実行しても結果は変わらない。
type Job struct {
	ledger   Recomputer
	metrics  MetricsRecorder
	logger   *slog.Logger
	Interval time.Duration // 定期実行の間隔（デフォルト: 24時間）
}

// NewJob は新しいJobを生成する。
func NewJob(l Recomputer, metrics MetricsRecorder, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		ledger:   l,
		metrics:  metrics,
		logger:   logger,
		Interval: 24 * time.Hour,
	}
}

// Run は全受講登録の集計値を1回再計算する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.ledger.RecomputeAll(ctx)
	duration := time.Since(start)
	if err != nil {
		j.logger.Error("集計値の再計算ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("集計値の再計算に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordReconcile(result.Corrected, duration)
	}
	j.logger.Info("集計値の再計算ジョブが完了しました",
		slog.Int("checked_count", result.Checked),
		slog.Int("corrected_count", result.Corrected),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以後Intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに記録して次回に持ち越す。
func (j *Job) Start(ctx context.Context) {
	j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
