// Package timer は生徒ごとの学習タイマー（Idle / Running の2状態）を提供する。
//
// 1人の生徒が同時に持てる計測中の区間は1つだけで、状態の遷移はStateStoreの
// CompareAndSwapでのみ行う。停止時は計測中の状態をIdleへ確定させてから台帳に記録するため、
// 同時に停止しても記録は1件に限られる。StateStoreが台帳と同じトランザクションを
// 扱える場合（TxStateStore）は確定と記録を1つのトランザクションで行い、
// それ以外の場合は記録の失敗時に計測中の状態を復元する。
package timer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/studytrack/internal/clock"
	"github.com/hitoshi/studytrack/internal/ledger"
	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/repository"
)

// 競合を記録する操作名。
const (
	OpStart = "start"
	OpStop  = "stop"
)

// Ledger はタイマーが利用する台帳操作。
type Ledger interface {
	IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
	CommitSession(ctx context.Context, classID, studentID string, start, end time.Time, description string) (*ledger.CommitResult, error)
}

// ClaimingLedger は停止の確定と記録を1つのトランザクションで行える台帳。
type ClaimingLedger interface {
	CommitClaimedSession(ctx context.Context, classID, studentID string, start, end time.Time, description string, claim ledger.ClaimFunc) (*ledger.CommitResult, error)
}

// TxStateStore は台帳と同じトランザクション内で状態を遷移できるStateStore。
// StateStoreとClaimingLedgerの両方を満たす場合、停止は記録と同時に確定する。
type TxStateStore interface {
	StateStore
	CompareAndSwapInTx(ctx context.Context, tx repository.Tx, expected uint64, next model.TimerState) (bool, error)
}

// 復元の試行回数と1回あたりの上限時間。
const (
	restoreAttempts = 3
	restoreTimeout  = 5 * time.Second
)

// errClaimLost は同じトランザクション内での停止の確定に失敗したことを表す。
var errClaimLost = errors.New("timer state changed before stop was committed")

// MetricsRecorder はタイマー競合のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordTimerConflict(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTimerConflict(string) {}

// Service はタイマーの状態遷移を扱うサービス層。
type Service struct {
	states  StateStore
	ledger  Ledger
	clock   clock.Clock
	metrics MetricsRecorder
	logger  *slog.Logger

	// restoreBackoff は復元を再試行するまでの待ち時間。
	restoreBackoff time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(states StateStore, l Ledger, clk clock.Clock, metrics MetricsRecorder, logger *slog.Logger) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		states:  states,
		ledger:  l,
		clock:   clk,
		metrics: metrics,
		logger:  logger,

		restoreBackoff: 100 * time.Millisecond,
	}
}

// Status は生徒の現在のタイマー状態を返す。
func (s *Service) Status(ctx context.Context, actor model.Actor) (model.TimerState, error) {
	if err := actor.RequireStudent(); err != nil {
		return model.TimerState{}, err
	}
	state, err := s.states.Load(ctx, actor.ID)
	if err != nil {
		return model.TimerState{}, model.NewStorageFailureError(err)
	}
	return state, nil
}

// Start はクラスの学習タイマーを開始する。
// 受講登録がない場合はNOT_ENROLLED、既に計測中の場合はALREADY_RUNNINGを返し、状態は変更しない。
func (s *Service) Start(ctx context.Context, actor model.Actor, classID string) (model.TimerState, error) {
	if err := actor.RequireStudent(); err != nil {
		return model.TimerState{}, err
	}

	enrolled, err := s.ledger.IsEnrolled(ctx, classID, actor.ID)
	if err != nil {
		return model.TimerState{}, err
	}
	if !enrolled {
		return model.TimerState{}, model.NewNotEnrolledError(classID, actor.ID)
	}

	current, err := s.states.Load(ctx, actor.ID)
	if err != nil {
		return model.TimerState{}, model.NewStorageFailureError(err)
	}
	if current.IsRunning() {
		return model.TimerState{}, model.NewAlreadyRunningError()
	}

	next := model.TimerState{
		StudentID:  actor.ID,
		Status:     model.TimerStatusRunning,
		ClassID:    classID,
		StartedAt:  s.clock.Now(),
		Generation: current.Generation + 1,
	}
	swapped, err := s.states.CompareAndSwap(ctx, current.Generation, next)
	if err != nil {
		return model.TimerState{}, model.NewStorageFailureError(err)
	}
	if !swapped {
		// 読み出しから書き込みまでの間に他の要求が状態を変更した
		s.metrics.RecordTimerConflict(OpStart)
		return model.TimerState{}, model.NewAlreadyRunningError()
	}

	s.logger.Info("学習タイマーを開始",
		slog.String("student_id", actor.ID),
		slog.String("class_id", classID),
		slog.Uint64("generation", next.Generation),
	)
	return next, nil
}

// Stop は計測中のタイマーを停止し、学習セッションとして台帳に記録する。
// Idleの場合はNOT_RUNNING、経過秒数が0以下の場合はINVALID_INTERVALを返す（いずれもセッションは作成しない）。
// 台帳への記録がSTORAGE_FAILUREまたはVALIDATION_ERRORで失敗した場合は計測中のままとなり、
// 生徒が再度停止できる。
func (s *Service) Stop(ctx context.Context, actor model.Actor, description string) (*ledger.CommitResult, error) {
	if err := actor.RequireStudent(); err != nil {
		return nil, err
	}

	running, err := s.states.Load(ctx, actor.ID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if !running.IsRunning() {
		return nil, model.NewNotRunningError()
	}

	now := s.clock.Now()
	seconds := model.IntervalSeconds(running.StartedAt, now)

	idle := model.IdleTimerState(actor.ID)
	idle.Generation = running.Generation + 1

	if seconds > 0 {
		if txStates, ok := s.states.(TxStateStore); ok {
			if cl, ok := s.ledger.(ClaimingLedger); ok {
				return s.stopInTx(ctx, txStates, cl, running, idle, now, description)
			}
		}
	}

	swapped, err := s.states.CompareAndSwap(ctx, running.Generation, idle)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if !swapped {
		// 同時に実行された別の停止要求が先に確定させた
		s.metrics.RecordTimerConflict(OpStop)
		return nil, model.NewNotRunningError()
	}

	if seconds <= 0 {
		s.logger.Warn("経過時間が0秒以下のためセッションを記録しません",
			slog.String("student_id", actor.ID),
			slog.String("class_id", running.ClassID),
			slog.Int64("seconds", seconds),
		)
		return nil, model.NewInvalidIntervalError(seconds)
	}

	result, err := s.ledger.CommitSession(ctx, running.ClassID, actor.ID, running.StartedAt, now, description)
	if err != nil {
		switch model.ErrorCode(err) {
		case model.ErrCodeStorageFailure, model.ErrCodeValidation:
			s.restore(ctx, idle, running)
		}
		return nil, err
	}

	s.logStopped(running, result)
	return result, nil
}

// stopInTx は停止の確定と記録を台帳の1つのトランザクションで行う。
// 記録に失敗した場合は確定も取り消されるため、状態は計測中のまま残る。
func (s *Service) stopInTx(
	ctx context.Context,
	states TxStateStore,
	cl ClaimingLedger,
	running, idle model.TimerState,
	now time.Time,
	description string,
) (*ledger.CommitResult, error) {
	result, err := cl.CommitClaimedSession(ctx, running.ClassID, running.StudentID, running.StartedAt, now, description,
		func(ctx context.Context, tx repository.Tx) error {
			swapped, err := states.CompareAndSwapInTx(ctx, tx, running.Generation, idle)
			if err != nil {
				return err
			}
			if !swapped {
				return errClaimLost
			}
			return nil
		})

	switch {
	case err == nil:
		s.logStopped(running, result)
		return result, nil
	case errors.Is(err, errClaimLost):
		s.metrics.RecordTimerConflict(OpStop)
		return nil, model.NewNotRunningError()
	case model.ErrorCode(err) == model.ErrCodeNotEnrolled:
		// 記録先の受講登録がないため計測を破棄する
		if _, swapErr := s.states.CompareAndSwap(ctx, running.Generation, idle); swapErr != nil {
			s.logger.Error("タイマー状態の破棄に失敗",
				slog.String("student_id", running.StudentID),
				slog.String("class_id", running.ClassID),
				slog.Any("error", swapErr),
			)
		}
		return nil, err
	default:
		return nil, err
	}
}

func (s *Service) logStopped(running model.TimerState, result *ledger.CommitResult) {
	s.logger.Info("学習タイマーを停止",
		slog.String("student_id", running.StudentID),
		slog.String("class_id", running.ClassID),
		slog.String("session_id", result.Session.ID),
		slog.Int64("seconds", result.Session.DurationSeconds()),
	)
}

// restore は停止で確定させたIdle状態を、元の計測中の状態に戻す。
// 要求元の切断で止まらないよう、呼び出し元のキャンセルから切り離したctxで実行し、
// 書き込みに失敗した場合は再試行する。間に別の開始要求が入っていた場合は戻さない。
func (s *Service) restore(ctx context.Context, idle, running model.TimerState) {
	restored := running
	restored.Generation = idle.Generation + 1
	base := context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= restoreAttempts; attempt++ {
		var swapped bool
		attemptCtx, cancel := context.WithTimeout(base, restoreTimeout)
		swapped, err = s.states.CompareAndSwap(attemptCtx, idle.Generation, restored)
		cancel()
		if err == nil && swapped {
			s.logger.Info("タイマー状態を計測中に復元",
				slog.String("student_id", running.StudentID),
				slog.String("class_id", running.ClassID),
				slog.Int("attempt", attempt),
			)
			return
		}
		if err == nil {
			// 別の要求が状態を進めた
			break
		}
		if attempt < restoreAttempts {
			time.Sleep(s.restoreBackoff * time.Duration(attempt))
		}
	}

	s.logger.Error("タイマー状態の復元に失敗",
		slog.String("student_id", running.StudentID),
		slog.String("class_id", running.ClassID),
		slog.Time("started_at", running.StartedAt),
		slog.Any("error", err),
	)
}
