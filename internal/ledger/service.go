// Package ledger は学習セッションの記録と、受講登録ごとの学習時間集計値の維持を提供する。
//
// 集計値（Enrollment.TotalStudySeconds）はこのパッケージのServiceだけが更新する。
// すべての操作は1回のStore.WithTxで実行され、セッション行と集計値は常に同時に書き込まれる。
// 集計値を更新する操作は受講登録を行ロック付きで読み出してから書き込む。
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/studytrack/internal/clock"
	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/repository"
	"github.com/hitoshi/studytrack/internal/security"
	"github.com/hitoshi/studytrack/internal/validation"
)

// 集計値の切り詰めを記録する操作名。
const (
	OpEdit   = "edit"
	OpDelete = "delete"
)

// MetricsRecorder は台帳操作のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordSessionCommitted(seconds int64)
	RecordAggregateClamped(op string, drift int64)
	RecordManualAdjust()
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionCommitted(int64)         {}
func (nopRecorder) RecordAggregateClamped(string, int64) {}
func (nopRecorder) RecordManualAdjust()                  {}

// CommitResult はセッション記録・編集の結果。
type CommitResult struct {
	Session           *model.StudySession
	TotalStudySeconds int64
}

// ReconcileResult は全件再計算の結果。
type ReconcileResult struct {
	Checked   int
	Corrected int
}

// sessionInput は学習メモの検証用。
type sessionInput struct {
	Description string `json:"description" validate:"max=500"`
}

// Service は学習時間台帳のサービス層。
type Service struct {
	store     repository.Store
	clock     clock.Clock
	sanitizer security.TextSanitizer
	metrics   MetricsRecorder
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsとloggerはnilの場合、何もしない実装とslog.Default()を使う。
func NewService(
	store repository.Store,
	clk clock.Clock,
	sanitizer security.TextSanitizer,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		clock:     clk,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// normalizeTime は保存先の精度（マイクロ秒, UTC）に時刻をそろえる。
// 秒数の計算は常にそろえた後の値で行う。
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// applyDelta は集計値にdeltaを加算する。
// 結果が負になる場合は0に切り詰め、切り詰めた秒数をdriftとして返す。
func applyDelta(total, delta int64) (newTotal, drift int64) {
	newTotal = total + delta
	if newTotal < 0 {
		return 0, -newTotal
	}
	return newTotal, 0
}

func (s *Service) cleanDescription(raw string) (string, error) {
	desc := s.sanitizer.Sanitize(raw)
	if err := validation.Struct(sessionInput{Description: desc}); err != nil {
		return "", err
	}
	return desc, nil
}

// IsEnrolled は生徒がクラスに登録されているかを返す。
func (s *Service) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	var enrolled bool
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		e, err := tx.Enrollments().Find(ctx, classID, studentID)
		if err != nil {
			return fmt.Errorf("受講登録の取得に失敗しました: %w", err)
		}
		enrolled = e != nil
		return nil
	})
	if err != nil {
		return false, model.AsStorageFailure(err)
	}
	return enrolled, nil
}

// CommitSession は完了した学習区間を記録し、集計値に秒数を加算する。
// 受講登録がない場合はNOT_ENROLLED、秒数が0以下の場合はINVALID_INTERVALを返す。
func (s *Service) CommitSession(
	ctx context.Context,
	classID, studentID string,
	start, end time.Time,
	description string,
) (*CommitResult, error) {
	return s.commitSession(ctx, classID, studentID, start, end, description, nil)
}

// ClaimFunc は記録と同じトランザクション内で、記録より先に実行される処理。
// エラーを返すと記録ごとロールバックされる。
type ClaimFunc func(ctx context.Context, tx repository.Tx) error

// CommitClaimedSession はCommitSessionと同じ記録を行う。
// claimは受講登録のロックより先に同じトランザクション内で実行され、
// claimか記録のどちらかが失敗した場合は両方とも取り消される。
func (s *Service) CommitClaimedSession(
	ctx context.Context,
	classID, studentID string,
	start, end time.Time,
	description string,
	claim ClaimFunc,
) (*CommitResult, error) {
	return s.commitSession(ctx, classID, studentID, start, end, description, claim)
}

func (s *Service) commitSession(
	ctx context.Context,
	classID, studentID string,
	start, end time.Time,
	description string,
	claim ClaimFunc,
) (*CommitResult, error) {
	start = normalizeTime(start)
	end = normalizeTime(end)

	desc, err := s.cleanDescription(description)
	if err != nil {
		return nil, err
	}

	var result *CommitResult
	var seconds int64
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if claim != nil {
			if err := claim(ctx, tx); err != nil {
				return err
			}
		}
		enrollment, err := tx.Enrollments().FindForUpdate(ctx, classID, studentID)
		if err != nil {
			return fmt.Errorf("受講登録の取得に失敗しました: %w", err)
		}
		if enrollment == nil {
			return model.NewNotEnrolledError(classID, studentID)
		}

		seconds = model.IntervalSeconds(start, end)
		if seconds <= 0 {
			return model.NewInvalidIntervalError(seconds)
		}

		session := &model.StudySession{
			ID:          uuid.NewString(),
			ClassID:     classID,
			StudentID:   studentID,
			StartTime:   start,
			EndTime:     end,
			Description: desc,
			CreatedAt:   normalizeTime(s.clock.Now()),
		}
		if err := tx.Sessions().Create(ctx, session); err != nil {
			return fmt.Errorf("学習セッションの保存に失敗しました: %w", err)
		}

		newTotal := enrollment.TotalStudySeconds + seconds
		if err := tx.Enrollments().UpdateTotal(ctx, classID, studentID, newTotal); err != nil {
			return fmt.Errorf("学習時間の集計値の更新に失敗しました: %w", err)
		}

		result = &CommitResult{Session: session, TotalStudySeconds: newTotal}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}

	s.metrics.RecordSessionCommitted(seconds)
	s.logger.Info("学習セッションを記録",
		slog.String("session_id", result.Session.ID),
		slog.String("class_id", classID),
		slog.String("student_id", studentID),
		slog.Int64("seconds", seconds),
		slog.Int64("total", result.TotalStudySeconds),
	)
	return result, nil
}

// loadOwnedSession はセッションと、その所属クラスを教師actorが所有していることを確認する。
func loadOwnedSession(ctx context.Context, tx repository.Tx, actor model.Actor, sessionID string) (*model.StudySession, error) {
	session, err := tx.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewNotFoundError("学習セッション", sessionID)
	}
	if err := requireClassOwner(ctx, tx, actor, session.ClassID); err != nil {
		return nil, err
	}
	return session, nil
}

// requireClassOwner はactorがクラスを所有する教師であることを確認する。
func requireClassOwner(ctx context.Context, tx repository.Tx, actor model.Actor, classID string) error {
	class, err := tx.Classes().FindByID(ctx, classID)
	if err != nil {
		return fmt.Errorf("クラスの取得に失敗しました: %w", err)
	}
	if class == nil {
		return model.NewNotFoundError("クラス", classID)
	}
	if class.TeacherID != actor.ID {
		return model.NewNotOwnerError()
	}
	return nil
}

// lockSession は受講登録を行ロックし、ロック取得後のセッションを読み直す。
// ロック待ちの間に削除されていた場合はNOT_FOUNDを返す。
func lockSession(ctx context.Context, tx repository.Tx, session *model.StudySession) (*model.Enrollment, *model.StudySession, error) {
	enrollment, err := tx.Enrollments().FindForUpdate(ctx, session.ClassID, session.StudentID)
	if err != nil {
		return nil, nil, fmt.Errorf("受講登録の取得に失敗しました: %w", err)
	}
	if enrollment == nil {
		return nil, nil, model.NewNotEnrolledError(session.ClassID, session.StudentID)
	}

	current, err := tx.Sessions().FindByID(ctx, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	if current == nil {
		return nil, nil, model.NewNotFoundError("学習セッション", session.ID)
	}
	return enrollment, current, nil
}

// EditSession は学習セッションの終了時刻と学習メモを更新し、差分を集計値に反映する。
// newDescriptionがnilの場合は学習メモを変更しない。
// 集計値が負になる差分は0に切り詰め、メトリクスと警告ログで通知する。
func (s *Service) EditSession(
	ctx context.Context,
	actor model.Actor,
	sessionID string,
	newEnd time.Time,
	newDescription *string,
) (*CommitResult, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}
	newEnd = normalizeTime(newEnd)

	var desc *string
	if newDescription != nil {
		d, err := s.cleanDescription(*newDescription)
		if err != nil {
			return nil, err
		}
		desc = &d
	}

	var result *CommitResult
	var drift, delta int64
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		found, err := loadOwnedSession(ctx, tx, actor, sessionID)
		if err != nil {
			return err
		}
		enrollment, session, err := lockSession(ctx, tx, found)
		if err != nil {
			return err
		}

		newSeconds := model.IntervalSeconds(session.StartTime, newEnd)
		if newSeconds <= 0 {
			return model.NewInvalidIntervalError(newSeconds)
		}

		delta = newSeconds - session.DurationSeconds()
		var newTotal int64
		newTotal, drift = applyDelta(enrollment.TotalStudySeconds, delta)

		session.EndTime = newEnd
		if desc != nil {
			session.Description = *desc
		}
		if err := tx.Sessions().Update(ctx, session); err != nil {
			return fmt.Errorf("学習セッションの更新に失敗しました: %w", err)
		}
		if err := tx.Enrollments().UpdateTotal(ctx, session.ClassID, session.StudentID, newTotal); err != nil {
			return fmt.Errorf("学習時間の集計値の更新に失敗しました: %w", err)
		}

		result = &CommitResult{Session: session, TotalStudySeconds: newTotal}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}

	s.reportClamp(OpEdit, result.Session, drift)
	s.logger.Info("学習セッションを編集",
		slog.String("session_id", sessionID),
		slog.String("teacher_id", actor.ID),
		slog.Int64("delta", delta),
		slog.Int64("total", result.TotalStudySeconds),
	)
	return result, nil
}

// DeleteSession は学習セッションを削除し、その秒数を集計値から差し引く。
// 削除後の集計値を返す。
func (s *Service) DeleteSession(ctx context.Context, actor model.Actor, sessionID string) (int64, error) {
	if err := actor.RequireTeacher(); err != nil {
		return 0, err
	}

	var newTotal, drift int64
	var deleted *model.StudySession
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		found, err := loadOwnedSession(ctx, tx, actor, sessionID)
		if err != nil {
			return err
		}
		enrollment, session, err := lockSession(ctx, tx, found)
		if err != nil {
			return err
		}

		newTotal, drift = applyDelta(enrollment.TotalStudySeconds, -session.DurationSeconds())

		if err := tx.Sessions().Delete(ctx, session.ID); err != nil {
			return fmt.Errorf("学習セッションの削除に失敗しました: %w", err)
		}
		if err := tx.Enrollments().UpdateTotal(ctx, session.ClassID, session.StudentID, newTotal); err != nil {
			return fmt.Errorf("学習時間の集計値の更新に失敗しました: %w", err)
		}
		deleted = session
		return nil
	})
	if err != nil {
		return 0, model.AsStorageFailure(err)
	}

	s.reportClamp(OpDelete, deleted, drift)
	s.logger.Info("学習セッションを削除",
		slog.String("session_id", sessionID),
		slog.String("teacher_id", actor.ID),
		slog.Int64("seconds", deleted.DurationSeconds()),
		slog.Int64("total", newTotal),
	)
	return newTotal, nil
}

func (s *Service) reportClamp(op string, session *model.StudySession, drift int64) {
	if drift <= 0 {
		return
	}
	s.metrics.RecordAggregateClamped(op, drift)
	s.logger.Warn("学習時間の集計値を0に切り詰めました",
		slog.String("op", op),
		slog.String("class_id", session.ClassID),
		slog.String("student_id", session.StudentID),
		slog.String("session_id", session.ID),
		slog.Int64("drift_seconds", drift),
	)
}

// ManualAdjustTotal は教師が集計値を直接上書きする。
// セッションの記録とは照合しないため、次回の再計算まで集計値とセッション合計が一致しなくなる場合がある。
// 負の値はVALIDATION_ERRORを返す。
func (s *Service) ManualAdjustTotal(
	ctx context.Context,
	actor model.Actor,
	classID, studentID string,
	newTotal int64,
) (*model.Enrollment, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}
	if newTotal < 0 {
		return nil, model.NewValidationError("total_study_seconds は0以上で指定してください")
	}

	var updated *model.Enrollment
	var previous int64
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := requireClassOwner(ctx, tx, actor, classID); err != nil {
			return err
		}
		enrollment, err := tx.Enrollments().FindForUpdate(ctx, classID, studentID)
		if err != nil {
			return fmt.Errorf("受講登録の取得に失敗しました: %w", err)
		}
		if enrollment == nil {
			return model.NewNotEnrolledError(classID, studentID)
		}
		if err := tx.Enrollments().UpdateTotal(ctx, classID, studentID, newTotal); err != nil {
			return fmt.Errorf("学習時間の集計値の更新に失敗しました: %w", err)
		}
		previous = enrollment.TotalStudySeconds
		enrollment.TotalStudySeconds = newTotal
		updated = enrollment
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}

	s.metrics.RecordManualAdjust()
	s.logger.Info("学習時間の集計値を手動で上書き",
		slog.String("class_id", classID),
		slog.String("student_id", studentID),
		slog.String("teacher_id", actor.ID),
		slog.Int64("previous", previous),
		slog.Int64("total", newTotal),
	)
	return updated, nil
}

// RecomputeTotal は受講登録の集計値をセッション記録の合計から再計算する。
func (s *Service) RecomputeTotal(ctx context.Context, actor model.Actor, classID, studentID string) (*model.Enrollment, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}

	var enrollment *model.Enrollment
	var previous int64
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := requireClassOwner(ctx, tx, actor, classID); err != nil {
			return err
		}
		var err error
		enrollment, previous, err = recompute(ctx, tx, classID, studentID)
		return err
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}

	if previous != enrollment.TotalStudySeconds {
		s.logger.Warn("学習時間の集計値を再計算で修正しました",
			slog.String("class_id", classID),
			slog.String("student_id", studentID),
			slog.Int64("previous", previous),
			slog.Int64("total", enrollment.TotalStudySeconds),
		)
	}
	return enrollment, nil
}

// recompute は受講登録をロックし、集計値をセッション合計で上書きする。
// 更新前の集計値も返す。
func recompute(ctx context.Context, tx repository.Tx, classID, studentID string) (*model.Enrollment, int64, error) {
	enrollment, err := tx.Enrollments().FindForUpdate(ctx, classID, studentID)
	if err != nil {
		return nil, 0, fmt.Errorf("受講登録の取得に失敗しました: %w", err)
	}
	if enrollment == nil {
		return nil, 0, model.NewNotEnrolledError(classID, studentID)
	}

	sum, err := tx.Sessions().SumDurations(ctx, classID, studentID)
	if err != nil {
		return nil, 0, fmt.Errorf("学習時間の合計の取得に失敗しました: %w", err)
	}

	previous := enrollment.TotalStudySeconds
	if sum != previous {
		if err := tx.Enrollments().UpdateTotal(ctx, classID, studentID, sum); err != nil {
			return nil, 0, fmt.Errorf("学習時間の集計値の更新に失敗しました: %w", err)
		}
		enrollment.TotalStudySeconds = sum
	}
	return enrollment, previous, nil
}

// RecomputeAll は全受講登録の集計値をセッション記録から再計算する。
// 受講登録ごとに別トランザクションで処理し、ロックの保持時間を短くする。
// 再計算中に削除された受講登録は読み飛ばす。
func (s *Service) RecomputeAll(ctx context.Context) (*ReconcileResult, error) {
	var enrollments []*model.Enrollment
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		enrollments, err = tx.Enrollments().ListAll(ctx)
		if err != nil {
			return fmt.Errorf("受講登録一覧の取得に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}

	result := &ReconcileResult{}
	for _, e := range enrollments {
		if err := ctx.Err(); err != nil {
			return result, model.AsStorageFailure(err)
		}

		var updated *model.Enrollment
		var previous int64
		err := s.store.WithTx(ctx, func(tx repository.Tx) error {
			var err error
			updated, previous, err = recompute(ctx, tx, e.ClassID, e.StudentID)
			return err
		})
		if model.ErrorCode(err) == model.ErrCodeNotEnrolled {
			continue
		}
		if err != nil {
			return result, model.AsStorageFailure(err)
		}

		result.Checked++
		if previous != updated.TotalStudySeconds {
			result.Corrected++
			s.logger.Warn("学習時間の集計値を再計算で修正しました",
				slog.String("class_id", e.ClassID),
				slog.String("student_id", e.StudentID),
				slog.Int64("previous", previous),
				slog.Int64("total", updated.TotalStudySeconds),
			)
		}
	}
	return result, nil
}

// ListSessions は受講登録の学習セッション一覧を返す。
// クラスを所有する教師か、その生徒本人のみ参照できる。
func (s *Service) ListSessions(ctx context.Context, actor model.Actor, classID, studentID string) ([]*model.StudySession, error) {
	var sessions []*model.StudySession
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		class, err := tx.Classes().FindByID(ctx, classID)
		if err != nil {
			return fmt.Errorf("クラスの取得に失敗しました: %w", err)
		}
		if class == nil {
			return model.NewNotFoundError("クラス", classID)
		}

		isOwner := actor.IsTeacher() && class.TeacherID == actor.ID
		isSelf := actor.IsStudent() && actor.ID == studentID
		if !isOwner && !isSelf {
			return model.NewNotOwnerError()
		}

		enrollment, err := tx.Enrollments().Find(ctx, classID, studentID)
		if err != nil {
			return fmt.Errorf("受講登録の取得に失敗しました: %w", err)
		}
		if enrollment == nil {
			return model.NewNotEnrolledError(classID, studentID)
		}

		sessions, err = tx.Sessions().ListByEnrollment(ctx, classID, studentID)
		if err != nil {
			return fmt.Errorf("学習セッション一覧の取得に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return sessions, nil
}
