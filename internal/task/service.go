// Package task は教師課題の作成と、受講者ごとの生徒課題への展開を提供する。
//
// 教師課題の作成時には同じトランザクション内で現在の受講者一覧を読み、1人につき1件の
// 生徒課題を作成する。作成後に参加した生徒には展開されない。
// 教師課題の編集は展開済みの生徒課題へ反映するが、完了状態は変更しない。
package task

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

// Input は課題の作成・編集の入力。
type Input struct {
	Description         string `json:"description" validate:"required,max=500"`
	DueDate             string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	DurationHintMinutes *int   `json:"duration_hint_minutes" validate:"omitempty,min=0"`
}

// fields は検証済みの課題の記述項目。
type fields struct {
	description string
	dueDate     *time.Time
	hint        *int
}

// MetricsRecorder は課題展開のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordTasksFannedOut(count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordTasksFannedOut(int) {}

// Service は課題のサービス層。
type Service struct {
	store     repository.Store
	clock     clock.Clock
	sanitizer security.TextSanitizer
	metrics   MetricsRecorder
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
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

// clean は説明文のマークアップを除去してから入力を検証し、期限日を解析する。
func (s *Service) clean(in Input) (fields, error) {
	in.Description = s.sanitizer.Sanitize(in.Description)
	if err := validation.Struct(in); err != nil {
		return fields{}, err
	}

	f := fields{description: in.Description}
	if in.DueDate != "" {
		due, err := time.ParseInLocation(model.DueDateLayout, in.DueDate, time.UTC)
		if err != nil {
			return fields{}, model.NewValidationError(fmt.Sprintf("due_date が不正です: %s", in.DueDate))
		}
		f.dueDate = &due
	}
	if in.DurationHintMinutes != nil {
		hint := *in.DurationHintMinutes
		f.hint = &hint
	}
	return f, nil
}

// dueCopy と hintCopy は生徒課題ごとに独立した値を持たせるために複製する。
func dueCopy(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func hintCopy(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
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

// loadTeacherTask は教師課題を取得し、actorがそのクラスを所有していることを確認する。
func loadTeacherTask(ctx context.Context, tx repository.Tx, actor model.Actor, taskID string) (*model.TeacherTask, error) {
	task, err := tx.Tasks().FindTeacherTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("教師課題の取得に失敗しました: %w", err)
	}
	if task == nil {
		return nil, model.NewNotFoundError("教師課題", taskID)
	}
	if err := requireClassOwner(ctx, tx, actor, task.ClassID); err != nil {
		return nil, err
	}
	return task, nil
}

// loadStudentTask は生徒課題を取得し、actor本人の課題であることを確認する。
func loadStudentTask(ctx context.Context, tx repository.Tx, actor model.Actor, taskID string) (*model.StudentTask, error) {
	task, err := tx.Tasks().FindStudentTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("生徒課題の取得に失敗しました: %w", err)
	}
	if task == nil {
		return nil, model.NewNotFoundError("課題", taskID)
	}
	if task.StudentID != actor.ID {
		return nil, model.NewNotOwnerError()
	}
	return task, nil
}

// CreateTeacherTask はクラスに教師課題を作成し、現在の受講者全員に生徒課題を展開する。
func (s *Service) CreateTeacherTask(ctx context.Context, actor model.Actor, classID string, in Input) (*model.TeacherTask, []*model.StudentTask, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, nil, err
	}
	f, err := s.clean(in)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	task := &model.TeacherTask{
		ID:                  uuid.New().String(),
		ClassID:             classID,
		Description:         f.description,
		DueDate:             f.dueDate,
		DurationHintMinutes: f.hint,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	var spawned []*model.StudentTask
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := requireClassOwner(ctx, tx, actor, classID); err != nil {
			return err
		}
		if err := tx.Tasks().CreateTeacherTask(ctx, task); err != nil {
			return fmt.Errorf("教師課題の作成に失敗しました: %w", err)
		}

		studentIDs, err := tx.Enrollments().ListStudentIDs(ctx, classID)
		if err != nil {
			return fmt.Errorf("受講者一覧の取得に失敗しました: %w", err)
		}

		spawned = make([]*model.StudentTask, 0, len(studentIDs))
		for _, studentID := range studentIDs {
			teacherTaskID := task.ID
			taskClassID := classID
			st := &model.StudentTask{
				ID:                  uuid.New().String(),
				TeacherTaskID:       &teacherTaskID,
				ClassID:             &taskClassID,
				StudentID:           studentID,
				Description:         task.Description,
				DueDate:             dueCopy(task.DueDate),
				DurationHintMinutes: hintCopy(task.DurationHintMinutes),
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := tx.Tasks().CreateStudentTask(ctx, st); err != nil {
				return fmt.Errorf("生徒課題の作成に失敗しました: %w", err)
			}
			spawned = append(spawned, st)
		}
		return nil
	})
	if err != nil {
		return nil, nil, model.AsStorageFailure(err)
	}

	s.metrics.RecordTasksFannedOut(len(spawned))
	s.logger.Info("教師課題を作成",
		slog.String("task_id", task.ID),
		slog.String("class_id", classID),
		slog.Int("spawned", len(spawned)),
	)
	return task, spawned, nil
}

// EditTeacherTask は教師課題の記述項目を更新し、展開済みの生徒課題へ反映する。
func (s *Service) EditTeacherTask(ctx context.Context, actor model.Actor, taskID string, in Input) (*model.TeacherTask, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}
	f, err := s.clean(in)
	if err != nil {
		return nil, err
	}

	var task *model.TeacherTask
	var propagated int64
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		task, err = loadTeacherTask(ctx, tx, actor, taskID)
		if err != nil {
			return err
		}

		task.Description = f.description
		task.DueDate = f.dueDate
		task.DurationHintMinutes = f.hint
		task.UpdatedAt = s.now()
		if err := tx.Tasks().UpdateTeacherTask(ctx, task); err != nil {
			return fmt.Errorf("教師課題の更新に失敗しました: %w", err)
		}

		propagated, err = tx.Tasks().PropagateTeacherTask(ctx, task)
		if err != nil {
			return fmt.Errorf("生徒課題への反映に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}

	s.logger.Info("教師課題を更新",
		slog.String("task_id", task.ID),
		slog.Int64("propagated", propagated),
	)
	return task, nil
}

// DeleteTeacherTask は教師課題と、展開済みの生徒課題を削除する。
func (s *Service) DeleteTeacherTask(ctx context.Context, actor model.Actor, taskID string) error {
	if err := actor.RequireTeacher(); err != nil {
		return err
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := loadTeacherTask(ctx, tx, actor, taskID); err != nil {
			return err
		}
		if err := tx.Tasks().DeleteTeacherTask(ctx, taskID); err != nil {
			return fmt.Errorf("教師課題の削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.AsStorageFailure(err)
	}

	s.logger.Info("教師課題を削除", slog.String("task_id", taskID))
	return nil
}

// ListTeacherTasks はクラスの教師課題一覧を返す。
func (s *Service) ListTeacherTasks(ctx context.Context, actor model.Actor, classID string) ([]*model.TeacherTask, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}

	var tasks []*model.TeacherTask
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := requireClassOwner(ctx, tx, actor, classID); err != nil {
			return err
		}
		var err error
		tasks, err = tx.Tasks().ListTeacherTasksByClass(ctx, classID)
		if err != nil {
			return fmt.Errorf("教師課題一覧の取得に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return tasks, nil
}

// CreatePersonalTask は生徒の個人タスクを作成する。
// classIDを指定する場合、生徒はそのクラスに登録済みである必要がある。
func (s *Service) CreatePersonalTask(ctx context.Context, actor model.Actor, classID *string, in Input) (*model.StudentTask, error) {
	if err := actor.RequireStudent(); err != nil {
		return nil, err
	}
	f, err := s.clean(in)
	if err != nil {
		return nil, err
	}
	if classID != nil && *classID == "" {
		classID = nil
	}

	now := s.now()
	task := &model.StudentTask{
		ID:                  uuid.New().String(),
		StudentID:           actor.ID,
		Description:         f.description,
		DueDate:             f.dueDate,
		DurationHintMinutes: f.hint,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if classID != nil {
		id := *classID
		task.ClassID = &id
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if task.ClassID != nil {
			e, err := tx.Enrollments().Find(ctx, *task.ClassID, actor.ID)
			if err != nil {
				return fmt.Errorf("受講登録の取得に失敗しました: %w", err)
			}
			if e == nil {
				return model.NewNotEnrolledError(*task.ClassID, actor.ID)
			}
		}
		if err := tx.Tasks().CreateStudentTask(ctx, task); err != nil {
			return fmt.Errorf("個人タスクの作成に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return task, nil
}

// EditPersonalTask は個人タスクの記述項目を更新する。
// 教師課題から展開された課題は編集できない。
func (s *Service) EditPersonalTask(ctx context.Context, actor model.Actor, taskID string, in Input) (*model.StudentTask, error) {
	if err := actor.RequireStudent(); err != nil {
		return nil, err
	}
	f, err := s.clean(in)
	if err != nil {
		return nil, err
	}

	var task *model.StudentTask
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		task, err = loadStudentTask(ctx, tx, actor, taskID)
		if err != nil {
			return err
		}
		if !task.IsPersonal() {
			return model.NewNotOwnerError()
		}

		task.Description = f.description
		task.DueDate = f.dueDate
		task.DurationHintMinutes = f.hint
		task.UpdatedAt = s.now()
		if err := tx.Tasks().UpdateStudentTask(ctx, task); err != nil {
			return fmt.Errorf("個人タスクの更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return task, nil
}

// DeletePersonalTask は個人タスクを削除する。
func (s *Service) DeletePersonalTask(ctx context.Context, actor model.Actor, taskID string) error {
	if err := actor.RequireStudent(); err != nil {
		return err
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		task, err := loadStudentTask(ctx, tx, actor, taskID)
		if err != nil {
			return err
		}
		if !task.IsPersonal() {
			return model.NewNotOwnerError()
		}
		if err := tx.Tasks().DeleteStudentTask(ctx, taskID); err != nil {
			return fmt.Errorf("個人タスクの削除に失敗しました: %w", err)
		}
		return nil
	})
	return model.AsStorageFailure(err)
}

// CompleteTask は生徒課題の完了状態を切り替える。
// 完了にした場合はCompletedAtに現在時刻を記録し、未完了に戻した場合は消去する。
func (s *Service) CompleteTask(ctx context.Context, actor model.Actor, taskID string) (*model.StudentTask, error) {
	if err := actor.RequireStudent(); err != nil {
		return nil, err
	}

	var task *model.StudentTask
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		task, err = loadStudentTask(ctx, tx, actor, taskID)
		if err != nil {
			return err
		}

		now := s.now()
		task.Completed = !task.Completed
		if task.Completed {
			task.CompletedAt = &now
		} else {
			task.CompletedAt = nil
		}
		task.UpdatedAt = now
		if err := tx.Tasks().UpdateStudentTask(ctx, task); err != nil {
			return fmt.Errorf("課題の完了状態の更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return task, nil
}

// ListStudentTasks は生徒の課題一覧（展開された課題と個人タスク）を返す。
func (s *Service) ListStudentTasks(ctx context.Context, actor model.Actor) ([]*model.StudentTask, error) {
	if err := actor.RequireStudent(); err != nil {
		return nil, err
	}

	var tasks []*model.StudentTask
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		tasks, err = tx.Tasks().ListStudentTasksByStudent(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return tasks, nil
}
