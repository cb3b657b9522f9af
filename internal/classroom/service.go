// Package classroom はクラスの作成・参加・退出と受講者一覧を提供する。
package classroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/studytrack/internal/clock"
	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/repository"
	"github.com/hitoshi/studytrack/internal/security"
	"github.com/hitoshi/studytrack/internal/validation"
)

const (
	joinCodeLength   = 8
	joinCodeAttempts = 5
)

// classInput はクラス名の検証用。
type classInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

// newJoinCode はUUIDの先頭から英大文字と数字の参加コードを生成する。
func newJoinCode() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(hex[:joinCodeLength])
}

// Service はクラス管理のサービス層。
type Service struct {
	store     repository.Store
	clock     clock.Clock
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	joinCode  func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, clk clock.Clock, sanitizer security.TextSanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		clock:     clk,
		sanitizer: sanitizer,
		logger:    logger,
		joinCode:  newJoinCode,
	}
}

func (s *Service) cleanName(raw string) (string, error) {
	in := classInput{Name: s.sanitizer.Sanitize(raw)}
	if err := validation.Struct(in); err != nil {
		return "", err
	}
	return in.Name, nil
}

// ownedClass はクラスを取得し、actorが所有する教師であることを確認する。
func ownedClass(ctx context.Context, tx repository.Tx, actor model.Actor, classID string) (*model.Class, error) {
	class, err := tx.Classes().FindByID(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("クラスの取得に失敗しました: %w", err)
	}
	if class == nil {
		return nil, model.NewNotFoundError("クラス", classID)
	}
	if class.TeacherID != actor.ID {
		return nil, model.NewNotOwnerError()
	}
	return class, nil
}

// CreateClass は教師のクラスを作成する。
// 参加コードが既存のクラスと重複した場合は新しいコードで作り直す。
func (s *Service) CreateClass(ctx context.Context, actor model.Actor, name string) (*model.Class, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}
	name, err := s.cleanName(name)
	if err != nil {
		return nil, err
	}

	class := &model.Class{
		ID:        uuid.New().String(),
		TeacherID: actor.ID,
		Name:      name,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Microsecond),
	}

	// 一意制約違反でトランザクションが中断されるため、試行ごとにトランザクションを分ける
	for attempt := 1; attempt <= joinCodeAttempts; attempt++ {
		class.JoinCode = s.joinCode()
		err = s.store.WithTx(ctx, func(tx repository.Tx) error {
			return tx.Classes().Create(ctx, class)
		})
		if errors.Is(err, repository.ErrDuplicate) {
			s.logger.Warn("参加コードが重複したため再生成",
				slog.String("join_code", class.JoinCode),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, model.NewStorageFailureError(fmt.Errorf("クラスの作成に失敗しました: %w", err))
		}

		s.logger.Info("クラスを作成",
			slog.String("class_id", class.ID),
			slog.String("teacher_id", actor.ID),
		)
		return class, nil
	}
	return nil, model.NewStorageFailureError(fmt.Errorf("参加コードの生成に%d回失敗しました: %w", joinCodeAttempts, err))
}

// RenameClass はクラス名を変更する。
func (s *Service) RenameClass(ctx context.Context, actor model.Actor, classID, name string) (*model.Class, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}
	name, err := s.cleanName(name)
	if err != nil {
		return nil, err
	}

	var class *model.Class
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		class, err = ownedClass(ctx, tx, actor, classID)
		if err != nil {
			return err
		}
		if err := tx.Classes().UpdateName(ctx, classID, name); err != nil {
			return fmt.Errorf("クラス名の更新に失敗しました: %w", err)
		}
		class.Name = name
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return class, nil
}

// DeleteClass はクラスを削除する。
// 受講登録、学習セッション、教師課題と展開済みの生徒課題も削除され、個人タスクはクラスとの関連だけが外れる。
func (s *Service) DeleteClass(ctx context.Context, actor model.Actor, classID string) error {
	if err := actor.RequireTeacher(); err != nil {
		return err
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := ownedClass(ctx, tx, actor, classID); err != nil {
			return err
		}
		if err := tx.Classes().Delete(ctx, classID); err != nil {
			return fmt.Errorf("クラスの削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.AsStorageFailure(err)
	}

	s.logger.Info("クラスを削除", slog.String("class_id", classID))
	return nil
}

// JoinClass は参加コードでクラスに参加する。新しい受講登録の学習時間は0から始まる。
func (s *Service) JoinClass(ctx context.Context, actor model.Actor, joinCode string) (*model.Class, error) {
	if err := actor.RequireStudent(); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(joinCode))
	if code == "" {
		return nil, model.NewValidationError("join_code は必須です")
	}

	var class *model.Class
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		class, err = tx.Classes().FindByJoinCode(ctx, code)
		if err != nil {
			return fmt.Errorf("クラスの取得に失敗しました: %w", err)
		}
		if class == nil {
			return model.NewNotFoundError("参加コード", code)
		}

		err = tx.Enrollments().Create(ctx, &model.Enrollment{
			ClassID:   class.ID,
			StudentID: actor.ID,
			JoinedAt:  s.clock.Now().UTC().Truncate(time.Microsecond),
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return model.NewValidationError("既にこのクラスに参加しています")
		}
		if err != nil {
			return fmt.Errorf("受講登録の作成に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}

	s.logger.Info("クラスに参加",
		slog.String("class_id", class.ID),
		slog.String("student_id", actor.ID),
	)
	return class, nil
}

// LeaveClass は生徒がクラスから退出する。受講登録と学習セッションが削除される。
// 退出したクラスで計測中のタイマーは停止時にNOT_ENROLLEDとなる。
func (s *Service) LeaveClass(ctx context.Context, actor model.Actor, classID string) error {
	if err := actor.RequireStudent(); err != nil {
		return err
	}
	return s.removeEnrollment(ctx, classID, actor.ID, nil)
}

// RemoveStudent は教師がクラスから生徒を外す。
func (s *Service) RemoveStudent(ctx context.Context, actor model.Actor, classID, studentID string) error {
	if err := actor.RequireTeacher(); err != nil {
		return err
	}
	return s.removeEnrollment(ctx, classID, studentID, &actor)
}

// removeEnrollment は受講登録を削除する。ownerを指定した場合はクラスの所有者であることを確認する。
func (s *Service) removeEnrollment(ctx context.Context, classID, studentID string, owner *model.Actor) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if owner != nil {
			if _, err := ownedClass(ctx, tx, *owner, classID); err != nil {
				return err
			}
		}
		e, err := tx.Enrollments().FindForUpdate(ctx, classID, studentID)
		if err != nil {
			return fmt.Errorf("受講登録の取得に失敗しました: %w", err)
		}
		if e == nil {
			return model.NewNotEnrolledError(classID, studentID)
		}
		if err := tx.Enrollments().Delete(ctx, classID, studentID); err != nil {
			return fmt.Errorf("受講登録の削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.AsStorageFailure(err)
	}

	s.logger.Info("受講登録を削除",
		slog.String("class_id", classID),
		slog.String("student_id", studentID),
	)
	return nil
}

// ListClasses は教師には所有するクラスを、生徒には参加しているクラスを返す。
// TotalStudySecondsは生徒の場合は本人の合計、教師の場合は受講者全員の合計。
func (s *Service) ListClasses(ctx context.Context, actor model.Actor) ([]model.ClassWithTotal, error) {
	var out []model.ClassWithTotal
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		switch {
		case actor.IsStudent():
			classes, err := tx.Classes().ListByStudent(ctx, actor.ID)
			if err != nil {
				return fmt.Errorf("参加クラス一覧の取得に失敗しました: %w", err)
			}
			out = classes
			return nil
		case actor.IsTeacher():
			classes, err := tx.Classes().ListByTeacher(ctx, actor.ID)
			if err != nil {
				return fmt.Errorf("クラス一覧の取得に失敗しました: %w", err)
			}
			out = make([]model.ClassWithTotal, 0, len(classes))
			for _, c := range classes {
				enrollments, err := tx.Enrollments().ListByClass(ctx, c.ID)
				if err != nil {
					return fmt.Errorf("受講登録一覧の取得に失敗しました: %w", err)
				}
				var total int64
				for _, e := range enrollments {
					total += e.TotalStudySeconds
				}
				out = append(out, model.ClassWithTotal{Class: *c, TotalStudySeconds: total})
			}
			return nil
		default:
			return model.NewNotOwnerError()
		}
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return out, nil
}

// Roster はクラスの受講登録一覧を学習時間合計付きで返す。
func (s *Service) Roster(ctx context.Context, actor model.Actor, classID string) ([]*model.Enrollment, error) {
	if err := actor.RequireTeacher(); err != nil {
		return nil, err
	}

	var roster []*model.Enrollment
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := ownedClass(ctx, tx, actor, classID); err != nil {
			return err
		}
		var err error
		roster, err = tx.Enrollments().ListByClass(ctx, classID)
		if err != nil {
			return fmt.Errorf("受講登録一覧の取得に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, model.AsStorageFailure(err)
	}
	return roster, nil
}
