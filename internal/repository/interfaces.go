// Package repository はデータ永続化のインターフェースを定義する。
//
// すべての操作は Store.WithTx に渡す関数の中で Tx から取得したリポジトリ経由で行う。
// 1回のWithTx呼び出しが1つの原子的な作業単位となる。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/studytrack/internal/model"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound は更新・削除対象の行が存在しないことを表す。
	ErrNotFound = errors.New("row not found")
)

// Store はトランザクション境界を提供するストレージ。
type Store interface {
	// WithTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx はトランザクション内で利用できるリポジトリの集合。
type Tx interface {
	Classes() ClassRepository
	Enrollments() EnrollmentRepository
	Sessions() SessionRepository
	Tasks() TaskRepository
}

// ClassRepository はクラスの永続化インターフェース。
type ClassRepository interface {
	// Create はクラスを作成する。参加コードが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, class *model.Class) error

	// FindByID は指定IDのクラスを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Class, error)

	// FindByJoinCode は参加コードでクラスを取得する。見つからない場合はnilを返す。
	FindByJoinCode(ctx context.Context, code string) (*model.Class, error)

	// ListByTeacher は教師が所有するクラス一覧を作成日時順で返す。
	ListByTeacher(ctx context.Context, teacherID string) ([]*model.Class, error)

	// ListByStudent は生徒が参加しているクラス一覧を学習時間合計付きで返す。
	ListByStudent(ctx context.Context, studentID string) ([]model.ClassWithTotal, error)

	// UpdateName はクラス名を更新する。
	UpdateName(ctx context.Context, id, name string) error

	// Delete はクラスを削除する。
	// 受講登録、学習セッション、教師課題、展開済みの生徒課題も削除される。
	// 個人タスクはclass_idがNULLになり残る。
	Delete(ctx context.Context, id string) error
}

// EnrollmentRepository は受講登録と学習時間集計値の永続化インターフェース。
type EnrollmentRepository interface {
	// Create は受講登録を作成する。既に登録済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, enrollment *model.Enrollment) error

	// Find は受講登録を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, classID, studentID string) (*model.Enrollment, error)

	// FindForUpdate は受講登録を行ロック付きで取得する。見つからない場合はnilを返す。
	// 集計値の読み取り→書き込みはこのメソッドで取得した行に対して行う。
	FindForUpdate(ctx context.Context, classID, studentID string) (*model.Enrollment, error)

	// UpdateTotal は学習時間集計値を上書きする。
	UpdateTotal(ctx context.Context, classID, studentID string, totalSeconds int64) error

	// ListStudentIDs はクラスの現在の受講者IDを返す。
	ListStudentIDs(ctx context.Context, classID string) ([]string, error)

	// ListByClass はクラスの受講登録一覧を返す。
	ListByClass(ctx context.Context, classID string) ([]*model.Enrollment, error)

	// ListAll は全受講登録を返す。集計値の再計算に使用する。
	ListAll(ctx context.Context) ([]*model.Enrollment, error)

	// Delete は受講登録を削除する。関連する学習セッションも削除される。
	Delete(ctx context.Context, classID, studentID string) error
}

// SessionRepository は学習セッションの永続化インターフェース。
type SessionRepository interface {
	// Create は学習セッションを作成する。
	Create(ctx context.Context, session *model.StudySession) error

	// FindByID は指定IDの学習セッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.StudySession, error)

	// Update は学習セッションの終了時刻と説明を更新する。
	Update(ctx context.Context, session *model.StudySession) error

	// Delete は指定IDの学習セッションを削除する。
	Delete(ctx context.Context, id string) error

	// ListByEnrollment は受講登録に属する学習セッションを開始時刻順で返す。
	ListByEnrollment(ctx context.Context, classID, studentID string) ([]*model.StudySession, error)

	// SumDurations は受講登録に属する学習セッションの秒数合計を返す。
	SumDurations(ctx context.Context, classID, studentID string) (int64, error)
}

// TaskRepository は教師課題と生徒課題の永続化インターフェース。
type TaskRepository interface {
	// CreateTeacherTask は教師課題を作成する。
	CreateTeacherTask(ctx context.Context, task *model.TeacherTask) error

	// FindTeacherTask は教師課題を取得する。見つからない場合はnilを返す。
	FindTeacherTask(ctx context.Context, id string) (*model.TeacherTask, error)

	// UpdateTeacherTask は教師課題の説明・期限・目安時間を更新する。
	UpdateTeacherTask(ctx context.Context, task *model.TeacherTask) error

	// DeleteTeacherTask は教師課題と、それから展開された生徒課題を削除する。
	DeleteTeacherTask(ctx context.Context, id string) error

	// ListTeacherTasksByClass はクラスの教師課題一覧を返す。
	ListTeacherTasksByClass(ctx context.Context, classID string) ([]*model.TeacherTask, error)

	// PropagateTeacherTask は教師課題の説明・期限・目安時間を展開済みの生徒課題へ反映する。
	// 完了状態は変更しない。反映した件数を返す。
	PropagateTeacherTask(ctx context.Context, task *model.TeacherTask) (int64, error)

	// CreateStudentTask は生徒課題を作成する。
	CreateStudentTask(ctx context.Context, task *model.StudentTask) error

	// FindStudentTask は生徒課題を取得する。見つからない場合はnilを返す。
	FindStudentTask(ctx context.Context, id string) (*model.StudentTask, error)

	// UpdateStudentTask は生徒課題の説明・期限・目安時間・完了状態を更新する。
	UpdateStudentTask(ctx context.Context, task *model.StudentTask) error

	// DeleteStudentTask は生徒課題を削除する。
	DeleteStudentTask(ctx context.Context, id string) error

	// ListStudentTasksByStudent は生徒の課題一覧を返す。
	ListStudentTasksByStudent(ctx context.Context, studentID string) ([]*model.StudentTask, error)

	// ListStudentTasksByTeacherTask は教師課題から展開された生徒課題一覧を返す。
	ListStudentTasksByTeacherTask(ctx context.Context, teacherTaskID string) ([]*model.StudentTask, error)
}
