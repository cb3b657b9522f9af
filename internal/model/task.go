package model

import "time"

// DueDateLayout は期限日の入出力フォーマット。
const DueDateLayout = "2006-01-02"

// TeacherTask は教師がクラスに対して作成した課題を表す。
// 作成時点の受講者ごとにStudentTaskが展開される。
type TeacherTask struct {
	ID                  string
	ClassID             string
	Description         string
	DueDate             *time.Time // 日付のみ（UTC 0時）
	DurationHintMinutes *int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// StudentTask は生徒ごとの課題を表す。
// TeacherTaskIDがnilの場合は生徒が作成した個人タスク。
type StudentTask struct {
	ID                  string
	TeacherTaskID       *string
	ClassID             *string
	StudentID           string
	Description         string
	DueDate             *time.Time
	DurationHintMinutes *int
	Completed           bool
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsPersonal は生徒が作成した個人タスクかどうかを返す。
func (t *StudentTask) IsPersonal() bool {
	return t.TeacherTaskID == nil
}
