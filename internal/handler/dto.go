package handler

import (
	"time"

	"github.com/hitoshi/studytrack/internal/model"
)

// timerResponse はタイマー状態のAPIレスポンス。
type timerResponse struct {
	Status     string     `json:"status"`
	ClassID    string     `json:"class_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Generation uint64     `json:"generation"`
}

func toTimerResponse(s model.TimerState) timerResponse {
	resp := timerResponse{
		Status:     string(s.Status),
		Generation: s.Generation,
	}
	if s.IsRunning() {
		started := s.StartedAt
		resp.ClassID = s.ClassID
		resp.StartedAt = &started
	}
	return resp
}

// sessionResponse は学習セッションのAPIレスポンス。
type sessionResponse struct {
	ID              string    `json:"id"`
	ClassID         string    `json:"class_id"`
	StudentID       string    `json:"student_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
}

func toSessionResponse(s *model.StudySession) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		ClassID:         s.ClassID,
		StudentID:       s.StudentID,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationSeconds: s.DurationSeconds(),
		Description:     s.Description,
		CreatedAt:       s.CreatedAt,
	}
}

// commitResponse はセッション記録・編集後のAPIレスポンス。
type commitResponse struct {
	Session           sessionResponse `json:"session"`
	TotalStudySeconds int64           `json:"total_study_seconds"`
}

// totalResponse は集計値のみを返すAPIレスポンス。
type totalResponse struct {
	TotalStudySeconds int64 `json:"total_study_seconds"`
}

// enrollmentResponse は受講登録のAPIレスポンス。
type enrollmentResponse struct {
	ClassID           string    `json:"class_id"`
	StudentID         string    `json:"student_id"`
	TotalStudySeconds int64     `json:"total_study_seconds"`
	JoinedAt          time.Time `json:"joined_at"`
}

func toEnrollmentResponse(e *model.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ClassID:           e.ClassID,
		StudentID:         e.StudentID,
		TotalStudySeconds: e.TotalStudySeconds,
		JoinedAt:          e.JoinedAt,
	}
}

// classResponse はクラスのAPIレスポンス。
type classResponse struct {
	ID                string    `json:"id"`
	TeacherID         string    `json:"teacher_id"`
	Name              string    `json:"name"`
	JoinCode          string    `json:"join_code"`
	CreatedAt         time.Time `json:"created_at"`
	TotalStudySeconds *int64    `json:"total_study_seconds,omitempty"`
}

func toClassResponse(c *model.Class) classResponse {
	return classResponse{
		ID:        c.ID,
		TeacherID: c.TeacherID,
		Name:      c.Name,
		JoinCode:  c.JoinCode,
		CreatedAt: c.CreatedAt,
	}
}

func toClassWithTotalResponse(c model.ClassWithTotal) classResponse {
	resp := toClassResponse(&c.Class)
	total := c.TotalStudySeconds
	resp.TotalStudySeconds = &total
	return resp
}

// teacherTaskResponse は教師課題のAPIレスポンス。
type teacherTaskResponse struct {
	ID                  string    `json:"id"`
	ClassID             string    `json:"class_id"`
	Description         string    `json:"description"`
	DueDate             *string   `json:"due_date"`
	DurationHintMinutes *int      `json:"duration_hint_minutes"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toTeacherTaskResponse(t *model.TeacherTask) teacherTaskResponse {
	return teacherTaskResponse{
		ID:                  t.ID,
		ClassID:             t.ClassID,
		Description:         t.Description,
		DueDate:             formatDueDate(t.DueDate),
		DurationHintMinutes: t.DurationHintMinutes,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

// studentTaskResponse は生徒課題・個人タスクのAPIレスポンス。
type studentTaskResponse struct {
	ID                  string     `json:"id"`
	TeacherTaskID       *string    `json:"teacher_task_id"`
	ClassID             *string    `json:"class_id"`
	StudentID           string     `json:"student_id"`
	Description         string     `json:"description"`
	DueDate             *string    `json:"due_date"`
	DurationHintMinutes *int       `json:"duration_hint_minutes"`
	Completed           bool       `json:"completed"`
	CompletedAt         *time.Time `json:"completed_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toStudentTaskResponse(t *model.StudentTask) studentTaskResponse {
	return studentTaskResponse{
		ID:                  t.ID,
		TeacherTaskID:       t.TeacherTaskID,
		ClassID:             t.ClassID,
		StudentID:           t.StudentID,
		Description:         t.Description,
		DueDate:             formatDueDate(t.DueDate),
		DurationHintMinutes: t.DurationHintMinutes,
		Completed:           t.Completed,
		CompletedAt:         t.CompletedAt,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func toStudentTaskResponses(tasks []*model.StudentTask) []studentTaskResponse {
	out := make([]studentTaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toStudentTaskResponse(t)
	}
	return out
}

// formatDueDate は期限日をYYYY-MM-DD形式に変換する。
func formatDueDate(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := d.Format(model.DueDateLayout)
	return &s
}
