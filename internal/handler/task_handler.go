package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/task"
)

// TaskServiceInterface は課題ハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	// CreateTeacherTask は教師課題を作成し、作成時点の受講者全員に生徒課題を展開する。
	CreateTeacherTask(ctx context.Context, actor model.Actor, classID string, in task.Input) (*model.TeacherTask, []*model.StudentTask, error)
	EditTeacherTask(ctx context.Context, actor model.Actor, taskID string, in task.Input) (*model.TeacherTask, error)
	DeleteTeacherTask(ctx context.Context, actor model.Actor, taskID string) error
	ListTeacherTasks(ctx context.Context, actor model.Actor, classID string) ([]*model.TeacherTask, error)
	CreatePersonalTask(ctx context.Context, actor model.Actor, classID *string, in task.Input) (*model.StudentTask, error)
	EditPersonalTask(ctx context.Context, actor model.Actor, taskID string, in task.Input) (*model.StudentTask, error)
	DeletePersonalTask(ctx context.Context, actor model.Actor, taskID string) error
	CompleteTask(ctx context.Context, actor model.Actor, taskID string) (*model.StudentTask, error)
	ListStudentTasks(ctx context.Context, actor model.Actor) ([]*model.StudentTask, error)
}

// TaskHandler は教師課題と生徒課題のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// personalTaskRequest は個人タスク作成リクエストのボディ。
type personalTaskRequest struct {
	ClassID *string `json:"class_id"`
	task.Input
}

// createTeacherTaskResponse は教師課題作成のAPIレスポンス。
type createTeacherTaskResponse struct {
	Task         teacherTaskResponse   `json:"task"`
	StudentTasks []studentTaskResponse `json:"student_tasks"`
}

// CreateTeacherTask はクラスに教師課題を作成する。
// POST /api/classes/{classID}/tasks
func (h *TaskHandler) CreateTeacherTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in task.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	tt, spawned, err := h.service.CreateTeacherTask(r.Context(), actor, chi.URLParam(r, "classID"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createTeacherTaskResponse{
		Task:         toTeacherTaskResponse(tt),
		StudentTasks: toStudentTaskResponses(spawned),
	})
}

// ListTeacherTasks はクラスの教師課題一覧を返す。
// GET /api/classes/{classID}/tasks
func (h *TaskHandler) ListTeacherTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListTeacherTasks(r.Context(), actor, chi.URLParam(r, "classID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]teacherTaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTeacherTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, out)
}

// EditTeacherTask は教師課題を更新し、展開済みの生徒課題にも反映する。
// PATCH /api/teacher-tasks/{id}
func (h *TaskHandler) EditTeacherTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in task.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	tt, err := h.service.EditTeacherTask(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTeacherTaskResponse(tt))
}

// DeleteTeacherTask は教師課題と展開済みの生徒課題を削除する。
// DELETE /api/teacher-tasks/{id}
func (h *TaskHandler) DeleteTeacherTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTeacherTask(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePersonalTask は生徒の個人タスクを作成する。
// POST /api/tasks
func (h *TaskHandler) CreatePersonalTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req personalTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	st, err := h.service.CreatePersonalTask(r.Context(), actor, req.ClassID, req.Input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentTaskResponse(st))
}

// ListStudentTasks は生徒の課題一覧（教師課題と個人タスク）を返す。
// GET /api/tasks
func (h *TaskHandler) ListStudentTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListStudentTasks(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentTaskResponses(tasks))
}

// EditPersonalTask は個人タスクを更新する。
// PATCH /api/tasks/{id}
func (h *TaskHandler) EditPersonalTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in task.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	st, err := h.service.EditPersonalTask(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentTaskResponse(st))
}

// DeletePersonalTask は個人タスクを削除する。
// DELETE /api/tasks/{id}
func (h *TaskHandler) DeletePersonalTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePersonalTask(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleTask は生徒課題の完了状態を切り替える。
// POST /api/tasks/{id}/toggle
func (h *TaskHandler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	st, err := h.service.CompleteTask(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentTaskResponse(st))
}
