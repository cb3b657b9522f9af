package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studytrack/internal/model"
)

// ClassServiceInterface はクラスハンドラーが必要とするサービスインターフェース。
type ClassServiceInterface interface {
	CreateClass(ctx context.Context, actor model.Actor, name string) (*model.Class, error)
	RenameClass(ctx context.Context, actor model.Actor, classID, name string) (*model.Class, error)
	DeleteClass(ctx context.Context, actor model.Actor, classID string) error
	JoinClass(ctx context.Context, actor model.Actor, joinCode string) (*model.Class, error)
	LeaveClass(ctx context.Context, actor model.Actor, classID string) error
	RemoveStudent(ctx context.Context, actor model.Actor, classID, studentID string) error
	ListClasses(ctx context.Context, actor model.Actor) ([]model.ClassWithTotal, error)
	Roster(ctx context.Context, actor model.Actor, classID string) ([]*model.Enrollment, error)
}

// ClassHandler はクラス管理のHTTPハンドラー。
type ClassHandler struct {
	service ClassServiceInterface
}

// NewClassHandler はClassHandlerを生成する。
func NewClassHandler(service ClassServiceInterface) *ClassHandler {
	return &ClassHandler{service: service}
}

type classNameRequest struct {
	Name string `json:"name"`
}

type joinClassRequest struct {
	JoinCode string `json:"join_code"`
}

// CreateClass はクラスを作成する。
// POST /api/classes
func (h *ClassHandler) CreateClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req classNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	class, err := h.service.CreateClass(r.Context(), actor, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClassResponse(class))
}

// ListClasses は所有または参加しているクラスの一覧を返す。
// GET /api/classes
func (h *ClassHandler) ListClasses(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	classes, err := h.service.ListClasses(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]classResponse, len(classes))
	for i, c := range classes {
		out[i] = toClassWithTotalResponse(c)
	}
	writeJSON(w, http.StatusOK, out)
}

// RenameClass はクラス名を変更する。
// PATCH /api/classes/{classID}
func (h *ClassHandler) RenameClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req classNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	class, err := h.service.RenameClass(r.Context(), actor, chi.URLParam(r, "classID"), req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClassResponse(class))
}

// DeleteClass はクラスを削除する。
// DELETE /api/classes/{classID}
func (h *ClassHandler) DeleteClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteClass(r.Context(), actor, chi.URLParam(r, "classID")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JoinClass は参加コードでクラスに参加する。
// POST /api/classes/join
func (h *ClassHandler) JoinClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req joinClassRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	class, err := h.service.JoinClass(r.Context(), actor, req.JoinCode)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClassResponse(class))
}

// LeaveClass は生徒がクラスから退出する。
// DELETE /api/classes/{classID}/membership
func (h *ClassHandler) LeaveClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.LeaveClass(r.Context(), actor, chi.URLParam(r, "classID")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveStudent は教師が生徒をクラスから外す。
// DELETE /api/classes/{classID}/students/{studentID}
func (h *ClassHandler) RemoveStudent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	err := h.service.RemoveStudent(r.Context(), actor, chi.URLParam(r, "classID"), chi.URLParam(r, "studentID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Roster はクラスの受講者一覧を学習時間合計付きで返す。
// GET /api/classes/{classID}/roster
func (h *ClassHandler) Roster(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	roster, err := h.service.Roster(r.Context(), actor, chi.URLParam(r, "classID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]enrollmentResponse, len(roster))
	for i, e := range roster {
		out[i] = toEnrollmentResponse(e)
	}
	writeJSON(w, http.StatusOK, out)
}
