package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studytrack/internal/ledger"
	"github.com/hitoshi/studytrack/internal/model"
)

// LedgerServiceInterface は学習記録ハンドラーが必要とするサービスインターフェース。
type LedgerServiceInterface interface {
	ListSessions(ctx context.Context, actor model.Actor, classID, studentID string) ([]*model.StudySession, error)
	EditSession(ctx context.Context, actor model.Actor, sessionID string, newEnd time.Time, newDescription *string) (*ledger.CommitResult, error)
	DeleteSession(ctx context.Context, actor model.Actor, sessionID string) (int64, error)
	ManualAdjustTotal(ctx context.Context, actor model.Actor, classID, studentID string, newTotal int64) (*model.Enrollment, error)
	RecomputeTotal(ctx context.Context, actor model.Actor, classID, studentID string) (*model.Enrollment, error)
}

// LedgerHandler は学習セッションと集計値のHTTPハンドラー。
type LedgerHandler struct {
	service LedgerServiceInterface
}

// NewLedgerHandler はLedgerHandlerを生成する。
func NewLedgerHandler(service LedgerServiceInterface) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// editSessionRequest はセッション編集リクエストのボディ。
// end_timeはRFC3339形式。descriptionを省略した場合は学習メモを変更しない。
type editSessionRequest struct {
	EndTime     string  `json:"end_time"`
	Description *string `json:"description"`
}

type adjustTotalRequest struct {
	TotalStudySeconds *int64 `json:"total_study_seconds"`
}

// ListSessions は受講登録の学習セッション一覧を返す。
// GET /api/classes/{classID}/students/{studentID}/sessions
func (h *LedgerHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), actor, chi.URLParam(r, "classID"), chi.URLParam(r, "studentID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionResponse(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// EditSession はセッションの終了時刻と学習メモを更新する。
// PATCH /api/sessions/{id}
func (h *LedgerHandler) EditSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req editSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		handleServiceError(w, model.NewValidationError("end_time はRFC3339形式で指定してください"))
		return
	}

	result, err := h.service.EditSession(r.Context(), actor, chi.URLParam(r, "id"), end, req.Description)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{
		Session:           toSessionResponse(result.Session),
		TotalStudySeconds: result.TotalStudySeconds,
	})
}

// DeleteSession はセッションを削除し、差し引いた後の合計を返す。
// DELETE /api/sessions/{id}
func (h *LedgerHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	total, err := h.service.DeleteSession(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totalResponse{TotalStudySeconds: total})
}

// AdjustTotal は集計値を手動で上書きする。
// PUT /api/classes/{classID}/students/{studentID}/total
func (h *LedgerHandler) AdjustTotal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req adjustTotalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TotalStudySeconds == nil {
		handleServiceError(w, model.NewValidationError("total_study_seconds は必須です"))
		return
	}

	e, err := h.service.ManualAdjustTotal(r.Context(), actor, chi.URLParam(r, "classID"), chi.URLParam(r, "studentID"), *req.TotalStudySeconds)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentResponse(e))
}

// RecomputeTotal は集計値をセッション記録から再計算する。
// POST /api/classes/{classID}/students/{studentID}/total/recompute
func (h *LedgerHandler) RecomputeTotal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	e, err := h.service.RecomputeTotal(r.Context(), actor, chi.URLParam(r, "classID"), chi.URLParam(r, "studentID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentResponse(e))
}
