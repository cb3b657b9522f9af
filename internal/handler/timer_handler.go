package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/studytrack/internal/ledger"
	"github.com/hitoshi/studytrack/internal/model"
)

// TimerServiceInterface はタイマーハンドラーが必要とするサービスインターフェース。
type TimerServiceInterface interface {
	Status(ctx context.Context, actor model.Actor) (model.TimerState, error)
	Start(ctx context.Context, actor model.Actor, classID string) (model.TimerState, error)
	// Stop は計測中の区間を確定し、学習セッションとして記録する。
	Stop(ctx context.Context, actor model.Actor, description string) (*ledger.CommitResult, error)
}

// TimerHandler は学習タイマーのHTTPハンドラー。
type TimerHandler struct {
	service TimerServiceInterface
}

// NewTimerHandler はTimerHandlerを生成する。
func NewTimerHandler(service TimerServiceInterface) *TimerHandler {
	return &TimerHandler{service: service}
}

type startTimerRequest struct {
	ClassID string `json:"class_id"`
}

type stopTimerRequest struct {
	Description string `json:"description"`
}

// Status は現在のタイマー状態を返す。
// GET /api/timer
func (h *TimerHandler) Status(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	state, err := h.service.Status(r.Context(), actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimerResponse(state))
}

// Start はクラスの学習時間計測を開始する。
// POST /api/timer/start
func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req startTimerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ClassID == "" {
		handleServiceError(w, model.NewValidationError("class_id は必須です"))
		return
	}

	state, err := h.service.Start(r.Context(), actor, req.ClassID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimerResponse(state))
}

// Stop は計測を終了し、記録されたセッションと新しい合計を返す。
// POST /api/timer/stop
func (h *TimerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	// ボディは任意
	var req stopTimerRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	result, err := h.service.Stop(r.Context(), actor, req.Description)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitResponse{
		Session:           toSessionResponse(result.Session),
		TotalStudySeconds: result.TotalStudySeconds,
	})
}
