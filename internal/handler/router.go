package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studytrack/internal/middleware"
)

// HealthChecker はストレージの疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	Logger            *slog.Logger
	RequestRecorder   middleware.RequestRecorder

	// 運用エンドポイント（nilの場合は登録しない、またはチェックを省略する）
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	TimerService  TimerServiceInterface
	LedgerService LedgerServiceInterface
	ClassService  ClassServiceInterface
	TaskService   TaskServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Actor(/api のみ)
//
// /health と /metrics は操作主体を必要としない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.RequestRecorder))

	timerHandler := NewTimerHandler(deps.TimerService)
	ledgerHandler := NewLedgerHandler(deps.LedgerService)
	classHandler := NewClassHandler(deps.ClassService)
	taskHandler := NewTaskHandler(deps.TaskService)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 操作主体が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewActorMiddleware())

		// タイマー
		r.Route("/timer", func(r chi.Router) {
			r.Get("/", timerHandler.Status)
			r.Post("/start", timerHandler.Start)
			r.Post("/stop", timerHandler.Stop)
		})

		// 学習セッション
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Patch("/", ledgerHandler.EditSession)
			r.Delete("/", ledgerHandler.DeleteSession)
		})

		// クラス
		r.Route("/classes", func(r chi.Router) {
			r.Post("/", classHandler.CreateClass)
			r.Get("/", classHandler.ListClasses)
			r.Post("/join", classHandler.JoinClass)

			r.Route("/{classID}", func(r chi.Router) {
				r.Patch("/", classHandler.RenameClass)
				r.Delete("/", classHandler.DeleteClass)
				r.Delete("/membership", classHandler.LeaveClass)
				r.Get("/roster", classHandler.Roster)

				r.Post("/tasks", taskHandler.CreateTeacherTask)
				r.Get("/tasks", taskHandler.ListTeacherTasks)

				r.Route("/students/{studentID}", func(r chi.Router) {
					r.Delete("/", classHandler.RemoveStudent)
					r.Get("/sessions", ledgerHandler.ListSessions)
					r.Put("/total", ledgerHandler.AdjustTotal)
					r.Post("/total/recompute", ledgerHandler.RecomputeTotal)
				})
			})
		})

		// 教師課題
		r.Route("/teacher-tasks/{id}", func(r chi.Router) {
			r.Patch("/", taskHandler.EditTeacherTask)
			r.Delete("/", taskHandler.DeleteTeacherTask)
		})

		// 生徒課題・個人タスク
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreatePersonalTask)
			r.Get("/", taskHandler.ListStudentTasks)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", taskHandler.EditPersonalTask)
				r.Delete("/", taskHandler.DeletePersonalTask)
				r.Post("/toggle", taskHandler.ToggleTask)
			})
		})
	})

	return r
}
