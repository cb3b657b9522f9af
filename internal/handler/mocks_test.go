package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/studytrack/internal/ledger"
	"github.com/hitoshi/studytrack/internal/middleware"
	"github.com/hitoshi/studytrack/internal/model"
	"github.com/hitoshi/studytrack/internal/task"
)

// --- モック定義 ---

// mockTimerService はTimerServiceInterfaceのモック実装。
type mockTimerService struct {
	statusFn func(ctx context.Context, actor model.Actor) (model.TimerState, error)
	startFn  func(ctx context.Context, actor model.Actor, classID string) (model.TimerState, error)
	stopFn   func(ctx context.Context, actor model.Actor, description string) (*ledger.CommitResult, error)
}

func (m *mockTimerService) Status(ctx context.Context, actor model.Actor) (model.TimerState, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, actor)
	}
	return model.IdleTimerState(actor.ID), nil
}

func (m *mockTimerService) Start(ctx context.Context, actor model.Actor, classID string) (model.TimerState, error) {
	if m.startFn != nil {
		return m.startFn(ctx, actor, classID)
	}
	return model.TimerState{StudentID: actor.ID, Status: model.TimerStatusRunning, ClassID: classID, Generation: 1}, nil
}

func (m *mockTimerService) Stop(ctx context.Context, actor model.Actor, description string) (*ledger.CommitResult, error) {
	if m.stopFn != nil {
		return m.stopFn(ctx, actor, description)
	}
	return &ledger.CommitResult{Session: &model.StudySession{ID: "sess-1"}}, nil
}

// mockLedgerService はLedgerServiceInterfaceのモック実装。
type mockLedgerService struct {
	listSessionsFn   func(ctx context.Context, actor model.Actor, classID, studentID string) ([]*model.StudySession, error)
	editSessionFn    func(ctx context.Context, actor model.Actor, sessionID string, newEnd time.Time, newDescription *string) (*ledger.CommitResult, error)
	deleteSessionFn  func(ctx context.Context, actor model.Actor, sessionID string) (int64, error)
	adjustTotalFn    func(ctx context.Context, actor model.Actor, classID, studentID string, newTotal int64) (*model.Enrollment, error)
	recomputeTotalFn func(ctx context.Context, actor model.Actor, classID, studentID string) (*model.Enrollment, error)
}

func (m *mockLedgerService) ListSessions(ctx context.Context, actor model.Actor, classID, studentID string) ([]*model.StudySession, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx, actor, classID, studentID)
	}
	return nil, nil
}

func (m *mockLedgerService) EditSession(ctx context.Context, actor model.Actor, sessionID string, newEnd time.Time, newDescription *string) (*ledger.CommitResult, error) {
	if m.editSessionFn != nil {
		return m.editSessionFn(ctx, actor, sessionID, newEnd, newDescription)
	}
	return &ledger.CommitResult{Session: &model.StudySession{ID: sessionID}}, nil
}

func (m *mockLedgerService) DeleteSession(ctx context.Context, actor model.Actor, sessionID string) (int64, error) {
	if m.deleteSessionFn != nil {
		return m.deleteSessionFn(ctx, actor, sessionID)
	}
	return 0, nil
}

func (m *mockLedgerService) ManualAdjustTotal(ctx context.Context, actor model.Actor, classID, studentID string, newTotal int64) (*model.Enrollment, error) {
	if m.adjustTotalFn != nil {
		return m.adjustTotalFn(ctx, actor, classID, studentID, newTotal)
	}
	return &model.Enrollment{ClassID: classID, StudentID: studentID, TotalStudySeconds: newTotal}, nil
}

func (m *mockLedgerService) RecomputeTotal(ctx context.Context, actor model.Actor, classID, studentID string) (*model.Enrollment, error) {
	if m.recomputeTotalFn != nil {
		return m.recomputeTotalFn(ctx, actor, classID, studentID)
	}
	return &model.Enrollment{ClassID: classID, StudentID: studentID}, nil
}

// mockClassService はClassServiceInterfaceのモック実装。
type mockClassService struct {
	createClassFn   func(ctx context.Context, actor model.Actor, name string) (*model.Class, error)
	renameClassFn   func(ctx context.Context, actor model.Actor, classID, name string) (*model.Class, error)
	deleteClassFn   func(ctx context.Context, actor model.Actor, classID string) error
	joinClassFn     func(ctx context.Context, actor model.Actor, joinCode string) (*model.Class, error)
	leaveClassFn    func(ctx context.Context, actor model.Actor, classID string) error
	removeStudentFn func(ctx context.Context, actor model.Actor, classID, studentID string) error
	listClassesFn   func(ctx context.Context, actor model.Actor) ([]model.ClassWithTotal, error)
	rosterFn        func(ctx context.Context, actor model.Actor, classID string) ([]*model.Enrollment, error)
}

func (m *mockClassService) CreateClass(ctx context.Context, actor model.Actor, name string) (*model.Class, error) {
	if m.createClassFn != nil {
		return m.createClassFn(ctx, actor, name)
	}
	return &model.Class{ID: "class-1", TeacherID: actor.ID, Name: name}, nil
}

func (m *mockClassService) RenameClass(ctx context.Context, actor model.Actor, classID, name string) (*model.Class, error) {
	if m.renameClassFn != nil {
		return m.renameClassFn(ctx, actor, classID, name)
	}
	return &model.Class{ID: classID, TeacherID: actor.ID, Name: name}, nil
}

func (m *mockClassService) DeleteClass(ctx context.Context, actor model.Actor, classID string) error {
	if m.deleteClassFn != nil {
		return m.deleteClassFn(ctx, actor, classID)
	}
	return nil
}

func (m *mockClassService) JoinClass(ctx context.Context, actor model.Actor, joinCode string) (*model.Class, error) {
	if m.joinClassFn != nil {
		return m.joinClassFn(ctx, actor, joinCode)
	}
	return &model.Class{ID: "class-1", JoinCode: joinCode}, nil
}

func (m *mockClassService) LeaveClass(ctx context.Context, actor model.Actor, classID string) error {
	if m.leaveClassFn != nil {
		return m.leaveClassFn(ctx, actor, classID)
	}
	return nil
}

func (m *mockClassService) RemoveStudent(ctx context.Context, actor model.Actor, classID, studentID string) error {
	if m.removeStudentFn != nil {
		return m.removeStudentFn(ctx, actor, classID, studentID)
	}
	return nil
}

func (m *mockClassService) ListClasses(ctx context.Context, actor model.Actor) ([]model.ClassWithTotal, error) {
	if m.listClassesFn != nil {
		return m.listClassesFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockClassService) Roster(ctx context.Context, actor model.Actor, classID string) ([]*model.Enrollment, error) {
	if m.rosterFn != nil {
		return m.rosterFn(ctx, actor, classID)
	}
	return nil, nil
}

// mockTaskService はTaskServiceInterfaceのモック実装。
type mockTaskService struct {
	createTeacherTaskFn  func(ctx context.Context, actor model.Actor, classID string, in task.Input) (*model.TeacherTask, []*model.StudentTask, error)
	editTeacherTaskFn    func(ctx context.Context, actor model.Actor, taskID string, in task.Input) (*model.TeacherTask, error)
	deleteTeacherTaskFn  func(ctx context.Context, actor model.Actor, taskID string) error
	listTeacherTasksFn   func(ctx context.Context, actor model.Actor, classID string) ([]*model.TeacherTask, error)
	createPersonalTaskFn func(ctx context.Context, actor model.Actor, classID *string, in task.Input) (*model.StudentTask, error)
	editPersonalTaskFn   func(ctx context.Context, actor model.Actor, taskID string, in task.Input) (*model.StudentTask, error)
	deletePersonalTaskFn func(ctx context.Context, actor model.Actor, taskID string) error
	completeTaskFn       func(ctx context.Context, actor model.Actor, taskID string) (*model.StudentTask, error)
	listStudentTasksFn   func(ctx context.Context, actor model.Actor) ([]*model.StudentTask, error)
}

func (m *mockTaskService) CreateTeacherTask(ctx context.Context, actor model.Actor, classID string, in task.Input) (*model.TeacherTask, []*model.StudentTask, error) {
	if m.createTeacherTaskFn != nil {
		return m.createTeacherTaskFn(ctx, actor, classID, in)
	}
	return &model.TeacherTask{ID: "tt-1", ClassID: classID, Description: in.Description}, nil, nil
}

func (m *mockTaskService) EditTeacherTask(ctx context.Context, actor model.Actor, taskID string, in task.Input) (*model.TeacherTask, error) {
	if m.editTeacherTaskFn != nil {
		return m.editTeacherTaskFn(ctx, actor, taskID, in)
	}
	return &model.TeacherTask{ID: taskID, Description: in.Description}, nil
}

func (m *mockTaskService) DeleteTeacherTask(ctx context.Context, actor model.Actor, taskID string) error {
	if m.deleteTeacherTaskFn != nil {
		return m.deleteTeacherTaskFn(ctx, actor, taskID)
	}
	return nil
}

func (m *mockTaskService) ListTeacherTasks(ctx context.Context, actor model.Actor, classID string) ([]*model.TeacherTask, error) {
	if m.listTeacherTasksFn != nil {
		return m.listTeacherTasksFn(ctx, actor, classID)
	}
	return nil, nil
}

func (m *mockTaskService) CreatePersonalTask(ctx context.Context, actor model.Actor, classID *string, in task.Input) (*model.StudentTask, error) {
	if m.createPersonalTaskFn != nil {
		return m.createPersonalTaskFn(ctx, actor, classID, in)
	}
	return &model.StudentTask{ID: "st-1", ClassID: classID, StudentID: actor.ID, Description: in.Description}, nil
}

func (m *mockTaskService) EditPersonalTask(ctx context.Context, actor model.Actor, taskID string, in task.Input) (*model.StudentTask, error) {
	if m.editPersonalTaskFn != nil {
		return m.editPersonalTaskFn(ctx, actor, taskID, in)
	}
	return &model.StudentTask{ID: taskID, StudentID: actor.ID, Description: in.Description}, nil
}

func (m *mockTaskService) DeletePersonalTask(ctx context.Context, actor model.Actor, taskID string) error {
	if m.deletePersonalTaskFn != nil {
		return m.deletePersonalTaskFn(ctx, actor, taskID)
	}
	return nil
}

func (m *mockTaskService) CompleteTask(ctx context.Context, actor model.Actor, taskID string) (*model.StudentTask, error) {
	if m.completeTaskFn != nil {
		return m.completeTaskFn(ctx, actor, taskID)
	}
	return &model.StudentTask{ID: taskID, StudentID: actor.ID, Completed: true}, nil
}

func (m *mockTaskService) ListStudentTasks(ctx context.Context, actor model.Actor) ([]*model.StudentTask, error) {
	if m.listStudentTasksFn != nil {
		return m.listStudentTasksFn(ctx, actor)
	}
	return nil, nil
}

// --- テストヘルパー ---

var (
	testTeacher = model.Actor{ID: "teacher-1", Role: model.RoleTeacher}
	testStudent = model.Actor{ID: "student-1", Role: model.RoleStudent}
)

// withActor はリクエストコンテキストに操作主体を注入する。
func withActor(req *http.Request, actor model.Actor) *http.Request {
	return req.WithContext(middleware.ContextWithActor(req.Context(), actor))
}

// decodeError はエラーレスポンスのボディを読み取る。
func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// discardLogger はテスト用にログを捨てるロガーを返す。
func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
