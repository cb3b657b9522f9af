package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/studytrack/internal/model"
)

// enrollmentKey は受講登録の複合キー。
type enrollmentKey struct {
	classID   string
	studentID string
}

// memoryState はMemoryStoreが保持する全データ。
type memoryState struct {
	classes      map[string]model.Class
	enrollments  map[enrollmentKey]model.Enrollment
	sessions     map[string]model.StudySession
	teacherTasks map[string]model.TeacherTask
	studentTasks map[string]model.StudentTask
}

func newMemoryState() memoryState {
	return memoryState{
		classes:      make(map[string]model.Class),
		enrollments:  make(map[enrollmentKey]model.Enrollment),
		sessions:     make(map[string]model.StudySession),
		teacherTasks: make(map[string]model.TeacherTask),
		studentTasks: make(map[string]model.StudentTask),
	}
}

// clone はトランザクション用の複製を返す。
// 値は構造体単位で置き換えるため、マップのシャローコピーで十分。
func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.classes {
		c.classes[k] = v
	}
	for k, v := range s.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.teacherTasks {
		c.teacherTasks[k] = v
	}
	for k, v := range s.studentTasks {
		c.studentTasks[k] = v
	}
	return c
}

// MemoryStore はプロセス内メモリで動作するStore実装。
// トランザクションはミューテックスで直列化し、複製した状態に対して適用した後に
// 成功時のみ差し替えることで原子性を保証する。
// テストと単一プロセスでの動作確認に使用する。
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// WithTx はfnを排他的に実行し、成功した場合のみ変更を反映する。
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	s.state = tx.state
	return nil
}

// memoryTx はMemoryStoreのトランザクション。
type memoryTx struct {
	state memoryState
}

func (tx *memoryTx) Classes() ClassRepository         { return (*memoryClassRepo)(tx) }
func (tx *memoryTx) Enrollments() EnrollmentRepository { return (*memoryEnrollmentRepo)(tx) }
func (tx *memoryTx) Sessions() SessionRepository       { return (*memorySessionRepo)(tx) }
func (tx *memoryTx) Tasks() TaskRepository             { return (*memoryTaskRepo)(tx) }

// --- クラス ---

type memoryClassRepo memoryTx

func (r *memoryClassRepo) Create(ctx context.Context, class *model.Class) error {
	if _, ok := r.state.classes[class.ID]; ok {
		return ErrDuplicate
	}
	for _, c := range r.state.classes {
		if c.JoinCode == class.JoinCode {
			return ErrDuplicate
		}
	}
	r.state.classes[class.ID] = *class
	return nil
}

func (r *memoryClassRepo) FindByID(ctx context.Context, id string) (*model.Class, error) {
	c, ok := r.state.classes[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memoryClassRepo) FindByJoinCode(ctx context.Context, code string) (*model.Class, error) {
	for _, c := range r.state.classes {
		if c.JoinCode == code {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memoryClassRepo) ListByTeacher(ctx context.Context, teacherID string) ([]*model.Class, error) {
	var out []*model.Class
	for _, c := range r.state.classes {
		if c.TeacherID == teacherID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryClassRepo) ListByStudent(ctx context.Context, studentID string) ([]model.ClassWithTotal, error) {
	var out []model.ClassWithTotal
	for key, e := range r.state.enrollments {
		if key.studentID != studentID {
			continue
		}
		c, ok := r.state.classes[key.classID]
		if !ok {
			continue
		}
		out = append(out, model.ClassWithTotal{Class: c, TotalStudySeconds: e.TotalStudySeconds})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *memoryClassRepo) UpdateName(ctx context.Context, id, name string) error {
	c, ok := r.state.classes[id]
	if !ok {
		return ErrNotFound
	}
	c.Name = name
	r.state.classes[id] = c
	return nil
}

func (r *memoryClassRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.state.classes[id]; !ok {
		return ErrNotFound
	}
	delete(r.state.classes, id)

	for key := range r.state.enrollments {
		if key.classID == id {
			delete(r.state.enrollments, key)
		}
	}
	for sid, s := range r.state.sessions {
		if s.ClassID == id {
			delete(r.state.sessions, sid)
		}
	}
	for tid, t := range r.state.teacherTasks {
		if t.ClassID == id {
			delete(r.state.teacherTasks, tid)
		}
	}
	for tid, t := range r.state.studentTasks {
		if t.ClassID == nil || *t.ClassID != id {
			continue
		}
		if t.TeacherTaskID != nil {
			delete(r.state.studentTasks, tid)
			continue
		}
		t.ClassID = nil
		r.state.studentTasks[tid] = t
	}
	return nil
}

// --- 受講登録 ---

type memoryEnrollmentRepo memoryTx

func (r *memoryEnrollmentRepo) Create(ctx context.Context, enrollment *model.Enrollment) error {
	key := enrollmentKey{enrollment.ClassID, enrollment.StudentID}
	if _, ok := r.state.enrollments[key]; ok {
		return ErrDuplicate
	}
	if _, ok := r.state.classes[enrollment.ClassID]; !ok {
		return ErrNotFound
	}
	r.state.enrollments[key] = *enrollment
	return nil
}

func (r *memoryEnrollmentRepo) Find(ctx context.Context, classID, studentID string) (*model.Enrollment, error) {
	e, ok := r.state.enrollments[enrollmentKey{classID, studentID}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// FindForUpdate はトランザクション全体が直列化されているためFindと同じ。
func (r *memoryEnrollmentRepo) FindForUpdate(ctx context.Context, classID, studentID string) (*model.Enrollment, error) {
	return r.Find(ctx, classID, studentID)
}

func (r *memoryEnrollmentRepo) UpdateTotal(ctx context.Context, classID, studentID string, totalSeconds int64) error {
	key := enrollmentKey{classID, studentID}
	e, ok := r.state.enrollments[key]
	if !ok {
		return ErrNotFound
	}
	e.TotalStudySeconds = totalSeconds
	r.state.enrollments[key] = e
	return nil
}

func (r *memoryEnrollmentRepo) ListStudentIDs(ctx context.Context, classID string) ([]string, error) {
	var ids []string
	for key := range r.state.enrollments {
		if key.classID == classID {
			ids = append(ids, key.studentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryEnrollmentRepo) ListByClass(ctx context.Context, classID string) ([]*model.Enrollment, error) {
	var out []*model.Enrollment
	for key, e := range r.state.enrollments {
		if key.classID == classID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (r *memoryEnrollmentRepo) ListAll(ctx context.Context) ([]*model.Enrollment, error) {
	out := make([]*model.Enrollment, 0, len(r.state.enrollments))
	for _, e := range r.state.enrollments {
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassID == out[j].ClassID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].ClassID < out[j].ClassID
	})
	return out, nil
}

func (r *memoryEnrollmentRepo) Delete(ctx context.Context, classID, studentID string) error {
	key := enrollmentKey{classID, studentID}
	if _, ok := r.state.enrollments[key]; !ok {
		return ErrNotFound
	}
	delete(r.state.enrollments, key)
	for id, s := range r.state.sessions {
		if s.ClassID == classID && s.StudentID == studentID {
			delete(r.state.sessions, id)
		}
	}
	return nil
}

// --- 学習セッション ---

type memorySessionRepo memoryTx

func (r *memorySessionRepo) Create(ctx context.Context, session *model.StudySession) error {
	if _, ok := r.state.sessions[session.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := r.state.enrollments[enrollmentKey{session.ClassID, session.StudentID}]; !ok {
		return ErrNotFound
	}
	r.state.sessions[session.ID] = *session
	return nil
}

func (r *memorySessionRepo) FindByID(ctx context.Context, id string) (*model.StudySession, error) {
	s, ok := r.state.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memorySessionRepo) Update(ctx context.Context, session *model.StudySession) error {
	s, ok := r.state.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	s.EndTime = session.EndTime
	s.Description = session.Description
	r.state.sessions[session.ID] = s
	return nil
}

func (r *memorySessionRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.state.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.state.sessions, id)
	return nil
}

func (r *memorySessionRepo) ListByEnrollment(ctx context.Context, classID, studentID string) ([]*model.StudySession, error) {
	var out []*model.StudySession
	for _, s := range r.state.sessions {
		if s.ClassID == classID && s.StudentID == studentID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (r *memorySessionRepo) SumDurations(ctx context.Context, classID, studentID string) (int64, error) {
	var total int64
	for _, s := range r.state.sessions {
		if s.ClassID == classID && s.StudentID == studentID {
			total += s.DurationSeconds()
		}
	}
	return total, nil
}

// --- 課題 ---

type memoryTaskRepo memoryTx

func (r *memoryTaskRepo) CreateTeacherTask(ctx context.Context, task *model.TeacherTask) error {
	if _, ok := r.state.teacherTasks[task.ID]; ok {
		return ErrDuplicate
	}
	r.state.teacherTasks[task.ID] = *task
	return nil
}

func (r *memoryTaskRepo) FindTeacherTask(ctx context.Context, id string) (*model.TeacherTask, error) {
	t, ok := r.state.teacherTasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *memoryTaskRepo) UpdateTeacherTask(ctx context.Context, task *model.TeacherTask) error {
	t, ok := r.state.teacherTasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	t.Description = task.Description
	t.DueDate = task.DueDate
	t.DurationHintMinutes = task.DurationHintMinutes
	t.UpdatedAt = task.UpdatedAt
	r.state.teacherTasks[task.ID] = t
	return nil
}

func (r *memoryTaskRepo) DeleteTeacherTask(ctx context.Context, id string) error {
	if _, ok := r.state.teacherTasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.state.teacherTasks, id)
	for sid, t := range r.state.studentTasks {
		if t.TeacherTaskID != nil && *t.TeacherTaskID == id {
			delete(r.state.studentTasks, sid)
		}
	}
	return nil
}

func (r *memoryTaskRepo) ListTeacherTasksByClass(ctx context.Context, classID string) ([]*model.TeacherTask, error) {
	var out []*model.TeacherTask
	for _, t := range r.state.teacherTasks {
		if t.ClassID == classID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryTaskRepo) PropagateTeacherTask(ctx context.Context, task *model.TeacherTask) (int64, error) {
	var n int64
	for sid, t := range r.state.studentTasks {
		if t.TeacherTaskID == nil || *t.TeacherTaskID != task.ID {
			continue
		}
		t.Description = task.Description
		t.DueDate = task.DueDate
		t.DurationHintMinutes = task.DurationHintMinutes
		t.UpdatedAt = task.UpdatedAt
		r.state.studentTasks[sid] = t
		n++
	}
	return n, nil
}

func (r *memoryTaskRepo) CreateStudentTask(ctx context.Context, task *model.StudentTask) error {
	if _, ok := r.state.studentTasks[task.ID]; ok {
		return ErrDuplicate
	}
	if task.TeacherTaskID != nil {
		if _, ok := r.state.teacherTasks[*task.TeacherTaskID]; !ok {
			return ErrNotFound
		}
	}
	r.state.studentTasks[task.ID] = *task
	return nil
}

func (r *memoryTaskRepo) FindStudentTask(ctx context.Context, id string) (*model.StudentTask, error) {
	t, ok := r.state.studentTasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *memoryTaskRepo) UpdateStudentTask(ctx context.Context, task *model.StudentTask) error {
	t, ok := r.state.studentTasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	t.Description = task.Description
	t.DueDate = task.DueDate
	t.DurationHintMinutes = task.DurationHintMinutes
	t.Completed = task.Completed
	t.CompletedAt = task.CompletedAt
	t.UpdatedAt = task.UpdatedAt
	r.state.studentTasks[task.ID] = t
	return nil
}

func (r *memoryTaskRepo) DeleteStudentTask(ctx context.Context, id string) error {
	if _, ok := r.state.studentTasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.state.studentTasks, id)
	return nil
}

func (r *memoryTaskRepo) ListStudentTasksByStudent(ctx context.Context, studentID string) ([]*model.StudentTask, error) {
	var out []*model.StudentTask
	for _, t := range r.state.studentTasks {
		if t.StudentID == studentID {
			t := t
			out = append(out, &t)
		}
	}
	sortStudentTasks(out)
	return out, nil
}

func (r *memoryTaskRepo) ListStudentTasksByTeacherTask(ctx context.Context, teacherTaskID string) ([]*model.StudentTask, error) {
	var out []*model.StudentTask
	for _, t := range r.state.studentTasks {
		if t.TeacherTaskID != nil && *t.TeacherTaskID == teacherTaskID {
			t := t
			out = append(out, &t)
		}
	}
	sortStudentTasks(out)
	return out, nil
}

func sortStudentTasks(tasks []*model.StudentTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
