package timer

import (
	"context"
	"sync"

	"github.com/hitoshi/studytrack/internal/model"
)

// StateStore は生徒ごとのタイマー状態の保存先。
// 状態の変更はCompareAndSwapだけで行い、Generationが一致した場合のみ書き込む。
type StateStore interface {
	// Load は生徒のタイマー状態を返す。保存されていない場合はIdle（Generation 0）を返す。
	Load(ctx context.Context, studentID string) (model.TimerState, error)

	// CompareAndSwap は保存済みのGenerationがexpectedと一致する場合のみnextを保存する。
	// 保存できた場合はtrueを返す。
	CompareAndSwap(ctx context.Context, expected uint64, next model.TimerState) (bool, error)
}

// MemoryStore はプロセス内のマップにタイマー状態を保持するStateStore。
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]model.TimerState
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]model.TimerState)}
}

// Load は生徒のタイマー状態を返す。
func (s *MemoryStore) Load(ctx context.Context, studentID string) (model.TimerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(studentID), nil
}

func (s *MemoryStore) load(studentID string) model.TimerState {
	state, ok := s.states[studentID]
	if !ok {
		return model.IdleTimerState(studentID)
	}
	return state
}

// CompareAndSwap はGenerationが一致する場合のみnextを保存する。
func (s *MemoryStore) CompareAndSwap(ctx context.Context, expected uint64, next model.TimerState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.load(next.StudentID).Generation != expected {
		return false, nil
	}
	s.states[next.StudentID] = next
	return true, nil
}

var _ StateStore = (*MemoryStore)(nil)
