package model

import "time"

// TimerStatus はタイマーの状態を表す。
type TimerStatus string

const (
	// TimerStatusIdle は計測していない状態。
	TimerStatusIdle TimerStatus = "idle"
	// TimerStatusRunning は計測中の状態。
	TimerStatusRunning TimerStatus = "running"
)

// TimerState は生徒ごとのタイマー状態を表す。
// Generationは遷移が成功するたびに1ずつ増加し、compare-and-swapの比較値として使う。
type TimerState struct {
	StudentID  string
	Status     TimerStatus
	ClassID    string    // Running時のみ有効
	StartedAt  time.Time // Running時のみ有効
	Generation uint64
}

// IsRunning は計測中かどうかを返す。
func (s TimerState) IsRunning() bool {
	return s.Status == TimerStatusRunning
}

// IdleTimerState は指定生徒の初期状態を返す。
func IdleTimerState(studentID string) TimerState {
	return TimerState{
		StudentID: studentID,
		Status:    TimerStatusIdle,
	}
}
