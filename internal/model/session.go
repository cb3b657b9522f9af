package model

import "time"

// StudySession は完了した1回分の学習区間を表す。
// StartTime < EndTime が常に成り立つ。
type StudySession struct {
	ID          string
	ClassID     string
	StudentID   string
	StartTime   time.Time
	EndTime     time.Time
	Description string
	CreatedAt   time.Time
}

// DurationSeconds は学習時間を秒単位（切り捨て）で返す。
func (s *StudySession) DurationSeconds() int64 {
	return IntervalSeconds(s.StartTime, s.EndTime)
}

// IntervalSeconds はstartからendまでの経過時間を秒単位（切り捨て）で返す。
// endがstartより前の場合は負の値を返す。
func IntervalSeconds(start, end time.Time) int64 {
	return int64(end.Sub(start) / time.Second)
}
