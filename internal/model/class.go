package model

import "time"

// Class は教師が所有するクラスを表す。
// 生徒はJoinCodeを使ってクラスに参加する。
type Class struct {
	ID        string
	TeacherID string
	Name      string
	JoinCode  string
	CreatedAt time.Time
}

// Enrollment は生徒とクラスの受講登録を表す。
// TotalStudySecondsはこの組に属する全StudySessionの学習時間の合計をキャッシュした集計値。
type Enrollment struct {
	ClassID           string
	StudentID         string
	TotalStudySeconds int64
	JoinedAt          time.Time
}

// ClassWithTotal はクラス情報と生徒の学習時間合計を結合したモデル。
type ClassWithTotal struct {
	Class
	TotalStudySeconds int64
}
