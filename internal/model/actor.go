package model

import "fmt"

// Role は操作主体の役割を表す。
type Role string

const (
	// RoleTeacher はクラスを所有する教師。
	RoleTeacher Role = "teacher"
	// RoleStudent はクラスに参加する生徒。
	RoleStudent Role = "student"
)

// ParseRole は文字列からRoleを解析する。
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleTeacher, RoleStudent:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Actor は認証済みの操作主体を表す。
// 認証は外部で完了しており、コアは認可のみを行う。
type Actor struct {
	ID   string
	Role Role
}

// RequireTeacher は操作主体が教師であることを要求する。
func (a Actor) RequireTeacher() error {
	if a.ID == "" || a.Role != RoleTeacher {
		return NewNotOwnerError()
	}
	return nil
}

// RequireStudent は操作主体が生徒であることを要求する。
func (a Actor) RequireStudent() error {
	if a.ID == "" || a.Role != RoleStudent {
		return NewNotOwnerError()
	}
	return nil
}

// IsTeacher は操作主体が教師かどうかを返す。
func (a Actor) IsTeacher() bool {
	return a.ID != "" && a.Role == RoleTeacher
}

// IsStudent は操作主体が生徒かどうかを返す。
func (a Actor) IsStudent() bool {
	return a.ID != "" && a.Role == RoleStudent
}
