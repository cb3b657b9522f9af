// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Errには原因となった下位エラー（ストレージ障害など）を保持する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, timer, ledger, task, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNotEnrolled     = "NOT_ENROLLED"
	ErrCodeAlreadyRunning  = "ALREADY_RUNNING"
	ErrCodeNotRunning      = "NOT_RUNNING"
	ErrCodeInvalidInterval = "INVALID_INTERVAL"
	ErrCodeNotOwner        = "NOT_OWNER"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeStorageFailure  = "STORAGE_FAILURE"
)

// ErrorCode はerrからAPIErrorのコードを取り出す。
// APIErrorを含まない場合は空文字列を返す。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// AsStorageFailure はAPIError以外のエラーをSTORAGE_FAILUREに包んで返す。
// APIErrorはそのまま返し、nilはnilを返す。
func AsStorageFailure(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return NewStorageFailureError(err)
}

// NewNotEnrolledError は受講登録が存在しない場合のエラーを生成する。
func NewNotEnrolledError(classID, studentID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotEnrolled,
		Message:  fmt.Sprintf("クラスに登録されていません: class=%s student=%s", classID, studentID),
		Category: "ledger",
		Action:   "参加コードでクラスに参加してから再度お試しください。",
	}
}

// NewAlreadyRunningError は計測中のタイマーがある状態でstartした場合のエラーを生成する。
func NewAlreadyRunningError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRunning,
		Message:  "タイマーは既に計測中です。",
		Category: "timer",
		Action:   "現在のタイマーを停止してから開始してください。",
	}
}

// NewNotRunningError は計測中でない状態でstopした場合のエラーを生成する。
func NewNotRunningError() *APIError {
	return &APIError{
		Code:     ErrCodeNotRunning,
		Message:  "計測中のタイマーがありません。",
		Category: "timer",
		Action:   "タイマーを開始してください。",
	}
}

// NewInvalidIntervalError は学習時間が0秒以下の場合のエラーを生成する。
func NewInvalidIntervalError(seconds int64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInterval,
		Message:  fmt.Sprintf("無効な学習時間です: %d秒", seconds),
		Category: "ledger",
		Action:   "終了時刻は開始時刻より後にしてください。",
	}
}

// NewNotOwnerError は操作対象の所有者でない場合のエラーを生成する。
func NewNotOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeNotOwner,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "操作対象の所有者のアカウントで実行してください。",
	}
}

// NewNotFoundError は対象が見つからない場合のエラーを生成する。
func NewNotFoundError(kind, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %s", kind, id),
		Category: "validation",
		Action:   "IDを確認してください。",
	}
}

// NewValidationError は入力値が不正な場合のエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewStorageFailureError はストレージのトランザクション失敗エラーを生成する。
// 呼び出し側（リクエスト境界）での再試行を想定している。
func NewStorageFailureError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailure,
		Message:  "データの保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}
