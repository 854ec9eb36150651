// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodePostNotFound        = "POST_NOT_FOUND"
	ErrCodeHelpRequestNotFound = "HELP_REQUEST_NOT_FOUND"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewSessionExpiredError はトークンの期限切れ・不正時のエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", field),
		Category: "validation",
		Action:   fmt.Sprintf("%s を指定してください。", field),
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "content",
		Action:   "投稿IDを確認してください。",
	}
}

// NewHelpRequestNotFoundError は支援依頼未検出エラーを生成する。
func NewHelpRequestNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeHelpRequestNotFound,
		Message:  fmt.Sprintf("指定された支援依頼が見つかりません: %s", requestID),
		Category: "content",
		Action:   "支援依頼IDを確認してください。",
	}
}
