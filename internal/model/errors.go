// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeBadRequest            = "BAD_REQUEST"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeInvalidToken          = "INVALID_TOKEN"
	ErrCodeExpiredToken          = "EXPIRED_TOKEN"
	ErrCodeStaleCredentials      = "STALE_CREDENTIALS"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeDelivery              = "DELIVERY_ERROR"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeEmailNotVerified      = "EMAIL_NOT_VERIFIED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewPasswordMismatchError はパスワードと確認用パスワードが一致しない場合のエラーを生成する。
func NewPasswordMismatchError() *APIError {
	return NewValidationError("パスワードと確認用パスワードが一致しません")
}

// NewBadRequestError は必須項目の欠落など不正なリクエストのエラーを生成する。
func NewBadRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  reason,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidCredentialsError は認証情報の誤りを表すエラーを生成する。
// メールアドレスとパスワードのどちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthenticatedError は未認証リクエストのエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidTokenError は署名不正・形式不正のトークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewExpiredTokenError は有効期限切れトークンのエラーを生成する。
func NewExpiredTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeExpiredToken,
		Message:  "トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewStaleCredentialsError はパスワード変更前に発行されたトークンのエラーを生成する。
func NewStaleCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeStaleCredentials,
		Message:  "パスワードが変更されたため、このトークンは使用できません。",
		Category: "auth",
		Action:   "新しいパスワードでログインし直してください。",
	}
}

// NewForbiddenError は権限不足のエラーを生成する。
// 必要なロールは明かさない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "account",
		Action:   "入力内容を確認してください。",
	}
}

// NewNoPendingVerificationError は確認待ちのメールアドレスがない場合のエラーを生成する。
func NewNoPendingVerificationError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "確認待ちのメールアドレスはありません。",
		Category: "account",
		Action:   "メールアドレスは既に確認済みです。",
	}
}

// NewInvalidOrExpiredTokenError は使い捨てトークンが無効または期限切れの場合のエラーを生成する。
func NewInvalidOrExpiredTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredToken,
		Message:  "トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度手続きをやり直してください。",
	}
}

// NewConflictError はメールアドレスやユーザー名の重複エラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "メールアドレスまたはユーザー名は既に使用されています。",
		Category: "account",
		Action:   "別のメールアドレスまたはユーザー名を指定してください。",
	}
}

// NewDeliveryError はメール送信失敗のエラーを生成する。
func NewDeliveryError() *APIError {
	return &APIError{
		Code:     ErrCodeDelivery,
		Message:  "メールの送信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewEmailNotVerifiedError はメールアドレス未確認のエラーを生成する。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  "メールアドレスが確認されていません。",
		Category: "auth",
		Action:   "確認メールのリンクを開いてください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
