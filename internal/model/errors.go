// Package model はドメインモデルを定義する。
package model

import "fmt"

// ErrorKind はエラーの分類を表す。
// ハンドラーはKindではなくStatusをレスポンスに載せるが、
// ログやメトリクスではKindで集計する。
type ErrorKind string

const (
	KindNotAuthorized               ErrorKind = "not_authorized"
	KindSignatureVerificationFailed ErrorKind = "signature_verification_failed"
	KindIncompleteData              ErrorKind = "incomplete_data"
	KindInvalidData                 ErrorKind = "invalid_data"
	KindNotFound                    ErrorKind = "not_found"
	KindConflict                    ErrorKind = "conflict"
	KindUnverified                  ErrorKind = "unverified"
	KindWrongCredentials            ErrorKind = "wrong_credentials"
	KindInvalidToken                ErrorKind = "invalid_token"
	KindPermissionDenied            ErrorKind = "permission_denied"
	KindDatabaseError               ErrorKind = "database_error"
	KindFileError                   ErrorKind = "file_error"
	KindMailError                   ErrorKind = "mail_error"
	KindRateLimited                 ErrorKind = "rate_limited"
	KindInternal                    ErrorKind = "internal"
)

// レスポンスエンベロープのstatus値。HTTPステータスではない。
const (
	StatusOK                          = 200
	StatusEmailExists                 = 301
	StatusWrongPassword               = 305
	StatusUserUnverified              = 306
	StatusIncompleteData              = 307
	StatusInvalidToken                = 308
	StatusQueryError                  = 309
	StatusInvalidData                 = 311
	StatusFileTooLarge                = 321
	StatusFileTooSmall                = 322
	StatusFileNotImage                = 323
	StatusFileUnreadable              = 324
	StatusNotFound                    = 331
	StatusNotAuthorized               = 401
	StatusDatabaseError               = 402
	StatusSignatureVerificationFailed = 406
	StatusPermissionDenied            = 410
	StatusRateLimited                 = 429
	StatusInternalError               = 500
	StatusEmailError                  = 501
)

// APIError はエンベロープに変換されるドメインエラー。
type APIError struct {
	Kind    ErrorKind
	Status  int    // エンベロープのstatus
	Message string // エンベロープのmessage（例: NOT_AUTHORIZED）
	Detail  string // ログ用の補足。レスポンスには含めない
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%d %s] %s", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%d %s]", e.Status, e.Message)
}

// NewNotAuthorizedError は認証ヘッダー不備または所有者チェック失敗のエラーを生成する。
func NewNotAuthorizedError(detail string) *APIError {
	return &APIError{
		Kind:    KindNotAuthorized,
		Status:  StatusNotAuthorized,
		Message: "NOT_AUTHORIZED",
		Detail:  detail,
	}
}

// NewSignatureVerificationError はトークン署名検証失敗のエラーを生成する。
func NewSignatureVerificationError() *APIError {
	return &APIError{
		Kind:    KindSignatureVerificationFailed,
		Status:  StatusSignatureVerificationFailed,
		Message: "SIGNATURE_VERIFICATION_FAILED",
	}
}

// NewDataNotCompleteError は必須項目の欠落エラーを生成する。
func NewDataNotCompleteError(missing ...string) *APIError {
	return &APIError{
		Kind:    KindIncompleteData,
		Status:  StatusIncompleteData,
		Message: "DATA_NOT_COMPLETE",
		Detail:  fmt.Sprintf("missing: %v", missing),
	}
}

// NewQueryNotCompleteError はクエリパラメータの欠落エラーを生成する。
func NewQueryNotCompleteError(missing ...string) *APIError {
	return &APIError{
		Kind:    KindIncompleteData,
		Status:  StatusIncompleteData,
		Message: "QUERY_NOT_COMPLETE",
		Detail:  fmt.Sprintf("missing: %v", missing),
	}
}

// NewInvalidDataError は値の型や参照整合性の不正を表すエラーを生成する。
func NewInvalidDataError(detail string) *APIError {
	return &APIError{
		Kind:    KindInvalidData,
		Status:  StatusInvalidData,
		Message: "INVALID_DATA",
		Detail:  detail,
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
// resourceはUSER、FIGURE、STORYのいずれか。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Kind:    KindNotFound,
		Status:  StatusNotFound,
		Message: fmt.Sprintf("NO_%s_FOUND", resource),
	}
}

// NewEmailExistsError はメールアドレス重複エラーを生成する。
func NewEmailExistsError() *APIError {
	return &APIError{
		Kind:    KindConflict,
		Status:  StatusEmailExists,
		Message: "EMAIL_EXISTS",
	}
}

// NewUserUnverifiedError は未有効化ユーザーの認証エラーを生成する。
func NewUserUnverifiedError() *APIError {
	return &APIError{
		Kind:    KindUnverified,
		Status:  StatusUserUnverified,
		Message: "USER_UNVERIFIED",
	}
}

// NewWrongPasswordError はパスワード不一致エラーを生成する。
func NewWrongPasswordError() *APIError {
	return &APIError{
		Kind:    KindWrongCredentials,
		Status:  StatusWrongPassword,
		Message: "WRONG_PASSWORD",
	}
}

// NewInvalidTokenError は有効化・再設定トークン不一致エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Kind:    KindInvalidToken,
		Status:  StatusInvalidToken,
		Message: "INVALID_TOKEN",
	}
}

// NewPermissionDeniedError はロールに権限のないフィールド変更のエラーを生成する。
func NewPermissionDeniedError(field string) *APIError {
	return &APIError{
		Kind:    KindPermissionDenied,
		Status:  StatusPermissionDenied,
		Message: "PERMISSION_DENIED",
		Detail:  "field: " + field,
	}
}

// NewDatabaseError はユーザー操作および削除時の永続化失敗エラーを生成する。
func NewDatabaseError(cause error) *APIError {
	return &APIError{
		Kind:    KindDatabaseError,
		Status:  StatusDatabaseError,
		Message: "DATABASE_ERROR",
		Detail:  errDetail(cause),
	}
}

// NewQueryError はフィギュア・ストーリーの検索と保存の失敗エラーを生成する。
func NewQueryError(cause error) *APIError {
	return &APIError{
		Kind:    KindDatabaseError,
		Status:  StatusQueryError,
		Message: "QUERY_ERROR",
		Detail:  errDetail(cause),
	}
}

// NewEmailError はメール送信失敗エラーを生成する。
func NewEmailError(cause error) *APIError {
	return &APIError{
		Kind:    KindMailError,
		Status:  StatusEmailError,
		Message: "EMAIL_ERROR",
		Detail:  errDetail(cause),
	}
}

// NewFileError はアップロードファイルの検証エラーを生成する。
func NewFileError(status int) *APIError {
	msg := "FILE_UNREADABLE"
	switch status {
	case StatusFileTooLarge:
		msg = "FILE_TOO_LARGE"
	case StatusFileTooSmall:
		msg = "FILE_TOO_SMALL"
	case StatusFileNotImage:
		msg = "FILE_NOT_IMAGE"
	default:
		status = StatusFileUnreadable
	}
	return &APIError{
		Kind:    KindFileError,
		Status:  status,
		Message: msg,
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Kind:    KindRateLimited,
		Status:  StatusRateLimited,
		Message: "TOO_MANY_REQUESTS",
	}
}

// NewInternalError は分類されない内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Kind:    KindInternal,
		Status:  StatusInternalError,
		Message: "INTERNAL_ERROR",
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
