// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storyapi/internal/auth"
	"github.com/hitoshi/storyapi/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みの主体を格納するためのキー。
var identityContextKey = contextKey("identity")

// TokenVerifier はAuthorizationヘッダーの検証に必要なインターフェース。
// auth.Issuerが実装する。
type TokenVerifier interface {
	VerifyAuthorization(header string) (model.Identity, error)
}

// AuthFailureRecorder は認証失敗を記録する。metrics.Collectorが実装する。
type AuthFailureRecorder interface {
	RecordAuthFailure(reason string)
}

// 認証失敗の理由ラベル。
const (
	reasonMissingHeader    = "missing_header"
	reasonMalformedHeader  = "malformed_header"
	reasonInvalidSignature = "invalid_signature"
)

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 主体をリクエストコンテキストに注入するミドルウェアを返す。
//
// 判定順序:
//  1. ヘッダーが無い、または "<scheme> <token>" 形式でない → 401 NOT_AUTHORIZED
//  2. 署名検証に失敗 → 406 SIGNATURE_VERIFICATION_FAILED
//
// いずれもストアへのアクセス前に判定する。recorderはnilでもよい。
func NewAuthMiddleware(verifier TokenVerifier, recorder AuthFailureRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.VerifyAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				reason, apiErr := classifyAuthError(err)
				if recorder != nil {
					recorder.RecordAuthFailure(reason)
				}
				slog.Debug("authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("reason", reason),
				)
				WriteError(w, r, apiErr)
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.userID = identity.ID
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func classifyAuthError(err error) (string, *model.APIError) {
	switch {
	case errors.Is(err, auth.ErrMissingHeader):
		return reasonMissingHeader, model.NewNotAuthorizedError(err.Error())
	case errors.Is(err, auth.ErrMalformedHeader):
		return reasonMalformedHeader, model.NewNotAuthorizedError(err.Error())
	default:
		return reasonInvalidSignature, model.NewSignatureVerificationError()
	}
}

// IdentityFromContext はリクエストコンテキストから認証済みの主体を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.ID == "" {
		return model.Identity{}, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストに主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
