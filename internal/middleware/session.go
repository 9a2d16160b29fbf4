// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/storefront/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "jwt"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey        = contextKey("user")
	cookieAuthContextKey  = contextKey("cookie_auth")
	requestInfoContextKey = contextKey("request_info")
)

// Authenticator はセッショントークンを検証してユーザーを返す。
// auth.Service が実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*model.User, error)
}

// RoleAuthorizer はユーザーのロールを検証する。
type RoleAuthorizer interface {
	Authorize(user *model.User, allowed ...model.Role) error
}

// VerificationChecker はメールアドレスの確認状態を検証する。
type VerificationChecker interface {
	RequireVerifiedEmail(user *model.User) error
}

// SessionToken はリクエストからセッショントークンを取り出す。
// Authorization: Bearer ヘッダーを優先し、なければ jwt Cookie を使う。
// fromCookie はCookieから取り出した場合にtrueになる。
func SessionToken(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value), false
		}
		return "", false
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value, true
	}
	return "", false
}

// NewSessionMiddleware はセッショントークンを検証するミドルウェアを返す。
// 認証済みユーザーをリクエストコンテキストに注入する。
// 検証に失敗した場合は Authenticator のエラーをそのまま統一フォーマットで返す。
func NewSessionMiddleware(authn Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, fromCookie := SessionToken(r)

			user, err := authn.Authenticate(r.Context(), raw)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			if fromCookie {
				ctx = context.WithValue(ctx, cookieAuthContextKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRestrictToMiddleware は指定ロールのユーザーのみを通すミドルウェアを返す。
// NewSessionMiddleware の後に配置する。
func NewRestrictToMiddleware(authz RoleAuthorizer, roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := UserFromContext(r.Context())
			if err := authz.Authorize(user, roles...); err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRequireVerifiedEmailMiddleware はメールアドレス確認済みのユーザーのみを通すミドルウェアを返す。
// enabled がfalseの場合は何もしない。
func NewRequireVerifiedEmailMiddleware(checker VerificationChecker, enabled bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := UserFromContext(r.Context())
			if err := checker.RequireVerifiedEmail(user); err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// ロギングミドルウェアが用意したリクエスト情報があれば、ユーザーIDも記録する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.setUserID(user.ID)
	}
	return context.WithValue(ctx, userContextKey, user)
}

// isCookieAuthenticated はCookieのセッショントークンで認証されたリクエストかを返す。
func isCookieAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(cookieAuthContextKey).(bool)
	return v
}
