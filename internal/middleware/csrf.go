package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/token"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	// フロントエンドからJavaScriptで読み取れるよう、HttpOnlyではない。
	csrfCookieName = "csrf_token"

	// csrfHeaderName はリクエストヘッダーからCSRFトークンを読み取る際のヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	csrfCookieMaxAge = 86400 // 24時間
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

func newCSRFError() *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeForbidden,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewCSRFMiddleware はダブルサブミット方式のCSRF検証ミドルウェアを返す。
// NewSessionMiddleware の後に配置する。
// 検証対象はCookieのセッショントークンで認証された状態変更リクエストのみで、
// Authorizationヘッダーで認証されたリクエストはブラウザが自動送信しないため検証しない。
// 安全なメソッド（GET, HEAD, OPTIONS）ではCSRFトークンCookieを発行する。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				ensureCSRFCookie(w, r, config)
				next.ServeHTTP(w, r)
				return
			}
			if !isCookieAuthenticated(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}

			if reason := csrfFailure(r); reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, newCSRFError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// csrfFailure はCookieとヘッダーのトークンを照合し、失敗理由を返す。成功時は空文字。
func csrfFailure(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "missing cookie token"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing header token"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return "token mismatch"
	}
	return ""
}

// NewCSRFTokenHandler はCSRFトークン取得エンドポイントのハンドラーを返す。
// 既存のCSRFトークンCookieがある場合はそれを返し、なければ新規生成する。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var value string
		if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
			value = cookie.Value
		} else {
			generated, err := token.RandomSecret()
			if err != nil {
				slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			value = generated
			setCSRFCookie(w, value, config)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "success",
			"token":  value,
		})
	})
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRFCookie はCSRFトークンCookieが未設定の場合に設定する。
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) {
	if _, err := r.Cookie(csrfCookieName); err == nil {
		return
	}

	value, err := token.RandomSecret()
	if err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		return
	}
	setCSRFCookie(w, value, config)
}

func setCSRFCookie(w http.ResponseWriter, value string, config CSRFConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    value,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		HttpOnly: false, // フロントエンドから読み取り可能
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
