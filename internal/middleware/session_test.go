package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/storefront/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, rawToken string) (*model.User, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, rawToken string) (*model.User, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, rawToken)
	}
	return nil, model.NewUnauthenticatedError()
}

// tokenAuthenticator は指定トークンに対応するユーザーを返す。
func tokenAuthenticator(users map[string]*model.User) *mockAuthenticator {
	return &mockAuthenticator{
		authenticateFn: func(_ context.Context, rawToken string) (*model.User, error) {
			if rawToken == "" {
				return nil, model.NewUnauthenticatedError()
			}
			if u, ok := users[rawToken]; ok {
				return u, nil
			}
			return nil, model.NewInvalidTokenError()
		},
	}
}

type mockGate struct {
	authorizeFn            func(user *model.User, allowed ...model.Role) error
	requireVerifiedEmailFn func(user *model.User) error
}

func (m *mockGate) Authorize(user *model.User, allowed ...model.Role) error {
	return m.authorizeFn(user, allowed...)
}

func (m *mockGate) RequireVerifiedEmail(user *model.User) error {
	return m.requireVerifiedEmailFn(user)
}

// --- テスト ---

func TestSessionToken(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		cookie     string
		wantToken  string
		wantCookie bool
	}{
		{"Bearerヘッダー", "Bearer abc", "", "abc", false},
		{"小文字のbearer", "bearer abc", "", "abc", false},
		{"ヘッダーをCookieより優先", "Bearer abc", "def", "abc", false},
		{"Cookieのみ", "", "def", "def", true},
		{"Bearer以外のスキーム", "Basic xyz", "def", "", false},
		{"なし", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}

			got, fromCookie := SessionToken(req)
			if got != tt.wantToken || fromCookie != tt.wantCookie {
				t.Errorf("SessionToken() = (%q, %v), want (%q, %v)", got, fromCookie, tt.wantToken, tt.wantCookie)
			}
		})
	}
}

func TestSessionMiddleware_ValidBearer_InjectsUser(t *testing.T) {
	authn := tokenAuthenticator(map[string]*model.User{"valid": {ID: "user-123", Role: model.RoleUser}})
	mw := NewSessionMiddleware(authn)

	var captured *model.User
	var viaCookie bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserFromContext(r.Context())
		viaCookie = isCookieAuthenticated(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer valid")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured == nil || captured.ID != "user-123" {
		t.Errorf("user = %+v, want user-123", captured)
	}
	if viaCookie {
		t.Error("bearer authentication must not be marked as cookie-authenticated")
	}
}

func TestSessionMiddleware_ValidCookie_MarksCookieAuth(t *testing.T) {
	authn := tokenAuthenticator(map[string]*model.User{"valid": {ID: "user-123"}})

	var userID string
	var viaCookie bool
	handler := NewSessionMiddleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = UserIDFromContext(r.Context())
		viaCookie = isCookieAuthenticated(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if userID != "user-123" {
		t.Errorf("userID = %q, want %q", userID, "user-123")
	}
	if !viaCookie {
		t.Error("cookie authentication should be marked")
	}
}

func TestSessionMiddleware_Failures_UseAuthenticatorError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"未認証", model.NewUnauthenticatedError(), model.ErrCodeUnauthenticated},
		{"期限切れ", model.NewExpiredTokenError(), model.ErrCodeExpiredToken},
		{"パスワード変更後", model.NewStaleCredentialsError(), model.ErrCodeStaleCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := &mockAuthenticator{
				authenticateFn: func(context.Context, string) (*model.User, error) { return nil, tt.err },
			}
			handler := NewSessionMiddleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			req.Header.Set("Authorization", "Bearer whatever")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestRestrictToMiddleware(t *testing.T) {
	gate := &mockGate{
		authorizeFn: func(user *model.User, allowed ...model.Role) error {
			for _, role := range allowed {
				if user != nil && user.Role == role {
					return nil
				}
			}
			return model.NewForbiddenError()
		},
	}
	mw := NewRestrictToMiddleware(gate, model.RoleAdmin)

	tests := []struct {
		name string
		user *model.User
		want int
	}{
		{"admin", &model.User{ID: "a", Role: model.RoleAdmin}, http.StatusOK},
		{"user", &model.User{ID: "u", Role: model.RoleUser}, http.StatusForbidden},
		{"未認証", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
			if tt.user != nil {
				req = req.WithContext(ContextWithUser(req.Context(), tt.user))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireVerifiedEmailMiddleware(t *testing.T) {
	gate := &mockGate{
		requireVerifiedEmailFn: func(user *model.User) error {
			if user == nil || !user.EmailVerified {
				return model.NewEmailNotVerifiedError()
			}
			return nil
		},
	}
	unverified := &model.User{ID: "u"}

	t.Run("有効時は未確認ユーザーを拒否", func(t *testing.T) {
		handler := NewRequireVerifiedEmailMiddleware(gate, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(ContextWithUser(req.Context(), unverified))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
		if body := decodeErrorBody(t, w); body.Code != model.ErrCodeEmailNotVerified {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeEmailNotVerified)
		}
	})

	t.Run("無効時は通す", func(t *testing.T) {
		called := false
		handler := NewRequireVerifiedEmailMiddleware(gate, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req = req.WithContext(ContextWithUser(req.Context(), unverified))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !called {
			t.Error("handler should be called when the check is disabled")
		}
	})
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user")
	}
}
