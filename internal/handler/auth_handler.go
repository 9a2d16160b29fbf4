// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in auth.ResetPasswordInput) (*auth.AuthResult, error)
	VerifyEmail(ctx context.Context, secret string) (*auth.AuthResult, error)
	RegenerateEmailToken(ctx context.Context, user *model.User) error
	UpdatePassword(ctx context.Context, user *model.User, in auth.UpdatePasswordInput) (*auth.AuthResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
	CookieMaxAge time.Duration // セッションCookieの有効期間
}

// AuthHandler は認証フローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type signUpRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	UserName        string `json:"userName"`
	Email           string `json:"email"`
	PhoneNumber     string `json:"phoneNumber"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// SignUp はユーザー登録を処理する。
// POST /api/v1/users/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.SignUp(r.Context(), auth.SignUpInput{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		UserName:        req.UserName,
		Email:           req.Email,
		PhoneNumber:     req.PhoneNumber,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.sendSession(w, http.StatusCreated, result)
}

// Login はログインを処理する。
// POST /api/v1/users/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.sendSession(w, http.StatusOK, result)
}

// Logout はセッションCookieをクリアする。
// トークン自体はステートレスなため、Bearerで保持しているクライアントは自身で破棄する。
// POST /api/v1/users/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, successResponse{Status: "success"})
}

// ForgotPassword はパスワード再設定メールの送信を処理する。
// POST /api/v1/users/forgotPassword
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Status:  "success",
		Message: "Token sent to email!",
	})
}

// ResetPassword はパスワード再設定を処理する。
// PATCH /api/v1/users/resetPassword/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.ResetPassword(r.Context(), auth.ResetPasswordInput{
		Token:           chi.URLParam(r, "token"),
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.sendSession(w, http.StatusOK, result)
}

// VerifyEmail はメールアドレスの確認を処理する。
// PATCH /api/v1/users/verifyEmail/{token}
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.sendSession(w, http.StatusOK, result)
}

// RegenerateEmailToken は確認メールを再送する。
// PATCH /api/v1/users/regenerateEmailToken
func (h *AuthHandler) RegenerateEmailToken(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if err := h.service.RegenerateEmailToken(r.Context(), user); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Status:  "success",
		Message: "Verification email sent!",
	})
}

// UpdatePassword はログイン中のパスワード変更を処理する。
// PATCH /api/v1/users/updatePassword
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	var req updatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.UpdatePassword(r.Context(), user, auth.UpdatePasswordInput{
		CurrentPassword: req.CurrentPassword,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.sendSession(w, http.StatusOK, result)
}

// sendSession はセッションCookieを設定し、トークンとユーザーを返す。
func (h *AuthHandler) sendSession(w http.ResponseWriter, statusCode int, result *auth.AuthResult) {
	http.SetCookie(w, h.sessionCookie(result.Token, int(h.config.CookieMaxAge.Seconds())))
	writeJSON(w, statusCode, successResponse{
		Status: "success",
		Token:  result.Token,
		Data:   userData{User: result.User},
	})
}

func (h *AuthHandler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
