package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, user *model.User, in auth.ProfileUpdate) (*model.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*model.User, error)
	DeleteSelf(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// updateUserRequest はプロフィール更新のボディ。
// パスワード項目は受け付けず、指定された場合は BAD_REQUEST にする。
// email と role は変更対象外のため読み捨てる。
type updateUserRequest struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	UserName    *string `json:"userName"`
	PhoneNumber *string `json:"phoneNumber"`

	Password        *string `json:"password"`
	ConfirmPassword *string `json:"confirmPassword"`
}

type usersData struct {
	Users []*model.User `json:"users"`
}

// Me はログイン中のユーザー情報を返す。
// GET /api/v1/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: userData{User: user}})
}

// UpdateUser はプロフィールを更新する。
// PATCH /api/v1/users/updateUser
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if req.Password != nil || req.ConfirmPassword != nil {
		middleware.WriteError(w, r, model.NewBadRequestError(
			"このルートではパスワードを変更できません。/updatePassword を使用してください。"))
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), user, auth.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		UserName:    req.UserName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: userData{User: updated}})
}

// DeleteUser はログイン中のユーザー自身を削除し、セッションCookieをクリアする。
// DELETE /api/v1/users/deleteUser
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if err := h.service.DeleteSelf(r.Context(), user.ID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers はユーザー一覧を返す。管理者のみ。
// GET /api/v1/users?limit=20&offset=0
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", auth.DefaultListLimit)
	offset := queryInt(r, "offset", 0)

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	n := len(users)
	writeJSON(w, http.StatusOK, successResponse{
		Status: "success",
		Length: &n,
		Data:   usersData{Users: users},
	})
}

// GetUser は指定IDのユーザーを返す。管理者のみ。
// GET /api/v1/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		middleware.WriteError(w, r, model.NewUserNotFoundError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Status: "success", Data: userData{User: user}})
}

// queryInt はクエリパラメータを整数として返す。未指定・不正な値の場合はdefを返す。
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
