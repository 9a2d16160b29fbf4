package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// successResponse は成功レスポンスの共通フォーマット。
type successResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
	Length  *int   `json:"length,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// userData は data.user を持つレスポンスデータ。
type userData struct {
	User *model.User `json:"user"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをJSONとしてdstに読み込む。
// 解析に失敗した場合は BAD_REQUEST のAPIエラーを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewBadRequestError("リクエストボディが空です。")
		}
		return model.NewBadRequestError("リクエストボディの解析に失敗しました。")
	}
	return nil
}

// currentUser は認証済みユーザーを返す。セッションミドルウェア配下でのみ使う。
func currentUser(r *http.Request) (*model.User, error) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return nil, model.NewUnauthenticatedError()
	}
	return user, nil
}
