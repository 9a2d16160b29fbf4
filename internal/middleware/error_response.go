package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/storefront/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
// Status は4xxで "fail"、5xxで "error" になる。
type ErrorResponseBody struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

var statusByCode = map[string]int{
	model.ErrCodeValidation:            http.StatusBadRequest,
	model.ErrCodeBadRequest:            http.StatusBadRequest,
	model.ErrCodeInvalidCredentials:    http.StatusUnauthorized,
	model.ErrCodeUnauthenticated:       http.StatusUnauthorized,
	model.ErrCodeInvalidToken:          http.StatusUnauthorized,
	model.ErrCodeExpiredToken:          http.StatusUnauthorized,
	model.ErrCodeStaleCredentials:      http.StatusUnauthorized,
	model.ErrCodeForbidden:             http.StatusForbidden,
	model.ErrCodeEmailNotVerified:      http.StatusForbidden,
	model.ErrCodeNotFound:              http.StatusNotFound,
	model.ErrCodeInvalidOrExpiredToken: http.StatusBadRequest,
	model.ErrCodeConflict:              http.StatusConflict,
	model.ErrCodeRateLimited:           http.StatusTooManyRequests,
	model.ErrCodeDelivery:              http.StatusInternalServerError,
	model.ErrCodeInternal:              http.StatusInternalServerError,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError はエラーを統一フォーマットで書き込む。
// *model.APIError 以外のエラーはログに記録し、INTERNAL_ERROR として返す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
		return
	}

	slog.Error("unhandled error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	status := "fail"
	if statusCode >= http.StatusInternalServerError {
		status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Status:   status,
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
