package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/storefront/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "テストエラーです。",
		Category: "validation",
		Action:   "正しい値を入力してください。",
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	body := decodeErrorBody(t, w)
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Code != "TEST_ERROR" || body.Message != "テストエラーです。" {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Category != "validation" || body.Action != "正しい値を入力してください。" {
		t.Errorf("unexpected body: %+v", body)
	}
}

// TestWriteErrorResponse_ServerErrorsUseErrorStatus は5xxで status が "error" になることを検証する。
func TestWriteErrorResponse_ServerErrorsUseErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewDeliveryError())

	if body := decodeErrorBody(t, w); body.Status != "error" {
		t.Errorf("status = %q, want %q", body.Status, "error")
	}
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewValidationError("x"), http.StatusBadRequest},
		{model.NewPasswordMismatchError(), http.StatusBadRequest},
		{model.NewBadRequestError("x"), http.StatusBadRequest},
		{model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{model.NewUnauthenticatedError(), http.StatusUnauthorized},
		{model.NewInvalidTokenError(), http.StatusUnauthorized},
		{model.NewExpiredTokenError(), http.StatusUnauthorized},
		{model.NewStaleCredentialsError(), http.StatusUnauthorized},
		{model.NewForbiddenError(), http.StatusForbidden},
		{model.NewEmailNotVerifiedError(), http.StatusForbidden},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewNoPendingVerificationError(), http.StatusNotFound},
		{model.NewInvalidOrExpiredTokenError(), http.StatusBadRequest},
		{model.NewConflictError(), http.StatusConflict},
		{model.NewRateLimitedError(), http.StatusTooManyRequests},
		{model.NewDeliveryError(), http.StatusInternalServerError},
		{model.NewInternalError(), http.StatusInternalServerError},
		{&model.APIError{Code: "UNKNOWN"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := StatusForCode(tt.err.Code); got != tt.want {
				t.Errorf("StatusForCode(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestWriteError_APIError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", nil)

	WriteError(w, r, fmt.Errorf("wrapped: %w", model.NewInvalidCredentialsError()))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInvalidCredentials || body.Status != "fail" {
		t.Errorf("unexpected body: %+v", body)
	}
}

// TestWriteError_UnknownErrorIsHidden は内部エラーの詳細がレスポンスに含まれないことを検証する。
func TestWriteError_UnknownErrorIsHidden(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)

	WriteError(w, r, errors.New("pq: connection refused to 10.0.0.5"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Errorf("internal detail leaked: %s", w.Body.String())
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal || body.Status != "error" {
		t.Errorf("unexpected body: %+v", body)
	}
}
