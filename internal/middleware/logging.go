package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// StatusRecorder はレスポンスのステータスコードを集計する。
// metrics.MetricsCollector が実装する。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestInfo は内側のミドルウェアで判明した情報をロギングミドルウェアへ渡す。
type requestInfo struct {
	mu     sync.Mutex
	userID string
}

func (ri *requestInfo) setUserID(id string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.userID = id
}

func (ri *requestInfo) getUserID() string {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return ri.userID
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、user_id（認証済みの場合）を含む。
// recorder がnilでなければステータスコードを集計する。
func NewLoggingMiddleware(logger *slog.Logger, recorder StatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			info := &requestInfo{}
			ctx := context.WithValue(r.Context(), requestInfoContextKey, info)

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			// 認証済みの場合はユーザーIDを追加
			if userID := info.getUserID(); userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http_request", attrs...)

			if recorder != nil {
				recorder.RecordHTTPStatus(rec.statusCode)
			}
		})
	}
}
