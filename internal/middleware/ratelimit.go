package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/storefront/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 保護されたAPIのユーザーごとのレート（req/sec）
	GeneralBurst    int           // 保護されたAPIのバーストサイズ
	AuthRate        rate.Limit    // 認証系エンドポイントのクライアントIPごとのレート（req/sec）
	AuthBurst       int           // 認証系エンドポイントのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// 0以下の値はデフォルト値を使う。
func NewRateLimiterConfig(authPerMinute, generalPerMinute int) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if authPerMinute > 0 {
		cfg.AuthRate = rate.Limit(float64(authPerMinute) / 60.0)
		cfg.AuthBurst = authPerMinute
	}
	if generalPerMinute > 0 {
		cfg.GeneralRate = rate.Limit(float64(generalPerMinute) / 60.0)
		cfg.GeneralBurst = generalPerMinute
	}
	return cfg
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 保護されたAPI 120 req/min/user、認証系 20 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		AuthRate:        rate.Limit(20.0 / 60.0), // ~0.333 req/sec
		AuthBurst:       20,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキー（ユーザーIDまたはクライアントIP）ごとのリミッターの集合。
type limiterSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*keyedLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*keyedLimiter),
	}
}

// get はキーのリミッターを取得または作成し、アクセス時刻を更新する。
func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kl, ok := s.entries[key]; ok {
		kl.lastAccess = now
		return kl.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.entries[key] = &keyedLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

// evict は最終アクセスから ttl を超えたエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.entries {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.entries, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimiter はレート制限を管理する。
// 保護されたAPI向けのユーザーごとの制限と、認証系エンドポイント向けのクライアントIPごとの制限の2種類を提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	auth    *limiterSet

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst),
		auth:    newLimiterSet(config.AuthRate, config.AuthBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は保護されたAPIのユーザーごとのレート制限ミドルウェアを返す。
// NewSessionMiddleware の後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteError(w, r, model.NewUnauthenticatedError())
				return
			}

			if !rl.general.get(userID, time.Now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "general"),
				)
				writeRateLimitResponse(w, rl.config.GeneralRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware は認証系エンドポイント（signup, login, forgotPassword, resetPassword, verifyEmail）の
// クライアントIPごとのレート制限ミドルウェアを返す。
// リバースプロキシ配下では chi の RealIP ミドルウェアの後に配置する。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.auth.get(ip, time.Now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "auth"),
				)
				writeRateLimitResponse(w, rl.config.AuthRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているユーザーごとのリミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// AuthLimiterCount は現在管理されているクライアントIPごとのリミッターのエントリ数を返す。
func (rl *RateLimiter) AuthLimiterCount() int {
	return rl.auth.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evict(now, ttl)
	rl.auth.evict(now, ttl)
}

// clientIP はリクエスト元のIPアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
