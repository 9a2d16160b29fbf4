// Package password はパスワードのハッシュ化と照合を提供する。
//
// bcryptは意図的に低速なため、同時実行数をセマフォで制限し、
// パスワード処理が他のリクエストを枯渇させないようにする。
package password

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost はbcryptのデフォルトコスト。
const DefaultCost = 12

// LatencyObserver はハッシュ処理のレイテンシを記録するインターフェース。
// metrics.Collector が実装する。
type LatencyObserver interface {
	ObserveHashLatency(op string, d time.Duration)
}

// Config はHasherの設定。
type Config struct {
	Cost    int // bcryptコスト。範囲外はクランプする
	Workers int // 同時ハッシュ処理数。0以下の場合はCPU数
}

// Hasher はbcryptによるパスワードのハッシュ化と照合を行う。
type Hasher struct {
	cost     int
	sem      chan struct{}
	observer LatencyObserver
}

// NewHasher はHasherを生成する。
func NewHasher(cfg Config, observer LatencyObserver) *Hasher {
	cost := cfg.Cost
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Hasher{
		cost:     cost,
		sem:      make(chan struct{}, workers),
		observer: observer,
	}
}

// Cost は使用しているbcryptコストを返す。
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash は平文パスワードのダイジェストを返す。ソルトはダイジェストに埋め込まれる。
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()

	start := time.Now()
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	h.observe("hash", start)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(digest), nil
}

// Verify は平文がダイジェストと一致するかを返す。
// ダイジェストが不正な形式の場合もfalseを返し、エラーにはしない。
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	if err := h.acquire(ctx); err != nil {
		return false
	}
	defer h.release()

	start := time.Now()
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	h.observe("verify", start)

	return err == nil
}

func (h *Hasher) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hasher) release() {
	<-h.sem
}

func (h *Hasher) observe(op string, start time.Time) {
	if h.observer != nil {
		h.observer.ObserveHashLatency(op, time.Since(start))
	}
}
