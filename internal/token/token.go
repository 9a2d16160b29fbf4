// Package token はセッショントークンの署名・検証と、
// 使い捨てトークン用のランダムシークレット生成・ダイジェスト計算を提供する。
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength は署名鍵の最小バイト長。
const MinSecretLength = 32

var (
	// ErrInvalidToken は署名不正・形式不正のトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は有効期限切れのトークンを表す。
	ErrExpiredToken = errors.New("token expired")
)

// RandomSecret は256ビットの暗号論的乱数を16進文字列で返す。
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Digest はシークレットのSHA-256ダイジェストを16進文字列で返す。
// 使い捨てトークンのサーバー側比較専用。パスワードには使用しない。
func Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Claims はセッショントークンに含まれるクレーム。
// iat は秒精度のため、パスワード変更との比較用にミリ秒精度の発行時刻を別に持つ。
type Claims struct {
	jwt.RegisteredClaims
	IssuedAtMillis int64 `json:"iat_ms"`
}

// Session は検証済みセッショントークンの内容。
type Session struct {
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec はセッショントークンの署名と検証を行う。
// 署名鍵は起動時に1回だけ注入され、実行中に変更されない。
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec はCodecを生成する。
// 署名鍵が MinSecretLength バイト未満、または有効期間が0以下の場合はエラーを返す。
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, ttl: ttl, now: time.Now}, nil
}

// WithClock は時刻取得関数を差し替えたCodecを返す。テスト用。
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// TTL はトークンの有効期間を返す。
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Sign は subjectID を主体とするセッショントークンを発行する。
func (c *Codec) Sign(subjectID string) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}

	now := c.now()
	expiresAt := now.Add(c.ttl)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedAtMillis: now.UnixMilli(),
	})

	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify はセッショントークンを検証し、主体と発行時刻を返す。
// 期限切れの場合は ErrExpiredToken、それ以外の不正は ErrInvalidToken を返す。
func (c *Codec) Verify(tokenString string) (*Session, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	issuedAt := claims.IssuedAt.Time
	if claims.IssuedAtMillis > 0 {
		issuedAt = time.UnixMilli(claims.IssuedAtMillis)
	}

	return &Session{
		SubjectID: claims.Subject,
		IssuedAt:  issuedAt,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
