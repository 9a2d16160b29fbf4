// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"time"

	"github.com/hitoshi/storefront/internal/token"
)

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。デフォルトのロール。
	RoleUser Role = "user"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// FlowPurpose は使い捨てトークンの用途（台帳スロット）を表す。
type FlowPurpose string

const (
	// PurposeEmailVerification はメールアドレス確認用のスロット。
	PurposeEmailVerification FlowPurpose = "emailVerification"
	// PurposePasswordReset はパスワード再設定用のスロット。
	PurposePasswordReset FlowPurpose = "passwordReset"
)

// FlowTokenTTL は使い捨てトークンのデフォルトの有効期間。
const FlowTokenTTL = 10 * time.Minute

// PasswordChangeBackdate はパスワード変更日時を過去にずらす幅。
// 変更と同じ瞬間に発行されたトークンとの競合を避ける。
const PasswordChangeBackdate = time.Second

// ErrInvalidPurpose は未知の用途が指定された場合のエラー。
var ErrInvalidPurpose = errors.New("invalid flow token purpose")

// ParseFlowPurpose は文字列を FlowPurpose に変換する。
func ParseFlowPurpose(s string) (FlowPurpose, error) {
	switch FlowPurpose(s) {
	case PurposeEmailVerification, PurposePasswordReset:
		return FlowPurpose(s), nil
	default:
		return "", ErrInvalidPurpose
	}
}

// User はストアフロントの利用者アカウントを表す。
// PasswordDigest と各トークンのダイジェストはJSONに出力しない。
type User struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	UserName    string `json:"userName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Role        Role   `json:"role"`

	PasswordDigest    string     `json:"-"`
	PasswordChangedAt *time.Time `json:"-"`

	EmailVerified              bool       `json:"emailVerified"`
	EmailVerificationDigest    string     `json:"-"`
	EmailVerificationExpiresAt *time.Time `json:"-"`

	PasswordResetDigest    string     `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IssueFlowToken は指定用途の使い捨てトークンを発行する。
// ダイジェストと有効期限をスロットに格納し、平文のシークレットを返す。
// 既存のトークンは有効期限に関わらず上書きされる。永続化は呼び出し側の責務。
// ttlが0以下の場合は FlowTokenTTL を使う。
func (u *User) IssueFlowToken(purpose FlowPurpose, now time.Time, ttl time.Duration) (string, error) {
	digest, expires, err := u.slot(purpose)
	if err != nil {
		return "", err
	}

	secret, err := token.RandomSecret()
	if err != nil {
		return "", err
	}

	if ttl <= 0 {
		ttl = FlowTokenTTL
	}
	exp := now.Add(ttl)
	*digest = token.Digest(secret)
	*expires = &exp

	return secret, nil
}

// FlowToken は指定用途のスロットに格納されたダイジェストと有効期限を返す。
func (u *User) FlowToken(purpose FlowPurpose) (string, *time.Time, error) {
	digest, expires, err := u.slot(purpose)
	if err != nil {
		return "", nil, err
	}
	return *digest, *expires, nil
}

// ClearFlowToken は指定用途のスロットを空にする。
func (u *User) ClearFlowToken(purpose FlowPurpose) error {
	digest, expires, err := u.slot(purpose)
	if err != nil {
		return err
	}
	*digest = ""
	*expires = nil
	return nil
}

// FlowTokenValid はダイジェストが一致し、かつ有効期限が now より後であるかを返す。
func (u *User) FlowTokenValid(purpose FlowPurpose, presentedDigest string, now time.Time) bool {
	digest, expires, err := u.slot(purpose)
	if err != nil {
		return false
	}
	if *digest == "" || *expires == nil {
		return false
	}
	return *digest == presentedDigest && (*expires).After(now)
}

// PasswordChangedAfter は issuedAt に発行されたセッションが
// パスワード変更によって無効化されているかを返す。
// PasswordChangedAt は変更時刻から PasswordChangeBackdate だけ過去に記録されている。
func (u *User) PasswordChangedAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	changedAt := u.PasswordChangedAt.Add(PasswordChangeBackdate)
	return issuedAt.Before(changedAt)
}

func (u *User) slot(purpose FlowPurpose) (*string, **time.Time, error) {
	switch purpose {
	case PurposeEmailVerification:
		return &u.EmailVerificationDigest, &u.EmailVerificationExpiresAt, nil
	case PurposePasswordReset:
		return &u.PasswordResetDigest, &u.PasswordResetExpiresAt, nil
	default:
		return nil, nil, ErrInvalidPurpose
	}
}
