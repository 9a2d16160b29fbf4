// Package auth は認証フロー（登録・ログイン・メール確認・パスワード再設定・パスワード変更）と
// リクエスト時のセッション検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storefront/internal/mail"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
	"github.com/hitoshi/storefront/internal/security"
	"github.com/hitoshi/storefront/internal/token"
)

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
// password.Hasher が実装する。
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, digest string) bool
}

// SessionCodec はセッショントークンの署名と検証のインターフェース。
// token.Codec が実装する。
type SessionCodec interface {
	Sign(subjectID string) (string, time.Time, error)
	Verify(tokenString string) (*token.Session, error)
}

// MessageComposer は認証フローのメールを組み立てるインターフェース。
// mail.Composer が実装する。
type MessageComposer interface {
	Verification(to, name, secret string) (mail.Message, error)
	PasswordReset(to, name, secret string) (mail.Message, error)
}

// Config は認証サービスの設定。
type Config struct {
	FlowTokenTTL time.Duration // 使い捨てトークンの有効期間。0以下は model.FlowTokenTTL

	// ForgotPasswordRevealsUnknown がtrueの場合、未登録メールアドレスへの
	// パスワード再設定要求に NOT_FOUND を返す。falseの場合は登録済みと同じ応答を返す。
	ForgotPasswordRevealsUnknown bool
}

// Dependencies はServiceの依存コンポーネント。
type Dependencies struct {
	Users     repository.UserRepository
	Hasher    PasswordHasher
	Codec     SessionCodec
	Sender    mail.Sender
	Composer  MessageComposer
	Sanitizer security.InputSanitizer
	Metrics   metrics.MetricsCollector // nilの場合は記録しない
}

// AuthResult は認証成功時に返すセッショントークンとユーザー。
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	codec     SessionCodec
	sender    mail.Sender
	composer  MessageComposer
	sanitizer security.InputSanitizer
	metrics   metrics.MetricsCollector
	config    Config

	now   func() time.Time
	newID func() string

	dummyDigest string
}

// fallbackDummyDigest はダミーのダイジェストを導出できなかった場合に照合する bcrypt 形式の値。
// どの平文とも一致しない。
const fallbackDummyDigest = "$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// NewService はServiceを生成する。
func NewService(deps Dependencies, config Config) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	s := &Service{
		users:     deps.Users,
		hasher:    deps.Hasher,
		codec:     deps.Codec,
		sender:    deps.Sender,
		composer:  deps.Composer,
		sanitizer: deps.Sanitizer,
		metrics:   m,
		config:    config,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	s.dummyDigest = newDummyDigest(deps.Hasher)
	return s
}

// newDummyDigest は未登録メールアドレスでのログイン時に照合するダミーのダイジェストを導出する。
// 登録済みかどうかを応答時間から推測されにくくする。
func newDummyDigest(hasher PasswordHasher) string {
	if hasher == nil {
		return fallbackDummyDigest
	}
	digest, err := hasher.Hash(context.Background(), uuid.New().String())
	if err != nil || digest == "" {
		slog.Warn("failed to prepare dummy password digest; using fallback",
			slog.Any("error", err),
		)
		return fallbackDummyDigest
	}
	return digest
}

// issueSession はユーザーのセッショントークンを発行する。
func (s *Service) issueSession(user *model.User) (*AuthResult, error) {
	signed, expiresAt, err := s.codec.Sign(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return &AuthResult{Token: signed, ExpiresAt: expiresAt, User: user}, nil
}

// applyPassword はパスワード変更の手順を順に実行する。
//  1. 長さと確認用パスワードの一致を検証
//  2. ダイジェストを導出
//  3. 既存レコードの場合は変更日時を PasswordChangeBackdate だけ過去に記録
//
// 永続化は呼び出し側で行う。
func (s *Service) applyPassword(ctx context.Context, user *model.User, password, confirm string, isNew bool, now time.Time) error {
	if err := validatePassword(password, confirm); err != nil {
		return err
	}

	digest, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordDigest = digest

	if !isNew {
		// トークンの発行時刻はミリ秒精度のため揃える
		changedAt := now.Add(-model.PasswordChangeBackdate).Truncate(time.Millisecond)
		user.PasswordChangedAt = &changedAt
	}
	user.UpdatedAt = now
	return nil
}

// setPassword は applyPassword の結果をパスワード列だけに書き込み、保存後のユーザーを返す。
// currentDigest が空でない場合、保存済みのダイジェストが一致しなければ InvalidCredentials を返す。
func (s *Service) setPassword(ctx context.Context, user *model.User, password, confirm, currentDigest string) (*model.User, error) {
	now := s.now()
	pending := *user
	if err := s.applyPassword(ctx, &pending, password, confirm, false, now); err != nil {
		return nil, err
	}

	stored, err := s.users.SetPassword(ctx, user.ID, repository.PasswordChange{
		Digest:        pending.PasswordDigest,
		ChangedAt:     pending.PasswordChangedAt,
		CurrentDigest: currentDigest,
	}, now)
	if err != nil {
		if currentDigest != "" && errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, storeError(err, "set password")
	}
	return stored, nil
}

// storeError はリポジトリの書き込みエラーをAPIエラーに変換する。
func storeError(err error, op string) error {
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return model.NewConflictError()
	case errors.Is(err, repository.ErrNotFound):
		return model.NewUserNotFoundError()
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

// deliverFlowToken は発行済みの使い捨てトークンをメールで送る。
// 送信に失敗した場合は、スロットがまだこのトークンを保持していればクリアし、DeliveryErrorを返す。
// ユーザーレコード自体はロールバックしない。
func (s *Service) deliverFlowToken(ctx context.Context, user *model.User, purpose model.FlowPurpose, secret string) error {
	var (
		msg mail.Message
		err error
	)
	name := user.FirstName
	switch purpose {
	case model.PurposeEmailVerification:
		msg, err = s.composer.Verification(user.Email, name, secret)
	case model.PurposePasswordReset:
		msg, err = s.composer.PasswordReset(user.Email, name, secret)
	default:
		err = model.ErrInvalidPurpose
	}
	if err == nil {
		err = s.sender.Send(ctx, msg)
	}
	if err == nil {
		s.metrics.RecordFlowToken(string(purpose), metrics.FlowIssued)
		return nil
	}

	slog.Error("flow token delivery failed",
		slog.String("user_id", user.ID),
		slog.String("purpose", string(purpose)),
		slog.String("error", err.Error()),
	)
	s.metrics.RecordMailFailure(string(purpose))

	if clearErr := s.users.ClearFlowToken(ctx, user.ID, purpose, token.Digest(secret), s.now()); clearErr != nil {
		slog.Error("failed to clear undelivered flow token",
			slog.String("user_id", user.ID),
			slog.String("purpose", string(purpose)),
			slog.String("error", clearErr.Error()),
		)
	}
	return model.NewDeliveryError()
}

// issueAndDeliver は使い捨てトークンを発行して該当スロットだけを書き換え、メールで送る。
// スロットを書き換えられなかった場合は repository.ErrNotFound を返す。
func (s *Service) issueAndDeliver(ctx context.Context, user *model.User, purpose model.FlowPurpose) error {
	now := s.now()
	pending := *user
	secret, err := pending.IssueFlowToken(purpose, now, s.config.FlowTokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue flow token: %w", err)
	}
	digest, expiresAt, err := pending.FlowToken(purpose)
	if err != nil {
		return fmt.Errorf("failed to issue flow token: %w", err)
	}

	if err := s.users.StoreFlowToken(ctx, user.ID, purpose, digest, *expiresAt, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to store flow token: %w", err)
	}
	return s.deliverFlowToken(ctx, &pending, purpose, secret)
}

// consumeFlowToken は提示されたシークレットのダイジェストで使い捨てトークンを消費する。
// 一致するトークンがない、または期限切れの場合は InvalidOrExpiredToken を返す。
func (s *Service) consumeFlowToken(ctx context.Context, purpose model.FlowPurpose, secret string) (*model.User, error) {
	if secret == "" {
		s.metrics.RecordFlowToken(string(purpose), metrics.FlowRejected)
		return nil, model.NewInvalidOrExpiredTokenError()
	}

	user, err := s.users.ConsumeFlowToken(ctx, purpose, token.Digest(secret), s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to consume flow token: %w", err)
	}
	if user == nil {
		s.metrics.RecordFlowToken(string(purpose), metrics.FlowRejected)
		return nil, model.NewInvalidOrExpiredTokenError()
	}

	s.metrics.RecordFlowToken(string(purpose), metrics.FlowConsumed)
	return user, nil
}
