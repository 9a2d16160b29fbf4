package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/token"
)

// セッショントークン拒否理由（メトリクスのラベル）
const (
	rejectMissing        = "missing"
	rejectInvalid        = "invalid"
	rejectExpired        = "expired"
	rejectUnknownSubject = "unknown_subject"
	rejectStale          = "stale"
)

// Authenticate はセッショントークンを検証し、対応するユーザーを返す。
// 保護されたすべての操作の前に実行する。
//   - トークンなし: Unauthenticated
//   - 署名不正・形式不正: InvalidToken
//   - 期限切れ: ExpiredToken
//   - 発行後にユーザーが削除された: Unauthenticated
//   - 発行後にパスワードが変更された: StaleCredentials
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*model.User, error) {
	if rawToken == "" {
		s.metrics.RecordTokenRejected(rejectMissing)
		return nil, model.NewUnauthenticatedError()
	}

	session, err := s.codec.Verify(rawToken)
	if err != nil {
		if errors.Is(err, token.ErrExpiredToken) {
			s.metrics.RecordTokenRejected(rejectExpired)
			return nil, model.NewExpiredTokenError()
		}
		s.metrics.RecordTokenRejected(rejectInvalid)
		return nil, model.NewInvalidTokenError()
	}

	user, err := s.users.FindByID(ctx, session.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordTokenRejected(rejectUnknownSubject)
		return nil, model.NewUnauthenticatedError()
	}

	if user.PasswordChangedAfter(session.IssuedAt) {
		s.metrics.RecordTokenRejected(rejectStale)
		slog.Info("stale session token rejected", slog.String("user_id", user.ID))
		return nil, model.NewStaleCredentialsError()
	}

	return user, nil
}

// Authorize はユーザーのロールが許可されたロールに含まれるかを検証する。
// 必要なロールはエラーメッセージに含めない。
func (s *Service) Authorize(user *model.User, allowed ...model.Role) error {
	if user == nil || !slices.Contains(allowed, user.Role) {
		return model.NewForbiddenError()
	}
	return nil
}

// RequireVerifiedEmail はメールアドレスが確認済みかを検証する。
func (s *Service) RequireVerifiedEmail(user *model.User) error {
	if user == nil || !user.EmailVerified {
		return model.NewEmailNotVerifiedError()
	}
	return nil
}
