package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// SignUpInput は新規登録の入力。
type SignUpInput struct {
	FirstName       string
	LastName        string
	UserName        string
	Email           string
	PhoneNumber     string
	Password        string
	ConfirmPassword string
}

// LoginInput はログインの入力。
type LoginInput struct {
	Email    string
	Password string
}

// ResetPasswordInput はパスワード再設定の入力。Tokenはメールのリンクに含まれる平文のシークレット。
type ResetPasswordInput struct {
	Token           string
	Password        string
	ConfirmPassword string
}

// UpdatePasswordInput はログイン中のパスワード変更の入力。
type UpdatePasswordInput struct {
	CurrentPassword string
	Password        string
	ConfirmPassword string
}

// SignUp はユーザーを登録し、メール確認用トークンを送信してセッションを発行する。
// メール送信に失敗した場合、ユーザーは作成済みのままトークンをクリアし DeliveryError を返す。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*AuthResult, error) {
	user, err := s.buildUser(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.applyPassword(ctx, user, in.Password, in.ConfirmPassword, true, now); err != nil {
		return nil, err
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	secret, err := user.IssueFlowToken(model.PurposeEmailVerification, now, s.config.FlowTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue verification token: %w", err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordSignup()
	slog.Info("user signed up", slog.String("user_id", user.ID))

	if err := s.deliverFlowToken(ctx, user, model.PurposeEmailVerification, secret); err != nil {
		return nil, err
	}

	return s.issueSession(user)
}

// buildUser は登録入力をサニタイズ・検証してユーザーを組み立てる。パスワードは扱わない。
func (s *Service) buildUser(in SignUpInput) (*model.User, error) {
	user := &model.User{
		ID:          s.newID(),
		FirstName:   s.sanitizer.SanitizeText(in.FirstName),
		LastName:    s.sanitizer.SanitizeText(in.LastName),
		UserName:    s.sanitizer.SanitizeText(in.UserName),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Role:        model.RoleUser,
	}

	if err := validatePersonName("名", user.FirstName); err != nil {
		return nil, err
	}
	if err := validatePersonName("姓", user.LastName); err != nil {
		return nil, err
	}
	if err := validateUserName(user.UserName); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	user.Email = email
	if err := validatePhoneNumber(user.PhoneNumber); err != nil {
		return nil, err
	}

	return user, nil
}

// Login はメールアドレスとパスワードで認証し、セッションを発行する。
// 未登録とパスワード誤りは同じ InvalidCredentials を返す。
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, model.NewBadRequestError("メールアドレスとパスワードを入力してください。")
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if user == nil {
		s.hasher.Verify(ctx, in.Password, s.dummyDigest)
		s.metrics.RecordLogin(metrics.LoginFailure)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(ctx, in.Password, user.PasswordDigest) {
		s.metrics.RecordLogin(metrics.LoginFailure)
		slog.Info("login failed", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	s.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return s.issueSession(user)
}

// ForgotPassword はパスワード再設定用トークンを発行し、メールで送る。
// 未登録のメールアドレスの扱いは Config.ForgotPasswordRevealsUnknown に従う。
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return model.NewBadRequestError("メールアドレスを入力してください。")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		if s.config.ForgotPasswordRevealsUnknown {
			return model.NewUserNotFoundError()
		}
		slog.Info("password reset requested for unknown email")
		return nil
	}

	if err := s.issueAndDeliver(ctx, user, model.PurposePasswordReset); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		// 検索後に削除されたユーザーは未登録と同じ扱い
		if s.config.ForgotPasswordRevealsUnknown {
			return model.NewUserNotFoundError()
		}
		slog.Info("password reset requested for removed user", slog.String("user_id", user.ID))
		return nil
	}

	slog.Info("password reset token issued", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword はパスワード再設定用トークンを消費して新しいパスワードを設定し、セッションを発行する。
// パスワードの検証はトークンの消費より前に行い、入力ミスでトークンを失わないようにする。
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (*AuthResult, error) {
	if err := validatePassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}

	user, err := s.consumeFlowToken(ctx, model.PurposePasswordReset, in.Token)
	if err != nil {
		return nil, err
	}

	stored, err := s.setPassword(ctx, user, in.Password, in.ConfirmPassword, "")
	if err != nil {
		return nil, err
	}

	slog.Info("password reset completed", slog.String("user_id", stored.ID))
	return s.issueSession(stored)
}

// RegenerateEmailToken はメール確認用トークンを再発行して送り直す。
// 確認済みのユーザーには NOT_FOUND を返す。確認済みかどうかは書き込み時にも条件に含める。
func (s *Service) RegenerateEmailToken(ctx context.Context, user *model.User) error {
	if user.EmailVerified {
		return model.NewNoPendingVerificationError()
	}

	if err := s.issueAndDeliver(ctx, user, model.PurposeEmailVerification); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewNoPendingVerificationError()
		}
		return err
	}

	slog.Info("email verification token reissued", slog.String("user_id", user.ID))
	return nil
}

// VerifyEmail はメール確認用トークンを消費してメールアドレスを確認済みにし、セッションを発行する。
// 消費と確認済みへの更新はリポジトリの同じ文で行われる。
func (s *Service) VerifyEmail(ctx context.Context, secret string) (*AuthResult, error) {
	user, err := s.consumeFlowToken(ctx, model.PurposeEmailVerification, secret)
	if err != nil {
		return nil, err
	}

	slog.Info("email verified", slog.String("user_id", user.ID))
	return s.issueSession(user)
}

// UpdatePassword は現在のパスワードを確認してから新しいパスワードを設定し、セッションを発行する。
// 変更前に発行されたセッショントークンは以後 StaleCredentials になる。
// 照合後に別のリクエストがパスワードを変えていた場合は InvalidCredentials を返す。
func (s *Service) UpdatePassword(ctx context.Context, user *model.User, in UpdatePasswordInput) (*AuthResult, error) {
	if in.CurrentPassword == "" {
		return nil, model.NewBadRequestError("現在のパスワードを入力してください。")
	}
	if !s.hasher.Verify(ctx, in.CurrentPassword, user.PasswordDigest) {
		return nil, model.NewInvalidCredentialsError()
	}

	stored, err := s.setPassword(ctx, user, in.Password, in.ConfirmPassword, user.PasswordDigest)
	if err != nil {
		return nil, err
	}

	slog.Info("password updated", slog.String("user_id", stored.ID))
	return s.issueSession(stored)
}
