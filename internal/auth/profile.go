package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// 一覧取得の件数
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ProfileUpdate は利用者自身が変更できるプロフィール項目。
// nilの項目は変更しない。メールアドレス・ロール・パスワードはここでは変更できない。
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	UserName    *string
	PhoneNumber *string
}

// CurrentUser は指定IDのユーザーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は許可された項目のみをサニタイズ・検証し、その列だけを更新する。
func (s *Service) UpdateProfile(ctx context.Context, user *model.User, in ProfileUpdate) (*model.User, error) {
	var changes repository.ProfileChanges

	if in.FirstName != nil {
		v := s.sanitizer.SanitizeText(*in.FirstName)
		if err := validatePersonName("名", v); err != nil {
			return nil, err
		}
		changes.FirstName = &v
	}
	if in.LastName != nil {
		v := s.sanitizer.SanitizeText(*in.LastName)
		if err := validatePersonName("姓", v); err != nil {
			return nil, err
		}
		changes.LastName = &v
	}
	if in.UserName != nil {
		v := s.sanitizer.SanitizeText(*in.UserName)
		if err := validateUserName(v); err != nil {
			return nil, err
		}
		changes.UserName = &v
	}
	if in.PhoneNumber != nil {
		v := strings.TrimSpace(*in.PhoneNumber)
		if err := validatePhoneNumber(v); err != nil {
			return nil, err
		}
		changes.PhoneNumber = &v
	}

	if changes == (repository.ProfileChanges{}) {
		return nil, model.NewBadRequestError("更新する項目を指定してください。")
	}

	updated, err := s.users.UpdateProfile(ctx, user.ID, changes, s.now())
	if err != nil {
		return nil, storeError(err, "update profile")
	}

	slog.Info("profile updated", slog.String("user_id", updated.ID))
	return updated, nil
}

// ListUsers はユーザー一覧を返す。limitは1〜MaxListLimitに丸める。
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// DeleteSelf はログイン中のユーザー自身を削除する。
// 削除後、そのユーザーのセッショントークンは Unauthenticated になる。
func (s *Service) DeleteSelf(ctx context.Context, userID string) error {
	if err := s.users.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted", slog.String("user_id", userID))
	return nil
}
