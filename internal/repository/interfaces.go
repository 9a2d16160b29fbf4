// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/storefront/internal/model"
)

// ErrDuplicate は一意制約（メールアドレス・ユーザー名）違反を表す。
var ErrDuplicate = errors.New("duplicate user")

// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
var ErrNotFound = errors.New("user not found")

// ProfileChanges はプロフィール更新で書き換える列。nilの項目は変更しない。
type ProfileChanges struct {
	FirstName   *string
	LastName    *string
	UserName    *string
	PhoneNumber *string
}

// PasswordChange はパスワード変更で書き換える列。
type PasswordChange struct {
	Digest    string
	ChangedAt *time.Time

	// CurrentDigest は照合済みの変更前ダイジェスト。空の場合は照合しない。
	CurrentDigest string
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。一意制約違反の場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は小文字化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ConsumeFlowToken は指定用途のダイジェストが一致し、かつ期限内のユーザーを1件探し、
	// 同一文でスロットをクリアして返す。見つからない場合はnilを返す。
	// 条件付きUPDATEのため、同じトークンを並行して提示しても成功するのは1回だけ。
	// メール確認用の場合は同じ文で email_verified を true にする。
	ConsumeFlowToken(ctx context.Context, purpose model.FlowPurpose, digest string, now time.Time) (*model.User, error)

	// UpdateProfile は指定された項目の列だけを更新し、更新後のユーザーを返す。
	// 一意制約違反の場合はErrDuplicate、対象がない場合はErrNotFoundを返す。
	UpdateProfile(ctx context.Context, id string, changes ProfileChanges, now time.Time) (*model.User, error)

	// SetPassword はパスワードのダイジェストと変更日時だけを更新し、更新後のユーザーを返す。
	// change.CurrentDigest が空でない場合は保存済みのダイジェストと一致するときだけ更新し、
	// 一致しない場合や対象がない場合はErrNotFoundを返す。
	SetPassword(ctx context.Context, id string, change PasswordChange, now time.Time) (*model.User, error)

	// StoreFlowToken は指定用途のスロットだけを書き換える。
	// メール確認用はメールアドレスが未確認のユーザーにのみ格納する。
	// 対象がない場合はErrNotFoundを返す。
	StoreFlowToken(ctx context.Context, id string, purpose model.FlowPurpose, digest string, expiresAt, now time.Time) error

	// ClearFlowToken はスロットが digest を保持している場合だけ空にする。
	// 他のリクエストが発行し直したトークンは消さない。
	ClearFlowToken(ctx context.Context, id string, purpose model.FlowPurpose, digest string, now time.Time) error

	// List はユーザー一覧を作成日時の昇順で返す。
	List(ctx context.Context, limit, offset int) ([]*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error
}
