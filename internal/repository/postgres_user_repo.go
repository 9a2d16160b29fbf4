package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/storefront/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

const userColumns = `id, first_name, last_name, user_name, email, phone_number, role,
	password_digest, password_changed_at,
	email_verified, email_verification_digest, email_verification_expires_at,
	password_reset_digest, password_reset_expires_at,
	created_at, updated_at`

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		user.ID, user.FirstName, user.LastName, user.UserName, user.Email, user.PhoneNumber, string(user.Role),
		user.PasswordDigest, nullTime(user.PasswordChangedAt),
		user.EmailVerified, nullString(user.EmailVerificationDigest), nullTime(user.EmailVerificationExpiresAt),
		nullString(user.PasswordResetDigest), nullTime(user.PasswordResetExpiresAt),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// ConsumeFlowToken はダイジェストが一致し期限内のユーザーのスロットをクリアして返す。
func (r *PostgresUserRepo) ConsumeFlowToken(ctx context.Context, purpose model.FlowPurpose, digest string, now time.Time) (*model.User, error) {
	digestCol, expiresCol, err := flowColumns(purpose)
	if err != nil {
		return nil, err
	}

	verified := "email_verified"
	if purpose == model.PurposeEmailVerification {
		verified = "TRUE"
	}

	// 列名は flowColumns の固定値のみ
	query := fmt.Sprintf(
		`UPDATE users SET %[1]s = NULL, %[2]s = NULL, email_verified = %[3]s, updated_at = $3
		 WHERE %[1]s = $1 AND %[2]s > $2
		 RETURNING `+userColumns,
		digestCol, expiresCol, verified,
	)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, digest, now, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume flow token: %w", err)
	}
	return user, nil
}

// UpdateProfile は指定された項目の列だけを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, changes ProfileChanges, now time.Time) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users SET
			first_name = COALESCE($2, first_name),
			last_name = COALESCE($3, last_name),
			user_name = COALESCE($4, user_name),
			phone_number = COALESCE($5, phone_number),
			updated_at = $6
		 WHERE id = $1
		 RETURNING `+userColumns,
		id,
		optionalString(changes.FirstName), optionalString(changes.LastName),
		optionalString(changes.UserName), optionalString(changes.PhoneNumber),
		now,
	)
	user, err := scanUser(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case isUniqueViolation(err):
		return nil, ErrDuplicate
	case err != nil:
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// SetPassword はパスワードのダイジェストと変更日時だけを更新する。
func (r *PostgresUserRepo) SetPassword(ctx context.Context, id string, change PasswordChange, now time.Time) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users SET password_digest = $2, password_changed_at = $3, updated_at = $4
		 WHERE id = $1 AND ($5::text = '' OR password_digest = $5::text)
		 RETURNING `+userColumns,
		id, change.Digest, nullTime(change.ChangedAt), now, change.CurrentDigest,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set password: %w", err)
	}
	return user, nil
}

// StoreFlowToken は指定用途のスロットだけを書き換える。
func (r *PostgresUserRepo) StoreFlowToken(ctx context.Context, id string, purpose model.FlowPurpose, digest string, expiresAt, now time.Time) error {
	digestCol, expiresCol, err := flowColumns(purpose)
	if err != nil {
		return err
	}

	cond := ""
	if purpose == model.PurposeEmailVerification {
		cond = " AND email_verified = FALSE"
	}

	query := fmt.Sprintf(
		`UPDATE users SET %[1]s = $2, %[2]s = $3, updated_at = $4 WHERE id = $1%[3]s`,
		digestCol, expiresCol, cond,
	)
	result, err := r.db.ExecContext(ctx, query, id, digest, expiresAt, now)
	if err != nil {
		return fmt.Errorf("failed to store flow token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearFlowToken はスロットが digest を保持している場合だけ空にする。
func (r *PostgresUserRepo) ClearFlowToken(ctx context.Context, id string, purpose model.FlowPurpose, digest string, now time.Time) error {
	digestCol, expiresCol, err := flowColumns(purpose)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE users SET %[1]s = NULL, %[2]s = NULL, updated_at = $3 WHERE id = $1 AND %[1]s = $2`,
		digestCol, expiresCol,
	)
	if _, err := r.db.ExecContext(ctx, query, id, digest, now); err != nil {
		return fmt.Errorf("failed to clear flow token: %w", err)
	}
	return nil
}

// List はユーザー一覧を返す。
func (r *PostgresUserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user                  model.User
		role                  string
		passwordChangedAt     sql.NullTime
		verificationDigest    sql.NullString
		verificationExpiresAt sql.NullTime
		resetDigest           sql.NullString
		resetExpiresAt        sql.NullTime
	)

	err := row.Scan(
		&user.ID, &user.FirstName, &user.LastName, &user.UserName, &user.Email, &user.PhoneNumber, &role,
		&user.PasswordDigest, &passwordChangedAt,
		&user.EmailVerified, &verificationDigest, &verificationExpiresAt,
		&resetDigest, &resetExpiresAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = model.Role(role)
	user.PasswordChangedAt = timePtr(passwordChangedAt)
	user.EmailVerificationDigest = verificationDigest.String
	user.EmailVerificationExpiresAt = timePtr(verificationExpiresAt)
	user.PasswordResetDigest = resetDigest.String
	user.PasswordResetExpiresAt = timePtr(resetExpiresAt)

	return &user, nil
}

func flowColumns(purpose model.FlowPurpose) (string, string, error) {
	switch purpose {
	case model.PurposeEmailVerification:
		return "email_verification_digest", "email_verification_expires_at", nil
	case model.PurposePasswordReset:
		return "password_reset_digest", "password_reset_expires_at", nil
	default:
		return "", "", model.ErrInvalidPurpose
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func optionalString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
