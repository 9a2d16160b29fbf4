package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hitoshi/storefront/internal/model"
)

var userRowColumns = []string{
	"id", "first_name", "last_name", "user_name", "email", "phone_number", "role",
	"password_digest", "password_changed_at",
	"email_verified", "email_verification_digest", "email_verification_expires_at",
	"password_reset_digest", "password_reset_expires_at",
	"created_at", "updated_at",
}

func newRepoWithMock(t *testing.T) (*PostgresUserRepo, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresUserRepo(db), mock, db
}

func userRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(userRowColumns).AddRow(
		"user-1", "Ann", "Lee", "annlee1", "a@b.com", "+15551234567", "user",
		"$2a$12$digest", nil,
		false, "evdigest", now.Add(10*time.Minute),
		nil, nil,
		now, now,
	)
}

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now()
	err := repo.Create(context.Background(), &model.User{
		ID: "user-1", Email: "a@b.com", UserName: "annlee1", Role: model.RoleUser,
		PasswordDigest: "$2a$12$digest", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreate_UniqueViolation_ReturnsErrDuplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := repo.Create(context.Background(), &model.User{ID: "user-1"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create error = %v, want ErrDuplicate", err)
	}
}

func TestCreate_DBError_IsWrapped(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users`).
		WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &model.User{ID: "user-1"})
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create error = %v, want wrapped db error", err)
	}
}

func TestFindByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("user-1").
		WillReturnRows(userRow(now))

	u, err := repo.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if u == nil || u.ID != "user-1" || u.Email != "a@b.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.Role != model.RoleUser {
		t.Errorf("Role = %q, want %q", u.Role, model.RoleUser)
	}
	if u.PasswordChangedAt != nil {
		t.Errorf("PasswordChangedAt = %v, want nil", u.PasswordChangedAt)
	}
	if u.EmailVerificationDigest != "evdigest" || u.EmailVerificationExpiresAt == nil {
		t.Errorf("email verification slot not scanned: %+v", u)
	}
	if u.PasswordResetDigest != "" || u.PasswordResetExpiresAt != nil {
		t.Errorf("password reset slot should be empty: %+v", u)
	}
}

func TestFindByID_NotFound_ReturnsNil(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+users\s+WHERE\s+id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	u, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil user, got %+v", u)
	}
}

func TestFindByEmail_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+users\s+WHERE\s+email\s*=\s*\$1`).
		WithArgs("a@b.com").
		WillReturnRows(userRow(time.Now()))

	u, err := repo.FindByEmail(context.Background(), "a@b.com")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if u == nil || u.UserName != "annlee1" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestConsumeFlowToken_ConditionalUpdateOnPurposeColumns(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET\s+password_reset_digest\s*=\s*NULL,\s*password_reset_expires_at\s*=\s*NULL.*WHERE\s+password_reset_digest\s*=\s*\$1\s+AND\s+password_reset_expires_at\s*>\s*\$2.*RETURNING`).
		WithArgs("digest-abc", now, now).
		WillReturnRows(userRow(now))

	u, err := repo.ConsumeFlowToken(context.Background(), model.PurposePasswordReset, "digest-abc", now)
	if err != nil {
		t.Fatalf("ConsumeFlowToken error: %v", err)
	}
	if u == nil || u.ID != "user-1" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConsumeFlowToken_NoMatch_ReturnsNil(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET\s+email_verification_digest`).
		WillReturnError(sql.ErrNoRows)

	u, err := repo.ConsumeFlowToken(context.Background(), model.PurposeEmailVerification, "used", now)
	if err != nil {
		t.Fatalf("ConsumeFlowToken error: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil, got %+v", u)
	}
}

func TestConsumeFlowToken_InvalidPurpose(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	_, err := repo.ConsumeFlowToken(context.Background(), "bogus", "d", time.Now())
	if !errors.Is(err, model.ErrInvalidPurpose) {
		t.Fatalf("error = %v, want ErrInvalidPurpose", err)
	}
}

func TestConsumeFlowToken_EmailVerificationMarksVerifiedInSameStatement(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET\s+email_verification_digest\s*=\s*NULL,.*email_verified\s*=\s*TRUE.*WHERE\s+email_verification_digest\s*=\s*\$1`).
		WithArgs("digest-abc", now, now).
		WillReturnRows(userRow(now))

	if _, err := repo.ConsumeFlowToken(context.Background(), model.PurposeEmailVerification, "digest-abc", now); err != nil {
		t.Fatalf("ConsumeFlowToken error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConsumeFlowToken_PasswordResetKeepsVerificationState(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)email_verified\s*=\s*email_verified`).
		WithArgs("digest-abc", now, now).
		WillReturnRows(userRow(now))

	if _, err := repo.ConsumeFlowToken(context.Background(), model.PurposePasswordReset, "digest-abc", now); err != nil {
		t.Fatalf("ConsumeFlowToken error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateProfile_WritesOnlyProfileColumns(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	first := "Anna"
	mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET\s+first_name\s*=\s*COALESCE\(\$2,\s*first_name\).*phone_number\s*=\s*COALESCE\(\$5,\s*phone_number\).*WHERE\s+id\s*=\s*\$1\s+RETURNING`).
		WithArgs("user-1",
			sql.NullString{String: "Anna", Valid: true}, sql.NullString{},
			sql.NullString{}, sql.NullString{},
			now,
		).
		WillReturnRows(userRow(now))

	u, err := repo.UpdateProfile(context.Background(), "user-1", ProfileChanges{FirstName: &first}, now)
	if err != nil {
		t.Fatalf("UpdateProfile error: %v", err)
	}
	if u == nil || u.ID != "user-1" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateProfile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		dbErr error
		want  error
	}{
		{"対象なし", sql.ErrNoRows, ErrNotFound},
		{"一意制約違反", &pq.Error{Code: "23505"}, ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET\s+first_name`).
				WillReturnError(tt.dbErr)

			userName := "taken1"
			_, err := repo.UpdateProfile(context.Background(), "user-1", ProfileChanges{UserName: &userName}, time.Now())
			if !errors.Is(err, tt.want) {
				t.Fatalf("UpdateProfile error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSetPassword_GuardsOnCurrentDigest(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	changedAt := now.Add(-time.Second)
	mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET\s+password_digest\s*=\s*\$2,\s*password_changed_at\s*=\s*\$3,\s*updated_at\s*=\s*\$4\s+WHERE\s+id\s*=\s*\$1\s+AND\s+\(\$5::text\s*=\s*''\s+OR\s+password_digest\s*=\s*\$5::text\)\s+RETURNING`).
		WithArgs("user-1", "$2a$12$new", sql.NullTime{Time: changedAt, Valid: true}, now, "$2a$12$old").
		WillReturnRows(userRow(now))

	_, err := repo.SetPassword(context.Background(), "user-1", PasswordChange{
		Digest:        "$2a$12$new",
		ChangedAt:     &changedAt,
		CurrentDigest: "$2a$12$old",
	}, now)
	if err != nil {
		t.Fatalf("SetPassword error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetPassword_DigestMismatch_ReturnsErrNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET\s+password_digest`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.SetPassword(context.Background(), "user-1", PasswordChange{
		Digest: "$2a$12$new", CurrentDigest: "$2a$12$replaced",
	}, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetPassword error = %v, want ErrNotFound", err)
	}
}

func TestStoreFlowToken(t *testing.T) {
	tests := []struct {
		name    string
		purpose model.FlowPurpose
		query   string
	}{
		{
			name:    "メール確認は未確認ユーザーのみ",
			purpose: model.PurposeEmailVerification,
			query:   `(?s)^UPDATE\s+users\s+SET\s+email_verification_digest\s*=\s*\$2,\s*email_verification_expires_at\s*=\s*\$3,\s*updated_at\s*=\s*\$4\s+WHERE\s+id\s*=\s*\$1\s+AND\s+email_verified\s*=\s*FALSE$`,
		},
		{
			name:    "パスワード再設定",
			purpose: model.PurposePasswordReset,
			query:   `(?s)^UPDATE\s+users\s+SET\s+password_reset_digest\s*=\s*\$2,\s*password_reset_expires_at\s*=\s*\$3,\s*updated_at\s*=\s*\$4\s+WHERE\s+id\s*=\s*\$1$`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			now := time.Now()
			exp := now.Add(10 * time.Minute)
			mock.ExpectExec(tt.query).
				WithArgs("user-1", "digest-abc", exp, now).
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := repo.StoreFlowToken(context.Background(), "user-1", tt.purpose, "digest-abc", exp, now); err != nil {
				t.Fatalf("StoreFlowToken error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestStoreFlowToken_NoRows_ReturnsErrNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+users\s+SET\s+email_verification_digest`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.StoreFlowToken(context.Background(), "user-1", model.PurposeEmailVerification, "d", time.Now(), time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("StoreFlowToken error = %v, want ErrNotFound", err)
	}
}

func TestClearFlowToken_OnlyWhenSlotStillHoldsDigest(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`(?s)^UPDATE\s+users\s+SET\s+password_reset_digest\s*=\s*NULL,\s*password_reset_expires_at\s*=\s*NULL,\s*updated_at\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s+AND\s+password_reset_digest\s*=\s*\$2$`).
		WithArgs("user-1", "digest-abc", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ClearFlowToken(context.Background(), "user-1", model.PurposePasswordReset, "digest-abc", now); err != nil {
		t.Fatalf("ClearFlowToken error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFlowTokenWrites_InvalidPurpose(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	if err := repo.StoreFlowToken(context.Background(), "user-1", "bogus", "d", now, now); !errors.Is(err, model.ErrInvalidPurpose) {
		t.Errorf("StoreFlowToken error = %v, want ErrInvalidPurpose", err)
	}
	if err := repo.ClearFlowToken(context.Background(), "user-1", "bogus", "d", now); !errors.Is(err, model.ErrInvalidPurpose) {
		t.Errorf("ClearFlowToken error = %v, want ErrInvalidPurpose", err)
	}
}

func TestList_ReturnsRows(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := userRow(now).AddRow(
		"user-2", "Bob", "Ray", "bobray", "bob@b.com", "+15550000000", "admin",
		"$2a$12$x", now,
		true, nil, nil,
		nil, nil,
		now, now,
	)
	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+users\s+ORDER\s+BY.*LIMIT\s+\$1\s+OFFSET\s+\$2`).
		WithArgs(20, 0).
		WillReturnRows(rows)

	users, err := repo.List(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
	if users[1].Role != model.RoleAdmin || users[1].PasswordChangedAt == nil {
		t.Errorf("unexpected second user: %+v", users[1])
	}
}

func TestDeleteByID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+users`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeleteByID(context.Background(), "user-1"); err != nil {
		t.Fatalf("DeleteByID error: %v", err)
	}
	if err := repo.DeleteByID(context.Background(), "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteByID error = %v, want ErrNotFound", err)
	}
}
