package auth

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/hitoshi/storefront/internal/model"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

const (
	minNameLength  = 3
	maxNameLength  = 20
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// validatePassword は新しいパスワードと確認用パスワードを検証する。
func validatePassword(password, confirm string) error {
	if len([]rune(password)) < MinPasswordLength {
		return model.NewValidationError("パスワードは8文字以上で入力してください")
	}
	if password != confirm {
		return model.NewPasswordMismatchError()
	}
	return nil
}

// validatePersonName は姓・名を検証する。英字のみ、3〜20文字。
func validatePersonName(field, v string) error {
	if !lengthBetween(v, minNameLength, maxNameLength) || !allRunes(v, isASCIILetter) {
		return model.NewValidationError(field + "は3〜20文字の英字で入力してください")
	}
	return nil
}

// validateUserName はユーザー名を検証する。英数字のみ、3〜20文字。
func validateUserName(v string) error {
	if !lengthBetween(v, minNameLength, maxNameLength) || !allRunes(v, isASCIIAlnum) {
		return model.NewValidationError("ユーザー名は3〜20文字の英数字で入力してください")
	}
	return nil
}

// normalizeEmail はメールアドレスを検証し、小文字化して返す。
// 表示名付きの形式（"Ann <a@b.com>"）は受け付けない。
func normalizeEmail(v string) (string, error) {
	v = strings.TrimSpace(v)
	invalid := model.NewValidationError("メールアドレスの形式が正しくありません")

	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return "", invalid
	}
	// ドメイン部にドットを要求する（"user@localhost" は不可）
	domain := addr.Address[strings.LastIndex(addr.Address, "@")+1:]
	if !strings.Contains(domain, ".") {
		return "", invalid
	}
	return strings.ToLower(addr.Address), nil
}

// validatePhoneNumber は電話番号を検証する。8〜15桁の数字で、国番号付きの場合は先頭に "+" を付ける。
// 国内形式（例: 01012345678）も受け付ける。
func validatePhoneNumber(v string) error {
	digits := strings.TrimPrefix(v, "+")
	if !lengthBetween(digits, minPhoneDigits, maxPhoneDigits) || !allRunes(digits, isASCIIDigit) {
		return model.NewValidationError("電話番号は8〜15桁の数字で入力してください（例: +15551234567, 01012345678）")
	}
	return nil
}

func lengthBetween(s string, lo, hi int) bool {
	n := len([]rune(s))
	return n >= lo && n <= hi
}

func allRunes(s string, ok func(rune) bool) bool {
	for _, r := range s {
		if !ok(r) {
			return false
		}
	}
	return true
}

func isASCIILetter(r rune) bool {
	return r <= unicode.MaxASCII && unicode.IsLetter(r)
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isASCIIAlnum(r rune) bool {
	return isASCIILetter(r) || isASCIIDigit(r)
}
