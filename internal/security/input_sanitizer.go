// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizer はプロフィールなどの利用者入力からHTMLマークアップを取り除き、
// 保存・再表示時のXSSを防ぐ。パスワードはハッシュ化のみ行い、サニタイズしない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer はプレーンテキスト入力のサニタイズ機能のインターフェース。
type InputSanitizer interface {
	// SanitizeText は全てのタグを除去し、前後の空白を削ったプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// inputSanitizer はbluemondayのStrictPolicyによるInputSanitizerの実装。
// bluemonday.Policy は生成後スレッドセーフに使える。
type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerを生成する。
func NewInputSanitizer() InputSanitizer {
	return &inputSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText は入力からタグを除去する。
// StrictPolicyの出力はHTMLエスケープされるため、保存用に実体参照を戻す。
// 戻した結果に再びタグが現れた場合はもう一度除去する。
func (s *inputSanitizer) SanitizeText(raw string) string {
	out := raw
	for i := 0; i < 3; i++ {
		cleaned := html.UnescapeString(s.policy.Sanitize(out))
		if cleaned == out {
			break
		}
		out = cleaned
	}
	return strings.TrimSpace(out)
}
