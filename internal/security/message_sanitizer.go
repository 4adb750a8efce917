// Package security はアプリケーションのセキュリティ機能を提供する。
//
// RedirectSigner はリダイレクトURLで運ばれるメッセージの改ざんを検出し、
// MessageSanitizer はユーザー由来の文字列をHTMLに埋め込む前に無害化する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// MessageSanitizer はテキストをHTMLに埋め込む前にサニタイズする。
// ログインページのフラッシュメッセージや確認メール本文の購読者名に使用する。
type MessageSanitizer interface {
	// Sanitize は全てのタグを除去し、HTML特殊文字をエスケープした文字列を返す。
	Sanitize(raw string) string
}

type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はbluemondayのStrictPolicyを使用するMessageSanitizerを生成する。
// Policyは構築後スレッドセーフに使用できる。
func NewMessageSanitizer() *messageSanitizer {
	return &messageSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はテキストをサニタイズする。
func (s *messageSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
