// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// HTTP境界でステータスコードへ変換するためのキーとして使用し、
// コア層のエラー値自体はトランスポートに依存しない。
type ErrorKind string

const (
	// KindValidation は入力値の不正を表す。予期しないエラーとしてはログに記録しない。
	KindValidation ErrorKind = "validation"
	// KindNotFound は参照対象（確認トークン等）が存在しないことを表す。
	KindNotFound ErrorKind = "not_found"
	// KindStorage は永続化処理の失敗を表す。
	KindStorage ErrorKind = "storage"
	// KindDispatch は通知メール送信の失敗を表す。永続化済みの状態はロールバックしない。
	KindDispatch ErrorKind = "dispatch"
	// KindInvalidCredentials は認証情報の不一致を表す。
	// ユーザー不在とパスワード不一致を区別しない。
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	// KindUnexpected は認証処理中の予期しない障害を表す。
	KindUnexpected ErrorKind = "unexpected"
	// KindVerification は署名付きリダイレクトの検証失敗を表す。
	KindVerification ErrorKind = "verification"
)

// Error は分類付きのドメインエラー。
// Opには失敗した処理名、Errには原因となったエラーを保持する。
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError は分類付きエラーを生成する。
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf はエラーチェーンから分類を取り出す。
// 分類付きエラーを含まない場合はKindUnexpectedを返す。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IsKind はエラーチェーンに指定分類のエラーが含まれるかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// 定義済みエラー
var (
	// ErrInvalidCredentials はユーザー名またはパスワードが正しくないことを表す。
	ErrInvalidCredentials = NewError(KindInvalidCredentials, "validate credentials", errors.New("invalid username or password"))

	// ErrTokenNotFound は確認トークンが存在しない、期限切れ、または使用済みであることを表す。
	ErrTokenNotFound = NewError(KindNotFound, "confirm subscription", errors.New("confirmation token not found"))

	// ErrInvalidSignature は署名付きメッセージの検証に失敗したことを表す。
	// デコード失敗、長さ不一致、タグ不一致を呼び出し元に区別させない。
	ErrInvalidSignature = NewError(KindVerification, "verify signed message", errors.New("invalid signature"))
)
