package model

import "time"

// User は管理画面を利用するオペレーターを表す。
type User struct {
	ID           string
	Username     string
	PasswordHash string
}

// Credentials はログインリクエストで送信された認証情報を表す。
// 永続化しないこと。
type Credentials struct {
	Username string
	Password string
}

// Session はサーバー側セッションを表す。
// UserIDが空の場合は未認証（匿名）セッション。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Authenticated はセッションが認証済みユーザーに紐付いているかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}
