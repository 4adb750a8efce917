// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/letterbox/internal/model"
)

// SubscriberRepository は購読者と確認トークンの永続化インターフェース。
type SubscriberRepository interface {
	// Persist は購読者と確認トークンを同一トランザクションで作成する。
	// 両方がコミットされるか、どちらもコミットされないかのいずれかとなる。
	// 確認済みの購読者が既に存在する場合はトークンを発行せず、AlreadyConfirmedを返す。
	Persist(ctx context.Context, subscriber *model.NewSubscriber, token string) (*model.PersistResult, error)

	// Confirm は有効期限内の確認トークンを引き換え、購読者を確認済みにする。
	// トークンは同一トランザクション内で削除されるため、2回目の引き換えは失敗する。
	// トークンが存在しない場合はmodel.ErrTokenNotFoundを返す。
	Confirm(ctx context.Context, token string, ttl time.Duration) (string, error)

	// DeleteExpiredPending は期限切れトークンと、それに紐付く未確認の購読者を削除する。
	// 削除した購読者数を返す。
	DeleteExpiredPending(ctx context.Context, ttl time.Duration) (int64, error)
}

// UserRepository はオペレーターアカウントの永続化インターフェース。
type UserRepository interface {
	// FindByUsername は指定ユーザー名のユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdatePasswordHash はユーザーのパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// RedisとPostgreSQLの2種類の実装を持つ。
type SessionRepository interface {
	// Create はセッションを作成する。userIDが空の場合は匿名セッションとなる。
	Create(ctx context.Context, userID string) (*model.Session, error)
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// SetFlash はセッションに一度だけ表示するメッセージを保存する。
	SetFlash(ctx context.Context, id, message string) error
	// TakeFlash はフラッシュメッセージを読み出すと同時に削除する。
	// 同一セッションへの並行リクエストのうち、メッセージを受け取るのは1つだけ。
	TakeFlash(ctx context.Context, id string) (string, bool, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
