package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/letterbox/internal/model"
)

// PostgresSubscriberRepo はPostgreSQLを使用した購読者リポジトリ。
type PostgresSubscriberRepo struct {
	db TxBeginner
}

// NewPostgresSubscriberRepo はPostgresSubscriberRepoを生成する。
func NewPostgresSubscriberRepo(db TxBeginner) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

// Persist は購読者と確認トークンを同一トランザクションで作成する。
// 同じメールアドレスの未確認購読者が存在する場合は、その購読者に新しいトークンを追加する。
// 確認済みの購読者が存在する場合は何も書き込まずAlreadyConfirmedを返す。
func (r *PostgresSubscriberRepo) Persist(ctx context.Context, subscriber *model.NewSubscriber, token string) (*model.PersistResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// 購読者を作成（メールアドレス重複時は何もしない）
	var subscriberID string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO subscribers (id, email, name, subscribed_at, status)
		 VALUES ($1, $2, $3, $4, 'pending_confirmation')
		 ON CONFLICT (email) DO NOTHING
		 RETURNING id`,
		uuid.New().String(), subscriber.Email, subscriber.Name, now,
	).Scan(&subscriberID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// 既存の購読者を排他ロック付きで取得
		var status model.SubscriberStatus
		err = tx.QueryRowContext(ctx,
			`SELECT id, status FROM subscribers WHERE email = $1 FOR UPDATE`,
			subscriber.Email,
		).Scan(&subscriberID, &status)
		if err != nil {
			return nil, storageError("find existing subscriber", err)
		}
		if status == model.StatusConfirmed {
			return &model.PersistResult{SubscriberID: subscriberID, AlreadyConfirmed: true}, nil
		}
	case err != nil:
		return nil, storageError("insert subscriber", err)
	}

	// 確認トークンを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO confirmation_tokens (token, subscriber_id, created_at)
		 VALUES ($1, $2, $3)`,
		token, subscriberID, now,
	)
	if err != nil {
		return nil, storageError("insert confirmation token", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError("commit transaction", err)
	}

	return &model.PersistResult{SubscriberID: subscriberID}, nil
}

// Confirm は有効期限内の確認トークンを引き換え、購読者を確認済みにする。
// 引き換えた購読者の全トークンを削除する。
func (r *PostgresSubscriberRepo) Confirm(ctx context.Context, token string, ttl time.Duration) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageError("begin transaction", err)
	}
	defer tx.Rollback()

	var subscriberID string
	err = tx.QueryRowContext(ctx,
		`SELECT subscriber_id FROM confirmation_tokens
		 WHERE token = $1 AND created_at > $2
		 FOR UPDATE`,
		token, time.Now().UTC().Add(-ttl),
	).Scan(&subscriberID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrTokenNotFound
	}
	if err != nil {
		return "", storageError("find confirmation token", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE subscribers SET status = 'confirmed' WHERE id = $1`,
		subscriberID,
	)
	if err != nil {
		return "", storageError("mark subscriber as confirmed", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM confirmation_tokens WHERE subscriber_id = $1`,
		subscriberID,
	)
	if err != nil {
		return "", storageError("delete confirmation tokens", err)
	}

	if err := tx.Commit(); err != nil {
		return "", storageError("commit transaction", err)
	}

	return subscriberID, nil
}

// DeleteExpiredPending は有効なトークンを1つも持たない未確認の購読者を削除する。
// confirmation_tokensはCASCADE削除される。
func (r *PostgresSubscriberRepo) DeleteExpiredPending(ctx context.Context, ttl time.Duration) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("begin transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM subscribers s
		 WHERE s.status = 'pending_confirmation'
		   AND NOT EXISTS (
		     SELECT 1 FROM confirmation_tokens t
		     WHERE t.subscriber_id = s.id AND t.created_at > $1
		   )`,
		time.Now().UTC().Add(-ttl),
	)
	if err != nil {
		return 0, storageError("delete expired subscribers", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, storageError("get rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageError("commit transaction", err)
	}

	return deleted, nil
}

// storageError は永続化エラーをログに記録し、KindStorageのエラーに変換する。
func storageError(op string, err error) error {
	slog.Error("failed to execute query",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return model.NewError(model.KindStorage, op, err)
}

// compile-time interface check
var _ SubscriberRepository = (*PostgresSubscriberRepo)(nil)
