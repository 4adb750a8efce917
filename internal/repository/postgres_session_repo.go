package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/token"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// フラッシュメッセージはdataカラム（JSONB）の"flash"キーに保持する。
type PostgresSessionRepo struct {
	db     *sql.DB
	maxAge time.Duration
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB, maxAge time.Duration) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, maxAge: maxAge}
}

// Create はセッションを作成する。userIDが空の場合はuser_idをNULLとする。
func (r *PostgresSessionRepo) Create(ctx context.Context, userID string) (*model.Session, error) {
	id, err := token.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(r.maxAge),
		CreatedAt: now,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, data, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, sql.NullString{String: userID, Valid: userID != ""}, []byte("{}"), session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var userID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &userID, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.UserID = userID.String
	return session, nil
}

// SetFlash はフラッシュメッセージを保存する。既存のメッセージは上書きする。
func (r *PostgresSessionRepo) SetFlash(ctx context.Context, id, message string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET data = jsonb_set(data, '{flash}', to_jsonb($2::text))
		 WHERE id = $1 AND expires_at > now()`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("failed to set flash: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session not found or expired")
	}
	return nil
}

// TakeFlash はフラッシュメッセージを読み出すと同時に削除する。
// 行ロックを取った上で旧値を返す単一のUPDATE文で行うため、並行リクエストでも一度しか返らない。
func (r *PostgresSessionRepo) TakeFlash(ctx context.Context, id string) (string, bool, error) {
	var flash sql.NullString
	err := r.db.QueryRowContext(ctx,
		`UPDATE sessions s SET data = s.data - 'flash'
		 FROM (
		   SELECT id, data->>'flash' AS flash FROM sessions
		   WHERE id = $1 AND expires_at > now() AND data ? 'flash'
		   FOR UPDATE
		 ) old
		 WHERE s.id = old.id
		 RETURNING old.flash`,
		id,
	).Scan(&flash)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to take flash: %w", err)
	}
	return flash.String, flash.Valid, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は有効期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
