// Package session はRedisを使用したサーバー側セッションストアを提供する。
//
// セッションはハッシュキー "session:<id>" にユーザーIDを保持し、
// フラッシュメッセージは別キー "session:<id>:flash" に保持する。
// フラッシュの読み出しにはGETDELを使い、読み出しと削除を1コマンドで行う。
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/repository"
	"github.com/hitoshi/letterbox/internal/token"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// RedisStore はRedisを使用したセッションストア。
type RedisStore struct {
	client *redis.Client
	maxAge time.Duration
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client, maxAge time.Duration) *RedisStore {
	return &RedisStore{client: client, maxAge: maxAge}
}

// NewRedisStoreWithURL はURLからRedisクライアントを構築してRedisStoreを生成する。
func NewRedisStoreWithURL(url string, maxAge time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), maxAge), nil
}

// Ping はRedisへの接続を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close はRedisクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Create はセッションを作成する。キーにはmaxAgeのTTLを設定する。
func (s *RedisStore) Create(ctx context.Context, userID string) (*model.Session, error) {
	id, err := token.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(s.maxAge),
		CreatedAt: now,
	}

	key := sessionKey(id)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", userID,
		"created_at", now.Unix(),
		"expires_at", session.ExpiresAt.Unix(),
	)
	pipe.Expire(ctx, key, s.maxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// FindByID は指定IDのセッションを取得する。存在しない場合はnilを返す。
// 有効期限はキーのTTLで管理する。
func (s *RedisStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}

	values, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	session := &model.Session{
		ID:     id,
		UserID: values["user_id"],
	}
	if v, ok := values["created_at"]; ok {
		session.CreatedAt = parseUnix(v)
	}
	if v, ok := values["expires_at"]; ok {
		session.ExpiresAt = parseUnix(v)
	}
	return session, nil
}

// SetFlash はフラッシュメッセージを保存する。TTLはセッション本体の残りTTLに揃える。
func (s *RedisStore) SetFlash(ctx context.Context, id, message string) error {
	ttl, err := s.client.TTL(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to read session TTL: %w", err)
	}
	// キーが存在しない場合TTLは負の値になる
	if ttl <= 0 {
		return fmt.Errorf("session not found or expired")
	}

	if err := s.client.Set(ctx, flashKey(id), message, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set flash: %w", err)
	}
	return nil
}

// TakeFlash はフラッシュメッセージをGETDELで読み出すと同時に削除する。
func (s *RedisStore) TakeFlash(ctx context.Context, id string) (string, bool, error) {
	message, err := s.client.GetDel(ctx, flashKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to take flash: %w", err)
	}
	return message, true, nil
}

// DeleteByID はセッションとフラッシュメッセージを削除する。
func (s *RedisStore) DeleteByID(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id), flashKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return keyPrefix + id
}

func flashKey(id string) string {
	return keyPrefix + id + ":flash"
}

func parseUnix(v string) time.Time {
	var sec int64
	if _, err := fmt.Sscan(v, &sec); err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// compile-time interface check
var _ repository.SessionRepository = (*RedisStore)(nil)
