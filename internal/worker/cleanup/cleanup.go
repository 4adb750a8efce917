// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 有効なトークンを持たない未確認の購読者と、期限切れのPostgreSQLセッションを削除する。
// confirmation_tokensはCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/letterbox/internal/metrics"
)

// SubscriberPurger は期限切れの未確認購読者を削除する。
type SubscriberPurger interface {
	DeleteExpiredPending(ctx context.Context, ttl time.Duration) (int64, error)
}

// SessionPurger は期限切れのセッションを削除する。
// Redisセッションは自動で失効するため、PostgreSQLバックエンドの場合のみ指定する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等な削除処理のみを行うため、複数のワーカーが同時に実行しても安全。
type CleanupJob struct {
	subscribers SubscriberPurger
	sessions    SessionPurger
	tokenTTL    time.Duration
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
// sessionsとcollectorはnilでもよい。
func NewCleanupJob(
	subscribers SubscriberPurger,
	sessions SessionPurger,
	tokenTTL time.Duration,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		subscribers: subscribers,
		sessions:    sessions,
		tokenTTL:    tokenTTL,
		metrics:     collector,
		logger:      logger,
	}
}

// Run は削除処理を1回実行する。
// 購読者の削除に失敗した場合もセッションの削除は試みる。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedSubscribers, subErr := j.subscribers.DeleteExpiredPending(ctx, j.tokenTTL)
	if subErr != nil {
		j.logger.Error("期限切れ購読者の削除に失敗しました",
			slog.String("error", subErr.Error()),
			slog.Duration("token_ttl", j.tokenTTL),
		)
	} else {
		j.metrics.RecordCleanup(deletedSubscribers)
	}

	var deletedSessions int64
	var sessErr error
	if j.sessions != nil {
		deletedSessions, sessErr = j.sessions.DeleteExpired(ctx)
		if sessErr != nil {
			j.logger.Error("期限切れセッションの削除に失敗しました",
				slog.String("error", sessErr.Error()),
			)
		}
	}

	if subErr != nil {
		return fmt.Errorf("期限切れ購読者の削除に失敗: %w", subErr)
	}
	if sessErr != nil {
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", sessErr)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_subscribers", deletedSubscribers),
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後にも1回実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// Runはエラーを自身でログに出すため、ここでは無視する
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
