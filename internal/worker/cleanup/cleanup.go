// Package cleanup は確定されなかったステージング画像の自動削除ジョブを提供する。
// アップロード後、保持期間内にフィギュア・ストーリーへ紐づかなかった画像を
// 定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger はステージング削除を抽象化するインターフェース。
// *media.Service が満たす。
type Purger interface {
	PurgeStaging(ctx context.Context, olderThan time.Duration) (int, error)
}

// CleanupJob は保持期間を超過したステージングの削除ジョブ。
// 削除対象がなければ何もしないため、何度実行してもよい。
type CleanupJob struct {
	purger    Purger
	logger    *slog.Logger
	Retention time.Duration // ステージングの保持期間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持期間は24時間。
func NewCleanupJob(purger Purger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		purger:    purger,
		logger:    logger,
		Retention: 24 * time.Hour,
	}
}

// Run はRetentionより古いステージングを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	purged, err := j.purger.PurgeStaging(ctx, j.Retention)
	if err != nil {
		j.logger.Error("ステージングクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("ステージングクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("ステージングクリーンアップジョブが完了しました",
		slog.Int("deleted_count", purged),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はinterval間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("ステージングクリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	// エラーはRun内で記録済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("ステージングクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
