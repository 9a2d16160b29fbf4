// Package cleanup は期限切れの使い捨てトークンを掃除するジョブを提供する。
// 期限切れのトークンは照合時に必ず拒否されるため、このジョブは台帳を
// 小さく保つためだけに動き、正しさには影響しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は掃除した件数を記録するインターフェース。metrics.Collector が実装する。
type Recorder interface {
	RecordCleanup(cleared int64)
}

// slots は掃除対象のダイジェスト列と有効期限列の組。
var slots = []struct {
	name, digest, expires string
}{
	{"email_verification", "email_verification_digest", "email_verification_expires_at"},
	{"password_reset", "password_reset_digest", "password_reset_expires_at"},
}

// CleanupJob は有効期限を過ぎたトークンスロットを空にするジョブ。
// 冪等で、何度実行しても結果は変わらない。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は期限切れのトークンスロットをクリアする。
// 対象がない場合もエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	var total int64
	for _, s := range slots {
		// 列名は slots の固定値のみ
		query := fmt.Sprintf(
			`UPDATE users SET %[1]s = NULL, %[2]s = NULL WHERE %[2]s IS NOT NULL AND %[2]s <= $1`,
			s.digest, s.expires,
		)
		result, err := j.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			j.logger.Error("flow token cleanup failed",
				slog.String("slot", s.name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to clear expired %s tokens: %w", s.name, err)
		}

		cleared, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += cleared
	}

	if j.recorder != nil {
		j.recorder.RecordCleanup(total)
	}

	j.logger.Info("flow token cleanup completed",
		slog.Int64("cleared_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// DefaultInterval はStartに0以下の間隔が渡された場合の実行間隔。
const DefaultInterval = time.Hour

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxがキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
