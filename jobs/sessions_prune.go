package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/linkdeck/linkdeck/internal/jobs"
	"github.com/linkdeck/linkdeck/internal/platform/db"
)

// TaskSessionsPrune removes expired login session records.
const TaskSessionsPrune = "sessions:prune"

// NewSessionsPruneTask builds the prune task.
func NewSessionsPruneTask() *asynq.Task {
	return asynq.NewTask(TaskSessionsPrune, nil, asynq.Queue(QueueDefault))
}

// SessionsPruneJob deletes user_sessions rows past their expiry.
type SessionsPruneJob struct {
	DB      db.Querier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSessionsPruneJob initialises the prune handler.
func NewSessionsPruneJob(q db.Querier, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionsPruneJob {
	return &SessionsPruneJob{DB: q, Logger: logger, Metrics: metrics}
}

// Handle executes the prune.
func (j *SessionsPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.DB == nil {
		return errors.New("sessions prune: handler not configured")
	}
	tracker := j.metrics().Track(TaskSessionsPrune)
	tag, err := j.DB.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, j.now())
	if err != nil {
		j.logger().Error("prune failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddPrunedSessions(tag.RowsAffected())
	j.logger().Info("sessions pruned", slog.Int64("count", tag.RowsAffected()))
	return tracker.End(nil)
}

func (j *SessionsPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionsPrune))
	}
	return slog.Default().With(slog.String("job", TaskSessionsPrune))
}

func (j *SessionsPruneJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SessionsPruneJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
