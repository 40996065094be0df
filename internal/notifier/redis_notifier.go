// Package notifier hands attempt outcomes to the outside world: graded
// results to the notification queue and lifecycle events to live monitors.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// QueueNotifier pushes each graded result onto the result notifications
// queue drained by worker.NotificationWorker.
type QueueNotifier struct {
	rdb   *redis.Client
	queue string
}

// NewQueueNotifier creates a QueueNotifier on the default queue.
func NewQueueNotifier(rdb *redis.Client) *QueueNotifier {
	return &QueueNotifier{rdb: rdb, queue: config.WorkerKey.ResultNotificationsQueue}
}

func (n *QueueNotifier) Notify(ctx context.Context, result *model.AttemptResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := n.rdb.RPush(ctx, n.queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue result: %w", err)
	}
	return nil
}

// EventPublisher broadcasts attempt events on the exam's monitor channel.
type EventPublisher struct {
	rdb *redis.Client
}

func NewEventPublisher(rdb *redis.Client) *EventPublisher {
	return &EventPublisher{rdb: rdb}
}

func (p *EventPublisher) Publish(ctx context.Context, ev model.AttemptEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), data).Err()
}

// LogNotifier only logs results. It serves the memory driver, where no queue exists.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "log_notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, result *model.AttemptResult) error {
	msg := Render(result)
	n.log.Info().
		Str("attempt_id", result.AttemptID.String()).
		Int("student_id", result.StudentID).
		Str("subject", msg.Subject).
		Msg("Result ready")
	return nil
}
