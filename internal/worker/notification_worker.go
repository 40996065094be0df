package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/notifier"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// NotificationWorker drains graded results from Redis into the
// result_notifications outbox, rendering each into the student's result mail.
type NotificationWorker struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
}

func NewNotificationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *NotificationWorker {
	return &NotificationWorker{
		pool:  pool,
		rdb:   rdb,
		queue: config.WorkerKey.ResultNotificationsQueue,
		log:   log.With().Str("component", "notification_worker").Logger(),
	}
}

func (w *NotificationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("NotificationWorker started")

	buffer := make([]*model.AttemptResult, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var res model.AttemptResult
		if err := json.Unmarshal([]byte(result[1]), &res); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed result payload")
			continue
		}
		buffer = append(buffer, &res)
	}
}

// flushSafe attempts bulk insert, then row-by-row insert, then requeue.
func (w *NotificationWorker) flushSafe(ctx context.Context, batch []*model.AttemptResult) {
	recipients, err := w.recipients(ctx, batch)
	if err != nil {
		w.log.Warn().Err(err).Msg("Recipient lookup failed, requeueing batch")
		w.requeue(ctx, batch)
		return
	}

	if err := w.bulkInsert(ctx, batch, recipients); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch, recipients)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Result notifications persisted")
}

func (w *NotificationWorker) recipients(ctx context.Context, batch []*model.AttemptResult) (map[int]*string, error) {
	ids := make([]int, 0, len(batch))
	for _, r := range batch {
		ids = append(ids, r.StudentID)
	}

	rows, err := w.pool.Query(ctx, `SELECT id, email FROM students WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]*string, len(ids))
	for rows.Next() {
		var id int
		var email *string
		if err := rows.Scan(&id, &email); err != nil {
			return nil, err
		}
		out[id] = email
	}
	return out, rows.Err()
}

func (w *NotificationWorker) bulkInsert(ctx context.Context, batch []*model.AttemptResult, recipients map[int]*string) error {
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"result_notifications"},
		[]string{"attempt_id", "student_id", "recipient", "subject", "body"},
		pgx.CopyFromRows(outboxRows(batch, recipients)),
	)
	return err
}

// fallbackInsert skips rows already in the outbox and requeues the rest of the failures.
func (w *NotificationWorker) fallbackInsert(ctx context.Context, batch []*model.AttemptResult, recipients map[int]*string) {
	requeueList := make([]*model.AttemptResult, 0)

	for i, row := range outboxRows(batch, recipients) {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO result_notifications (attempt_id, student_id, recipient, subject, body)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (attempt_id) DO NOTHING`,
			row...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", batch[i].AttemptID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, batch[i])
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *NotificationWorker) requeue(ctx context.Context, items []*model.AttemptResult) {
	pipe := w.rdb.Pipeline()
	for _, r := range items {
		data, _ := json.Marshal(r)
		pipe.RPush(ctx, w.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue result notifications")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off so a down database is not hammered.
	time.Sleep(2 * time.Second)
}

func (w *NotificationWorker) shutdown(buffer []*model.AttemptResult) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

// outboxRows renders each result into a result_notifications row.
func outboxRows(batch []*model.AttemptResult, recipients map[int]*string) [][]any {
	rows := make([][]any, 0, len(batch))
	for _, r := range batch {
		msg := notifier.Render(r)
		rows = append(rows, []any{r.AttemptID, r.StudentID, recipients[r.StudentID], msg.Subject, msg.Body})
	}
	return rows
}
