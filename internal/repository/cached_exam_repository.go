package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// CachedExamRepository is a read-through Redis cache in front of an ExamStore.
// Redis failures degrade to the backing store; they never fail a read.
type CachedExamRepository struct {
	next service.ExamStore
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCachedExamRepository creates a new CachedExamRepository.
func NewCachedExamRepository(next service.ExamStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedExamRepository {
	return &CachedExamRepository{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "exam_cache").Logger(),
	}
}

func (r *CachedExamRepository) GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	key := config.CacheKey.ExamDefinitionKey(examID.String())
	var exam model.ExamDefinition
	if r.get(ctx, key, &exam) {
		return &exam, nil
	}

	e, err := r.next.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	r.set(ctx, key, e)
	return e, nil
}

// GetExamFresh reads the definition from the backing store and refreshes the
// cached copy.
func (r *CachedExamRepository) GetExamFresh(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	e, err := r.next.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	r.set(ctx, config.CacheKey.ExamDefinitionKey(examID.String()), e)
	return e, nil
}

func (r *CachedExamRepository) ListPool(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	key := config.CacheKey.ExamPoolKey(examID.String())
	var ids []uuid.UUID
	if r.get(ctx, key, &ids) {
		return ids, nil
	}

	ids, err := r.next.ListPool(ctx, examID)
	if err != nil {
		return nil, err
	}
	r.set(ctx, key, ids)
	return ids, nil
}

// GetQuestions serves hits with one MGET and fetches all misses from the
// backing store in a single call.
func (r *CachedExamRepository) GetQuestions(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return []model.Question{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = config.CacheKey.QuestionKey(id.String())
	}

	byID := make(map[uuid.UUID]model.Question, len(ids))
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Warn().Err(err).Msg("Question cache read failed, falling back to database")
		vals = make([]interface{}, len(ids))
	}

	var missing []uuid.UUID
	for i, v := range vals {
		s, ok := v.(string)
		if ok {
			var q model.Question
			if err := json.Unmarshal([]byte(s), &q); err == nil {
				byID[ids[i]] = q
				continue
			}
		}
		missing = append(missing, ids[i])
	}

	if len(missing) > 0 {
		fetched, err := r.next.GetQuestions(ctx, missing)
		if err != nil {
			return nil, err
		}
		pipe := r.rdb.Pipeline()
		for _, q := range fetched {
			byID[q.ID] = q
			if data, err := json.Marshal(q); err == nil {
				pipe.Set(ctx, config.CacheKey.QuestionKey(q.ID.String()), data, r.ttl)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			r.log.Warn().Err(err).Int("count", len(fetched)).Msg("Failed to cache questions")
		}
	}
	return orderQuestions(ids, byID)
}

// Warm loads an exam's definition, pool and questions into Redis.
func (r *CachedExamRepository) Warm(ctx context.Context, examID uuid.UUID) error {
	exam, err := r.next.GetExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	pool, err := r.next.ListPool(ctx, examID)
	if err != nil {
		return fmt.Errorf("list pool: %w", err)
	}
	questions, err := r.next.GetQuestions(ctx, pool)
	if err != nil {
		return fmt.Errorf("get questions: %w", err)
	}

	pipe := r.rdb.Pipeline()
	if data, err := json.Marshal(exam); err == nil {
		pipe.Set(ctx, config.CacheKey.ExamDefinitionKey(examID.String()), data, r.ttl)
	}
	if data, err := json.Marshal(pool); err == nil {
		pipe.Set(ctx, config.CacheKey.ExamPoolKey(examID.String()), data, r.ttl)
	}
	for _, q := range questions {
		if data, err := json.Marshal(q); err == nil {
			pipe.Set(ctx, config.CacheKey.QuestionKey(q.ID.String()), data, r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	r.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

func (r *CachedExamRepository) get(ctx context.Context, key string, dst any) bool {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed cache entry")
		return false
	}
	return true
}

func (r *CachedExamRepository) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
