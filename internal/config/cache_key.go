package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamDefinitionKey returns the cache key for an exam's definition (without its pool).
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// ExamPoolKey returns the cache key for the ordered question ids of an exam's pool.
func (r *CacheKeyStruct) ExamPoolKey(examID string) string {
	return fmt.Sprintf("exam:%s:pool", examID)
}

// QuestionKey returns the cache key for a single question, answer key included.
// Questions are immutable once referenced, so entries never need invalidation.
func (r *CacheKeyStruct) QuestionKey(questionID string) string {
	return fmt.Sprintf("question:%s", questionID)
}

// StudentAnswerRateKey returns the fixed-window counter key for a student's answer writes.
func (r *CacheKeyStruct) StudentAnswerRateKey(studentID int, window int64) string {
	return fmt.Sprintf("student:%d:answer_rate:%d", studentID, window)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
