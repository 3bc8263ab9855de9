package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamQuestionsKey returns the cache key for an exam's question list, answer keys included
func (r *CacheKeyStruct) ExamQuestionsKey(examID string) string {
	return fmt.Sprintf("exam:%s:questions", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// SchedulerLeaseKey returns the key that elects one replica to run a scheduler job
func (r *CacheKeyStruct) SchedulerLeaseKey(job string) string {
	return fmt.Sprintf("scheduler:%s:lease", job)
}

var CacheKey = NewCacheKeyStruct()
