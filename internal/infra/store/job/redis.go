package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dskam73/interview-automation/internal/domain"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps each job as one serialized JSON document per key, plus a
// sorted set indexed by creation time for eviction scans. Writing the whole
// document with a single SET is what gives concurrent pollers an
// all-or-nothing view: they read either the previous committed record or the
// next one, never a half-updated hash.
type redisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *redisStore {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Create(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, jobsByCreatedKey(), redis.Z{
		Score:  float64(job.CreatedAt.Unix()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create job: %w", err)
	}

	return nil
}

func (s *redisStore) Get(ctx context.Context, id string) (domain.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("redis get job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job %s: %w", id, err)
	}

	return job, nil
}

// Update applies mutate to the current record and publishes the result as a
// fresh document. Each job has a single writer (its own worker), so a plain
// read-modify-write is race-free against other writers; the SET XX is the
// atomic publish point for readers and refuses to resurrect a job the
// eviction pass deleted between the read and the write.
func (s *redisStore) Update(ctx context.Context, id string, mutate func(*domain.Job)) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	mutate(&job)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := s.rdb.SetXX(ctx, jobKey(id), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis update job: %w", err)
	}
	if !ok {
		return domain.ErrJobNotFound
	}

	return nil
}

func (s *redisStore) ListActive(ctx context.Context, maxAge time.Duration) ([]domain.Job, error) {
	border := time.Now().Add(-maxAge).Unix()

	ids, err := s.rdb.ZRangeByScore(ctx, jobsByCreatedKey(), &redis.ZRangeBy{
		Min: fmt.Sprint(border),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list active: %w", err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// EvictOlderThan removes every job created before now-maxAge regardless of
// its status and returns the removed records so the caller can reclaim the
// associated blobs.
func (s *redisStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) ([]domain.Job, error) {
	border := time.Now().Add(-maxAge).Unix()

	ids, err := s.rdb.ZRangeByScore(ctx, jobsByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(border),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis evict scan: %w", err)
	}

	var evicted []domain.Job
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			return evicted, err
		}

		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, jobKey(id))
		pipe.ZRem(ctx, jobsByCreatedKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return evicted, fmt.Errorf("redis evict job %s: %w", id, err)
		}

		if job.ID != "" {
			evicted = append(evicted, job)
		}
	}

	return evicted, nil
}

func jobKey(id string) string {
	return "job:" + id
}

func jobsByCreatedKey() string {
	return "jobs:by_created"
}
