package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

const recentKey = "jobs:recent"

// RedisSnapshotStore keeps the latest projection of each watched job and a
// recency index over them.
type RedisSnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ contracts.SnapshotStore = (*RedisSnapshotStore)(nil)

func NewRedisSnapshotStore(rdb *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

func (s *RedisSnapshotStore) jobKey(jobID string) string {
	return "job:" + jobID
}

// SaveProjection stores the projection under its own key and bumps the job
// in the recency ZSet.
func (s *RedisSnapshotStore) SaveProjection(ctx context.Context, p domain.Projection) error {
	if p.Failed() {
		return errors.New("refusing to store a failed pull")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(p.JobID), raw, s.ttl)
		pipe.ZAdd(ctx, recentKey, redis.Z{Score: float64(now.UnixMilli()), Member: p.JobID})
		// keep the index from growing past the snapshot lifetime
		if s.ttl > 0 {
			pipe.Expire(ctx, recentKey, s.ttl*2)
		}
		return nil
	})
	return err
}

func (s *RedisSnapshotStore) LoadProjection(ctx context.Context, jobID string) (domain.Projection, bool, error) {
	raw, err := s.rdb.Get(ctx, s.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Projection{}, false, nil
	}
	if err != nil {
		return domain.Projection{}, false, err
	}
	var p domain.Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Projection{}, false, err
	}
	return p, true, nil
}

// RecentJobs returns up to limit job ids updated within the snapshot TTL,
// newest first. Stale members are pruned first.
func (s *RedisSnapshotStore) RecentJobs(ctx context.Context, limit int64) ([]string, error) {
	if s.ttl > 0 {
		threshold := s.now().Add(-s.ttl).UnixMilli()
		if err := s.rdb.ZRemRangeByScore(ctx, recentKey, "-inf", "("+strconv.FormatInt(threshold, 10)).Err(); err != nil {
			return nil, err
		}
	}
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	return s.rdb.ZRevRange(ctx, recentKey, 0, stop).Result()
}

// Forget removes a job from the store.
func (s *RedisSnapshotStore) Forget(ctx context.Context, jobID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.jobKey(jobID))
		pipe.ZRem(ctx, recentKey, jobID)
		return nil
	})
	return err
}
