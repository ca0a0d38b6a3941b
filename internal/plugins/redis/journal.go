package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/logging"
)

const journalStream = "stream:push-events"

// RedisEventJournal records inbound push envelopes in a capped stream.
type RedisEventJournal struct {
	rdb    *redis.Client
	maxLen int64
	log    *slog.Logger
}

var _ contracts.EventJournal = (*RedisEventJournal)(nil)

func NewRedisEventJournal(log *slog.Logger, rdb *redis.Client, maxLen int64) *RedisEventJournal {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisEventJournal{rdb: rdb, maxLen: maxLen, log: log}
}

func (j *RedisEventJournal) Append(ctx context.Context, env domain.Envelope) error {
	return j.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: journalStream,
		MaxLen: j.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"type":      env.Type,
			"data":      string(env.Data),
			"timestamp": env.Timestamp,
		},
	}).Err()
}

// Tail returns the last count envelopes, oldest first.
func (j *RedisEventJournal) Tail(ctx context.Context, count int64) ([]domain.Envelope, error) {
	msgs, err := j.rdb.XRevRangeN(ctx, journalStream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Envelope, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if env, ok := decodeEntry(msgs[i]); ok {
			out = append(out, env)
		}
	}
	return out, nil
}

// Follow calls handler for every envelope appended after the call, until
// ctx is done.
func (j *RedisEventJournal) Follow(ctx context.Context, handler func(domain.Envelope)) error {
	last := "$"
	for {
		res, err := j.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{journalStream, last},
			Count:   16,
			Block:   2 * time.Second,
		}).Result()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				j.log.Warn("journal - follow - read failed", logging.Err(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				last = msg.ID
				if env, ok := decodeEntry(msg); ok {
					handler(env)
				}
			}
		}
	}
}

func (j *RedisEventJournal) Clear(ctx context.Context) error {
	return j.rdb.Del(ctx, journalStream).Err()
}

func decodeEntry(msg redis.XMessage) (domain.Envelope, bool) {
	typ, ok := msg.Values["type"].(string)
	if !ok {
		return domain.Envelope{}, false
	}
	data, _ := msg.Values["data"].(string)
	ts, _ := msg.Values["timestamp"].(string)
	env := domain.Envelope{Type: typ, Timestamp: ts}
	if data != "" && json.Valid([]byte(data)) {
		env.Data = json.RawMessage(data)
	}
	return env, true
}
