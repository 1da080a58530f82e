package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/attendly/phoneauth/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix = "otp:attempts:"
	resendKeyPrefix  = "otp:resend:"
	sweepScanCount   = 100
)

// RedisStore shares records between instances. Keys carry a TTL matching the
// limiter windows so abandoned numbers expire without a sweep.
type RedisStore struct {
	client     redis.UniversalClient
	attemptTTL time.Duration
	resendTTL  time.Duration
}

func NewRedisStore(client redis.UniversalClient, attemptTTL, resendTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		attemptTTL: attemptTTL,
		resendTTL:  resendTTL,
	}
}

func (s *RedisStore) GetAttempt(ctx context.Context, phoneNumber string) (*models.AttemptRecord, error) {
	var rec models.AttemptRecord
	found, err := s.get(ctx, attemptKeyPrefix+phoneNumber, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) SaveAttempt(ctx context.Context, phoneNumber string, rec models.AttemptRecord) error {
	return s.set(ctx, attemptKeyPrefix+phoneNumber, rec, s.attemptTTL)
}

func (s *RedisStore) DeleteAttempt(ctx context.Context, phoneNumber string) error {
	return s.del(ctx, attemptKeyPrefix+phoneNumber)
}

func (s *RedisStore) GetResend(ctx context.Context, phoneNumber string) (*models.ResendRecord, error) {
	var rec models.ResendRecord
	found, err := s.get(ctx, resendKeyPrefix+phoneNumber, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) SaveResend(ctx context.Context, phoneNumber string, rec models.ResendRecord) error {
	return s.set(ctx, resendKeyPrefix+phoneNumber, rec, s.resendTTL)
}

func (s *RedisStore) DeleteResend(ctx context.Context, phoneNumber string) error {
	return s.del(ctx, resendKeyPrefix+phoneNumber)
}

// Sweep walks both key prefixes and removes stale records that have not
// yet hit their TTL, e.g. after the windows were shortened.
func (s *RedisStore) Sweep(ctx context.Context, attemptsBefore, resendsBefore time.Time) (int, error) {
	removed, err := s.sweepPrefix(ctx, attemptKeyPrefix, func(data []byte) (bool, error) {
		var rec models.AttemptRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return false, err
		}
		return rec.LastAttempt.Before(attemptsBefore), nil
	})
	if err != nil {
		return removed, err
	}

	n, err := s.sweepPrefix(ctx, resendKeyPrefix, func(data []byte) (bool, error) {
		var rec models.ResendRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return false, err
		}
		return rec.LastSent.Before(resendsBefore), nil
	})
	return removed + n, err
}

func (s *RedisStore) sweepPrefix(ctx context.Context, prefix string, stale func([]byte) (bool, error)) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, prefix+"*", sweepScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		isStale, err := stale(data)
		if err != nil {
			// unreadable record, drop it
			isStale = true
		}
		if !isStale {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return removed, nil
}

func (s *RedisStore) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
