package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/attendly/phoneauth/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisCodeStore struct {
	client redis.UniversalClient
	logger *logrus.Logger
}

func NewRedisCodeStore(client redis.UniversalClient, logger *logrus.Logger) *RedisCodeStore {
	return &RedisCodeStore{
		client: client,
		logger: logger,
	}
}

func codeKey(verificationID string) string {
	return fmt.Sprintf("otp:code:%s", verificationID)
}

func (s *RedisCodeStore) Store(ctx context.Context, data models.OTPData) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("OTP already expired at %s", data.ExpiresAt.Format(time.RFC3339))
	}

	if err := s.client.Set(ctx, codeKey(data.VerificationID), dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) Get(ctx context.Context, verificationID string) (*models.OTPData, error) {
	dataJSON, err := s.client.Get(ctx, codeKey(verificationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get OTP from Redis")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var data models.OTPData
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return &data, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, verificationID string) error {
	if err := s.client.Del(ctx, codeKey(verificationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}
