// Package ratelimit gates OTP sends and verification attempts per phone
// number: a resend cooldown and a bounded number of failed attempts inside a
// rolling window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attendly/phoneauth/internal/models"
)

var (
	ErrResendCooldown  = errors.New("resend cooldown active")
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrSweepFailed is returned by RecordSend after the send itself was recorded.
	ErrSweepFailed     = errors.New("sweep of stale records failed")
)

type Config struct {
	MaxAttempts    int
	ResendCooldown time.Duration
	AttemptWindow  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		ResendCooldown: 60 * time.Second,
		AttemptWindow:  time.Hour,
	}
}

type Limiter struct {
	store  Store
	config Config
	now    func() time.Time
}

func New(store Store, cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = def.ResendCooldown
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = def.AttemptWindow
	}

	return &Limiter{
		store:  store,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Now() time.Time {
	return l.now()
}

func (l *Limiter) Config() Config {
	return l.config
}

// CheckResend returns ErrResendCooldown and the time a resend becomes
// allowed when the last send is inside the cooldown.
func (l *Limiter) CheckResend(ctx context.Context, phoneNumber string) (time.Time, error) {
	rec, err := l.store.GetResend(ctx, phoneNumber)
	if err != nil {
		return time.Time{}, err
	}
	if rec == nil {
		return time.Time{}, nil
	}

	allowedAt := rec.LastSent.Add(l.config.ResendCooldown)
	if l.now().Before(allowedAt) {
		return allowedAt, ErrResendCooldown
	}
	return allowedAt, nil
}

// RecordSend starts a new cooldown and sweeps stale records. A sweep failure
// does not fail the send.
func (l *Limiter) RecordSend(ctx context.Context, phoneNumber string) (swept int, err error) {
	if err := l.store.SaveResend(ctx, phoneNumber, models.ResendRecord{LastSent: l.now()}); err != nil {
		return 0, err
	}

	swept, sweepErr := l.Sweep(ctx)
	if sweepErr != nil {
		return swept, fmt.Errorf("%w: %v", ErrSweepFailed, sweepErr)
	}
	return swept, nil
}

// CheckAttempts returns the remaining attempt budget, or ErrTooManyAttempts
// once it is spent. A record older than the attempt window is dropped first.
func (l *Limiter) CheckAttempts(ctx context.Context, phoneNumber string) (int, error) {
	rec, err := l.liveAttempt(ctx, phoneNumber)
	if err != nil {
		return 0, err
	}

	count := 0
	if rec != nil {
		count = rec.Count
	}
	if count >= l.config.MaxAttempts {
		return 0, ErrTooManyAttempts
	}
	return l.config.MaxAttempts - count, nil
}

// RecordFailure counts a wrong code and returns the attempts left, floored at zero.
func (l *Limiter) RecordFailure(ctx context.Context, phoneNumber string) (int, error) {
	rec, err := l.liveAttempt(ctx, phoneNumber)
	if err != nil {
		return 0, err
	}

	next := models.AttemptRecord{Count: 1, LastAttempt: l.now()}
	if rec != nil {
		next.Count = rec.Count + 1
	}
	if err := l.store.SaveAttempt(ctx, phoneNumber, next); err != nil {
		return 0, err
	}

	remaining := l.config.MaxAttempts - next.Count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears both records; called once a number is verified.
func (l *Limiter) Reset(ctx context.Context, phoneNumber string) error {
	if err := l.store.DeleteAttempt(ctx, phoneNumber); err != nil {
		return err
	}
	return l.store.DeleteResend(ctx, phoneNumber)
}

func (l *Limiter) ResetAttempts(ctx context.Context, phoneNumber string) error {
	return l.store.DeleteAttempt(ctx, phoneNumber)
}

// RemainingCooldown is zero when no cooldown is running.
func (l *Limiter) RemainingCooldown(ctx context.Context, phoneNumber string) (time.Duration, error) {
	rec, err := l.store.GetResend(ctx, phoneNumber)
	if err != nil || rec == nil {
		return 0, err
	}

	remaining := rec.LastSent.Add(l.config.ResendCooldown).Sub(l.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Sweep drops attempt records older than the attempt window and resend
// records older than twice the cooldown.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	now := l.now()
	return l.store.Sweep(ctx, now.Add(-l.config.AttemptWindow), now.Add(-2*l.config.ResendCooldown))
}

func (l *Limiter) liveAttempt(ctx context.Context, phoneNumber string) (*models.AttemptRecord, error) {
	rec, err := l.store.GetAttempt(ctx, phoneNumber)
	if err != nil || rec == nil {
		return nil, err
	}

	if l.now().Sub(rec.LastAttempt) > l.config.AttemptWindow {
		if err := l.store.DeleteAttempt(ctx, phoneNumber); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}
