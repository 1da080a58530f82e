package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/attendly/phoneauth/internal/models"
)

var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Store persists per-phone attempt and resend records. Get methods return
// nil, nil when no record exists.
type Store interface {
	GetAttempt(ctx context.Context, phoneNumber string) (*models.AttemptRecord, error)
	SaveAttempt(ctx context.Context, phoneNumber string, rec models.AttemptRecord) error
	DeleteAttempt(ctx context.Context, phoneNumber string) error

	GetResend(ctx context.Context, phoneNumber string) (*models.ResendRecord, error)
	SaveResend(ctx context.Context, phoneNumber string, rec models.ResendRecord) error
	DeleteResend(ctx context.Context, phoneNumber string) error

	// Sweep removes attempt records last touched before attemptsBefore and
	// resend records sent before resendsBefore. It returns how many were removed.
	Sweep(ctx context.Context, attemptsBefore, resendsBefore time.Time) (int, error)
}
