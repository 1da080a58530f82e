package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/attendly/phoneauth/internal/config"
	"github.com/attendly/phoneauth/internal/gateway"
	"github.com/attendly/phoneauth/internal/models"
	"github.com/attendly/phoneauth/internal/phone"
	"github.com/attendly/phoneauth/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

const (
	msgInvalidPhone    = "Please enter a valid phone number."
	msgTooManyAttempts = "Too many failed attempts. Please try again later."
	msgUnexpected      = "Something went wrong. Please try again."
)

// OTPService is the onboarding flow's entry point for phone verification.
// It never returns errors; every outcome is a result object.
type OTPService struct {
	limiter    *ratelimit.Limiter
	gateway    gateway.Gateway
	normalizer *phone.Normalizer
	cfg        *config.OTPConfig
	logger     *logrus.Logger
}

func NewOTPService(
	limiter *ratelimit.Limiter,
	gw gateway.Gateway,
	normalizer *phone.Normalizer,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		limiter:    limiter,
		gateway:    gw,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *OTPService) SendOTP(ctx context.Context, phoneNumber string) (result *models.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Unexpected panic while sending OTP")
			result = &models.SendResult{Error: msgUnexpected, Code: models.ErrCodeUnexpected}
		}
	}()

	normalized, err := s.normalizer.Validate(phoneNumber)
	if err != nil {
		return &models.SendResult{Error: msgInvalidPhone, Code: models.ErrCodeInvalidPhone}
	}
	log := s.logger.WithField("phone", phone.Mask(normalized))

	allowedAt, err := s.limiter.CheckResend(ctx, normalized)
	if errors.Is(err, ratelimit.ErrResendCooldown) {
		wait := int(math.Ceil(allowedAt.Sub(s.limiter.Now()).Seconds()))
		if wait < 1 {
			wait = 1
		}
		log.WithField("can_resend_at", allowedAt).Info("OTP resend rate limited")
		return &models.SendResult{
			Error:       fmt.Sprintf("Please wait %d seconds before requesting a new code.", wait),
			Code:        models.ErrCodeRateLimited,
			CanResendAt: &allowedAt,
		}
	}
	if err != nil {
		log.WithError(err).Error("Failed to check resend cooldown")
		return &models.SendResult{Error: msgUnexpected, Code: models.ErrCodeUnexpected}
	}

	verificationID, err := s.gateway.SendCode(ctx, normalized)
	if err != nil {
		log.WithError(err).Warn("Gateway failed to send OTP")
		return &models.SendResult{Error: err.Error(), Code: models.ErrCodeGatewayFailure}
	}

	swept, err := s.limiter.RecordSend(ctx, normalized)
	switch {
	case errors.Is(err, ratelimit.ErrSweepFailed):
		// cooldown is saved
		log.WithError(err).Warn("Failed to sweep stale rate limit records")
	case err != nil:
		// the code is already out; a lost cooldown is not worth failing the send
		log.WithError(err).Warn("Failed to record OTP send")
	case swept > 0:
		log.WithField("swept", swept).Debug("Swept stale rate limit records")
	}

	if s.cfg.ResetAttemptsOnSend {
		if err := s.limiter.ResetAttempts(ctx, normalized); err != nil {
			log.WithError(err).Warn("Failed to reset attempts after send")
		}
	}

	result = &models.SendResult{Success: true, VerificationID: verificationID}
	if remaining, err := s.limiter.CheckAttempts(ctx, normalized); err == nil || errors.Is(err, ratelimit.ErrTooManyAttempts) {
		result.RemainingAttempts = &remaining
	}

	log.Info("OTP sent")
	return result
}

func (s *OTPService) VerifyOTP(ctx context.Context, verificationID, code, phoneNumber string) (result *models.VerifyResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Unexpected panic while verifying OTP")
			result = &models.VerifyResult{Error: msgUnexpected, Code: models.ErrCodeUnexpected}
		}
	}()

	normalized, err := s.normalizer.Validate(phoneNumber)
	if err != nil {
		return &models.VerifyResult{Error: msgInvalidPhone, Code: models.ErrCodeInvalidPhone}
	}
	log := s.logger.WithField("phone", phone.Mask(normalized))

	_, err = s.limiter.CheckAttempts(ctx, normalized)
	if errors.Is(err, ratelimit.ErrTooManyAttempts) {
		log.Warn("OTP verification locked out")
		zero := 0
		return &models.VerifyResult{
			Error:             msgTooManyAttempts,
			Code:              models.ErrCodeTooManyAttempts,
			RemainingAttempts: &zero,
		}
	}
	if err != nil {
		log.WithError(err).Error("Failed to check attempt budget")
		return &models.VerifyResult{Error: msgUnexpected, Code: models.ErrCodeUnexpected}
	}

	if err := s.gateway.CheckCode(ctx, verificationID, normalized, code); err != nil {
		remaining, recErr := s.limiter.RecordFailure(ctx, normalized)
		if recErr != nil {
			log.WithError(recErr).Error("Failed to record failed attempt")
			return &models.VerifyResult{Error: msgUnexpected, Code: models.ErrCodeUnexpected}
		}
		log.WithError(err).WithField("remaining_attempts", remaining).Info("OTP verification failed")
		return &models.VerifyResult{
			Error:             err.Error(),
			Code:              models.ErrCodeGatewayFailure,
			RemainingAttempts: &remaining,
		}
	}

	if err := s.limiter.Reset(ctx, normalized); err != nil {
		log.WithError(err).Warn("Failed to clear rate limit records after verification")
	}

	log.Info("OTP verified")
	return &models.VerifyResult{Success: true, PhoneNumber: normalized}
}

// RemainingCooldownSeconds rounds up, so it only reaches 0 once a resend
// is actually allowed. Invalid numbers and store errors report 0.
func (s *OTPService) RemainingCooldownSeconds(ctx context.Context, phoneNumber string) int {
	normalized, err := s.normalizer.Validate(phoneNumber)
	if err != nil {
		return 0
	}

	remaining, err := s.limiter.RemainingCooldown(ctx, normalized)
	if err != nil {
		s.logger.WithError(err).WithField("phone", phone.Mask(normalized)).Warn("Failed to read resend cooldown")
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// NormalizePhone exposes the canonical form used as the rate limit key.
func (s *OTPService) NormalizePhone(phoneNumber string) (string, error) {
	return s.normalizer.Validate(phoneNumber)
}
