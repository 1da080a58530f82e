package models

import "time"

// OTPData is a stored verification code, keyed by its verification ID.
type OTPData struct {
	VerificationID string    `json:"verification_id" dynamodbav:"verification_id"`
	OTPHash        string    `json:"otp_hash" dynamodbav:"otp_hash"`
	Phone          string    `json:"phone" dynamodbav:"phone"`
	CreatedAt      time.Time `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" dynamodbav:"expires_at"`
}

// AttemptRecord counts failed verifications for one phone number.
type AttemptRecord struct {
	Count       int       `json:"count"`
	LastAttempt time.Time `json:"last_attempt"`
}

// ResendRecord remembers when a code was last dispatched to a phone number.
type ResendRecord struct {
	LastSent time.Time `json:"last_sent"`
}

type ErrorCode string

const (
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeTooManyAttempts ErrorCode = "TOO_MANY_ATTEMPTS"
	ErrCodeGatewayFailure  ErrorCode = "GATEWAY_FAILURE"
	ErrCodeInvalidPhone    ErrorCode = "INVALID_PHONE"
	ErrCodeUnexpected      ErrorCode = "UNEXPECTED_ERROR"
)

type SendResult struct {
	Success           bool       `json:"success"`
	VerificationID    string     `json:"verification_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	Code              ErrorCode  `json:"code,omitempty"`
	RemainingAttempts *int       `json:"remaining_attempts,omitempty"`
	CanResendAt       *time.Time `json:"can_resend_at,omitempty"`
}

type VerifyResult struct {
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	Code              ErrorCode `json:"code,omitempty"`
	RemainingAttempts *int      `json:"remaining_attempts,omitempty"`
	// PhoneNumber is the verified number, set only on success.
	PhoneNumber       string    `json:"-"`
}
