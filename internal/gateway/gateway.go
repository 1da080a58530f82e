// Package gateway dispatches SMS verification codes and checks submitted codes.
package gateway

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/attendly/phoneauth/internal/models"
	"github.com/attendly/phoneauth/internal/phone"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrCodeNotFound = errors.New("verification code not found or expired")
	ErrCodeExpired  = errors.New("verification code has expired")
	ErrInvalidCode  = errors.New("invalid verification code")
	ErrDelivery     = errors.New("failed to deliver verification code")
)

// Gateway is the phone auth provider behind the OTP service.
type Gateway interface {
	SendCode(ctx context.Context, phoneNumber string) (verificationID string, err error)
	// CheckCode fails unless the code was issued to phoneNumber.
	CheckCode(ctx context.Context, verificationID, phoneNumber, code string) error
}

// CodeStore persists hashed codes by verification ID. Get returns
// ErrCodeNotFound for unknown IDs.
type CodeStore interface {
	Store(ctx context.Context, data models.OTPData) error
	Get(ctx context.Context, verificationID string) (*models.OTPData, error)
	Delete(ctx context.Context, verificationID string) error
}

// Sender delivers a code to a phone number.
type Sender interface {
	Send(ctx context.Context, phoneNumber, code string) error
}

type Config struct {
	CodeLength int
	Expiry     time.Duration
	// HashCost defaults to bcrypt.DefaultCost.
	HashCost int
}

// CodeGateway generates codes itself and keeps only their bcrypt hash.
type CodeGateway struct {
	store  CodeStore
	sender Sender
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
}

func NewCodeGateway(store CodeStore, sender Sender, cfg Config, logger *logrus.Logger) *CodeGateway {
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &CodeGateway{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (g *CodeGateway) SendCode(ctx context.Context, phoneNumber string) (string, error) {
	code, err := generateCode(g.cfg.CodeLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(code), g.cfg.HashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := g.now()
	data := models.OTPData{
		VerificationID: uuid.New().String(),
		OTPHash:        string(hashed),
		Phone:          phoneNumber,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.cfg.Expiry),
	}

	if err := g.store.Store(ctx, data); err != nil {
		return "", err
	}

	if err := g.sender.Send(ctx, phoneNumber, code); err != nil {
		g.logger.WithError(err).WithField("phone", phone.Mask(phoneNumber)).Error("Failed to deliver OTP")
		if delErr := g.store.Delete(ctx, data.VerificationID); delErr != nil {
			g.logger.WithError(delErr).Warn("Failed to discard undelivered OTP")
		}
		return "", ErrDelivery
	}

	return data.VerificationID, nil
}

func (g *CodeGateway) CheckCode(ctx context.Context, verificationID, phoneNumber, code string) error {
	data, err := g.store.Get(ctx, verificationID)
	if err != nil {
		return err
	}

	// a verification ID only ever proves the number it was sent to
	if subtle.ConstantTimeCompare([]byte(data.Phone), []byte(phoneNumber)) != 1 {
		g.logger.WithFields(logrus.Fields{
			"phone":       phone.Mask(phoneNumber),
			"bound_phone": phone.Mask(data.Phone),
		}).Warn("OTP checked against a different phone number")
		return ErrCodeNotFound
	}

	if g.now().After(data.ExpiresAt) {
		if err := g.store.Delete(ctx, verificationID); err != nil {
			g.logger.WithError(err).Warn("Failed to delete expired OTP")
		}
		return ErrCodeExpired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(data.OTPHash), []byte(code)); err != nil {
		return ErrInvalidCode
	}

	if err := g.store.Delete(ctx, verificationID); err != nil {
		g.logger.WithError(err).Warn("Failed to delete used OTP")
	}
	return nil
}

func generateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
