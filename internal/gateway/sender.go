package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/attendly/phoneauth/internal/phone"
	"github.com/sirupsen/logrus"
)

// LogSender writes codes to the log instead of sending them. Development only.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phoneNumber, code string) error {
	s.logger.WithFields(logrus.Fields{
		"phone": phone.Mask(phoneNumber),
		"otp":   code,
	}).Info("OTP generated (logged for development)")
	return nil
}

// WebhookSender posts the message to an SMS provider webhook.
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
	logger *logrus.Logger
}

type smsMessage struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func NewWebhookSender(url, token string, timeout time.Duration, logger *logrus.Logger) *WebhookSender {
	return &WebhookSender{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (s *WebhookSender) Send(ctx context.Context, phoneNumber, code string) error {
	body, err := json.Marshal(smsMessage{
		To:      phoneNumber,
		Message: fmt.Sprintf("Your Attendly verification code is %s", code),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"phone":  phone.Mask(phoneNumber),
		}).Warn("SMS webhook rejected message")
		return fmt.Errorf("sms webhook returned status %d", resp.StatusCode)
	}
	return nil
}
