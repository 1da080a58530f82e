package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/attendly/phoneauth/internal/config"
	"github.com/attendly/phoneauth/internal/gateway"
	"github.com/attendly/phoneauth/internal/models"
	"github.com/attendly/phoneauth/internal/phone"
	"github.com/attendly/phoneauth/internal/ratelimit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPhone = "+919876543210"
	goodCode  = "123456"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGateway struct {
	sendErr    error
	panicOn    string
	sent       []string
	checkCalls int
}

func (g *fakeGateway) SendCode(_ context.Context, phoneNumber string) (string, error) {
	if g.panicOn == "send" {
		panic("boom")
	}
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.sent = append(g.sent, phoneNumber)
	return fmt.Sprintf("vid-%d", len(g.sent)), nil
}

func (g *fakeGateway) CheckCode(_ context.Context, verificationID, phoneNumber, code string) error {
	g.checkCalls++
	var n int
	if _, err := fmt.Sscanf(verificationID, "vid-%d", &n); err != nil || n < 1 || n > len(g.sent) || g.sent[n-1] != phoneNumber {
		return gateway.ErrCodeNotFound
	}
	if code != goodCode {
		return errors.New("invalid verification code")
	}
	return nil
}

type brokenStore struct {
	*ratelimit.MemoryStore
}

func (brokenStore) GetResend(context.Context, string) (*models.ResendRecord, error) {
	return nil, ratelimit.ErrStoreUnavailable
}

func (brokenStore) GetAttempt(context.Context, string) (*models.AttemptRecord, error) {
	return nil, ratelimit.ErrStoreUnavailable
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type harness struct {
	svc   *OTPService
	gw    *fakeGateway
	clock *fakeClock
	store *ratelimit.MemoryStore
	cfg   *config.OTPConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

func newHarnessWithStore(t *testing.T, store ratelimit.Store) *harness {
	t.Helper()

	mem := ratelimit.NewMemoryStore()
	if store == nil {
		store = mem
	}
	cfg := &config.OTPConfig{
		MaxAttempts:    3,
		ResendCooldown: 60 * time.Second,
		AttemptWindow:  time.Hour,
		CountryCode:    "91",
	}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	limiter := ratelimit.New(store, ratelimit.Config{
		MaxAttempts:    cfg.MaxAttempts,
		ResendCooldown: cfg.ResendCooldown,
		AttemptWindow:  cfg.AttemptWindow,
	}).WithClock(clock.Now)
	gw := &fakeGateway{}

	return &harness{
		svc:   NewOTPService(limiter, gw, phone.NewNormalizer(cfg.CountryCode), cfg, quietLogger()),
		gw:    gw,
		clock: clock,
		store: mem,
		cfg:   cfg,
	}
}

func TestSendOTPNormalizesAndSucceeds(t *testing.T) {
	h := newHarness(t)

	res := h.svc.SendOTP(context.Background(), "98765 43210")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "vid-1", res.VerificationID)
	assert.Equal(t, []string{testPhone}, h.gw.sent)
	require.NotNil(t, res.RemainingAttempts)
	assert.Equal(t, 3, *res.RemainingAttempts)
	assert.Nil(t, res.CanResendAt)
}

func TestSendOTPRateLimitedWithinCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.clock.Now()

	require.True(t, h.svc.SendOTP(ctx, "9876543210").Success)

	h.clock.Advance(30 * time.Second)
	res := h.svc.SendOTP(ctx, "9876543210")
	assert.False(t, res.Success)
	assert.Equal(t, models.ErrCodeRateLimited, res.Code)
	require.NotNil(t, res.CanResendAt)
	assert.Equal(t, start.Add(60*time.Second), *res.CanResendAt)
	assert.Contains(t, res.Error, "30 seconds")
	assert.Len(t, h.gw.sent, 1, "gateway not called while rate limited")

	h.clock.Advance(30 * time.Second)
	assert.True(t, h.svc.SendOTP(ctx, "9876543210").Success)
}

func TestSendOTPGatewayFailureKeepsNoCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.sendErr = errors.New("quota exceeded for project")

	res := h.svc.SendOTP(ctx, testPhone)
	assert.False(t, res.Success)
	assert.Equal(t, models.ErrCodeGatewayFailure, res.Code)
	assert.Equal(t, "quota exceeded for project", res.Error)

	_, resends := h.store.Len()
	assert.Zero(t, resends)
	assert.Zero(t, h.svc.RemainingCooldownSeconds(ctx, testPhone))

	h.gw.sendErr = nil
	assert.True(t, h.svc.SendOTP(ctx, testPhone).Success)
}

func TestSendOTPRejectsInvalidPhone(t *testing.T) {
	h := newHarness(t)

	for _, in := range []string{"123", "", "+1 555 010 9999"} {
		res := h.svc.SendOTP(context.Background(), in)
		assert.False(t, res.Success)
		assert.Equal(t, models.ErrCodeInvalidPhone, res.Code, in)
	}
	assert.Empty(t, h.gw.sent)
}

func TestVerifyOTPLocksAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	send := h.svc.SendOTP(ctx, testPhone)
	require.True(t, send.Success)

	for want := 2; want >= 0; want-- {
		res := h.svc.VerifyOTP(ctx, send.VerificationID, "000000", testPhone)
		assert.False(t, res.Success)
		assert.Equal(t, models.ErrCodeGatewayFailure, res.Code)
		assert.Equal(t, "invalid verification code", res.Error)
		require.NotNil(t, res.RemainingAttempts)
		assert.Equal(t, want, *res.RemainingAttempts)
		h.clock.Advance(5 * time.Minute)
	}

	res := h.svc.VerifyOTP(ctx, send.VerificationID, goodCode, testPhone)
	assert.False(t, res.Success, "correct code is refused once locked")
	assert.Equal(t, models.ErrCodeTooManyAttempts, res.Code)
	require.NotNil(t, res.RemainingAttempts)
	assert.Zero(t, *res.RemainingAttempts)
	assert.Equal(t, 3, h.gw.checkCalls, "gateway not consulted while locked")
}

func TestVerifyOTPLockoutSurvivesFreshSend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, h.svc.SendOTP(ctx, testPhone).Success)
	for i := 0; i < 3; i++ {
		h.svc.VerifyOTP(ctx, "vid-1", "000000", testPhone)
	}

	h.clock.Advance(2 * time.Minute)
	send := h.svc.SendOTP(ctx, testPhone)
	require.True(t, send.Success)
	require.NotNil(t, send.RemainingAttempts)
	assert.Zero(t, *send.RemainingAttempts)

	res := h.svc.VerifyOTP(ctx, send.VerificationID, goodCode, testPhone)
	assert.Equal(t, models.ErrCodeTooManyAttempts, res.Code)

	h.clock.Advance(time.Hour)
	res = h.svc.VerifyOTP(ctx, send.VerificationID, goodCode, testPhone)
	assert.True(t, res.Success, "attempt record ages out after the window")
}

func TestVerifyOTPResetAttemptsOnSend(t *testing.T) {
	h := newHarness(t)
	h.cfg.ResetAttemptsOnSend = true
	ctx := context.Background()

	require.True(t, h.svc.SendOTP(ctx, testPhone).Success)
	for i := 0; i < 3; i++ {
		h.svc.VerifyOTP(ctx, "vid-1", "000000", testPhone)
	}

	h.clock.Advance(2 * time.Minute)
	send := h.svc.SendOTP(ctx, testPhone)
	require.True(t, send.Success)
	assert.Equal(t, 3, *send.RemainingAttempts)
	assert.True(t, h.svc.VerifyOTP(ctx, send.VerificationID, goodCode, testPhone).Success)
}

func TestVerifyOTPSuccessClearsRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	send := h.svc.SendOTP(ctx, testPhone)
	require.True(t, send.Success)
	h.svc.VerifyOTP(ctx, send.VerificationID, "000000", "9876543210")

	res := h.svc.VerifyOTP(ctx, send.VerificationID, goodCode, "919876543210")
	require.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, testPhone, res.PhoneNumber)

	attempts, resends := h.store.Len()
	assert.Zero(t, attempts)
	assert.Zero(t, resends)

	again := h.svc.SendOTP(ctx, testPhone)
	assert.True(t, again.Success, "no cooldown after a successful verification")
}

func TestRemainingCooldownSeconds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Zero(t, h.svc.RemainingCooldownSeconds(ctx, testPhone))
	require.True(t, h.svc.SendOTP(ctx, testPhone).Success)
	assert.Equal(t, 60, h.svc.RemainingCooldownSeconds(ctx, testPhone))

	prev := 61
	for i := 0; i < 12; i++ {
		got := h.svc.RemainingCooldownSeconds(ctx, testPhone)
		assert.Positive(t, got)
		assert.Less(t, got, prev)
		prev = got
		h.clock.Advance(4500 * time.Millisecond)
	}

	h.clock.Advance(6 * time.Second)
	assert.Zero(t, h.svc.RemainingCooldownSeconds(ctx, testPhone))
	assert.Zero(t, h.svc.RemainingCooldownSeconds(ctx, "123"))
}

func TestStoreFailuresBecomeUnexpected(t *testing.T) {
	h := newHarnessWithStore(t, brokenStore{ratelimit.NewMemoryStore()})
	ctx := context.Background()

	send := h.svc.SendOTP(ctx, testPhone)
	assert.False(t, send.Success)
	assert.Equal(t, models.ErrCodeUnexpected, send.Code)
	assert.Equal(t, msgUnexpected, send.Error)

	verify := h.svc.VerifyOTP(ctx, "vid-1", goodCode, testPhone)
	assert.Equal(t, models.ErrCodeUnexpected, verify.Code)

	assert.Zero(t, h.svc.RemainingCooldownSeconds(ctx, testPhone))
}

func TestSendOTPRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.gw.panicOn = "send"

	res := h.svc.SendOTP(context.Background(), testPhone)
	assert.False(t, res.Success)
	assert.Equal(t, models.ErrCodeUnexpected, res.Code)
}

func TestNormalizePhone(t *testing.T) {
	h := newHarness(t)
	got, err := h.svc.NormalizePhone("919876543210")
	require.NoError(t, err)
	assert.Equal(t, testPhone, got)

	_, err = h.svc.NormalizePhone("123")
	assert.ErrorIs(t, err, phone.ErrInvalidPhoneNumber)
}
