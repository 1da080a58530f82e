package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/attendly/phoneauth/internal/models"
	"github.com/attendly/phoneauth/internal/phone"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type OTPService interface {
	SendOTP(ctx context.Context, phoneNumber string) *models.SendResult
	VerifyOTP(ctx context.Context, verificationID, code, phoneNumber string) *models.VerifyResult
	RemainingCooldownSeconds(ctx context.Context, phoneNumber string) int
	NormalizePhone(phoneNumber string) (string, error)
}

type UserStore interface {
	GetOrCreate(ctx context.Context, phoneNumber string) (*models.User, error)
	GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

type TokenIssuer interface {
	IssueAccessToken(user *models.User) (*models.AccessToken, error)
}

type OTPHandlers struct {
	otpService OTPService
	users      UserStore
	tokens     TokenIssuer
	validate   *validator.Validate
	logger     *logrus.Logger
}

func NewOTPHandlers(otpService OTPService, users UserStore, tokens TokenIssuer, logger *logrus.Logger) *OTPHandlers {
	return &OTPHandlers{
		otpService: otpService,
		users:      users,
		tokens:     tokens,
		validate:   newValidator(),
		logger:     logger,
	}
}

type SendOTPRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
}

type VerifyOTPRequest struct {
	VerificationID string `json:"verification_id" validate:"required"`
	Code           string `json:"code" validate:"required,numeric,min=4,max=8"`
	PhoneNumber    string `json:"phone_number" validate:"required"`
}

type VerifyOTPResponse struct {
	Success     bool         `json:"success"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        UserResponse `json:"user"`
}

type CooldownResponse struct {
	PhoneNumber      string `json:"phone_number"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

func (h *OTPHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", validationMessage(err))
		return
	}

	result := h.otpService.SendOTP(r.Context(), req.PhoneNumber)
	if result.Code == models.ErrCodeRateLimited && result.CanResendAt != nil {
		wait := int(math.Ceil(time.Until(*result.CanResendAt).Seconds()))
		if wait < 1 {
			wait = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(wait))
	}

	respondWithJSON(w, sendStatus(result), result)
}

func (h *OTPHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", validationMessage(err))
		return
	}

	result := h.otpService.VerifyOTP(r.Context(), req.VerificationID, req.Code, req.PhoneNumber)
	if !result.Success {
		respondWithJSON(w, verifyStatus(result), result)
		return
	}

	// the account is the number the code was issued to
	phoneNumber := result.PhoneNumber
	if phoneNumber == "" {
		h.logger.Error("Verified OTP result carries no phone number")
		respondWithError(w, http.StatusInternalServerError, string(models.ErrCodeUnexpected), "Something went wrong. Please try again.")
		return
	}

	user, err := h.users.GetOrCreate(r.Context(), phoneNumber)
	if err != nil {
		h.logger.WithError(err).WithField("phone", phone.Mask(phoneNumber)).Error("Failed to get or create user")
		respondWithError(w, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return
	}

	token, err := h.tokens.IssueAccessToken(user)
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue access token")
		respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate token")
		return
	}

	respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		Success:     true,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
		User:        newUserResponse(user),
	})
}

func (h *OTPHandlers) Cooldown(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("phone_number")
	phoneNumber, err := h.otpService.NormalizePhone(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, string(models.ErrCodeInvalidPhone), "Invalid phone number format")
		return
	}

	respondWithJSON(w, http.StatusOK, CooldownResponse{
		PhoneNumber:      phone.Mask(phoneNumber),
		RemainingSeconds: h.otpService.RemainingCooldownSeconds(r.Context(), phoneNumber),
	})
}

func sendStatus(result *models.SendResult) int {
	if result.Success {
		return http.StatusOK
	}
	return statusForCode(result.Code, http.StatusBadGateway)
}

func verifyStatus(result *models.VerifyResult) int {
	if result.Success {
		return http.StatusOK
	}
	// a wrong or expired code is reported by the gateway
	return statusForCode(result.Code, http.StatusUnauthorized)
}

func statusForCode(code models.ErrorCode, gatewayStatus int) int {
	switch code {
	case models.ErrCodeInvalidPhone:
		return http.StatusBadRequest
	case models.ErrCodeRateLimited, models.ErrCodeTooManyAttempts:
		return http.StatusTooManyRequests
	case models.ErrCodeGatewayFailure:
		return gatewayStatus
	default:
		return http.StatusInternalServerError
	}
}
