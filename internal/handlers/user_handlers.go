package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/attendly/phoneauth/internal/middleware"
	"github.com/attendly/phoneauth/internal/models"
	"github.com/attendly/phoneauth/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type UserResponse struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		PhoneNumber: u.PhoneNumber,
		Name:        u.Name,
		CreatedAt:   u.CreatedAt,
	}
}

type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,max=80"`
}

type UserHandlers struct {
	users    UserStore
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewUserHandlers(users UserStore, logger *logrus.Logger) *UserHandlers {
	return &UserHandlers{
		users:    users,
		validate: newValidator(),
		logger:   logger,
	}
}

func (h *UserHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, newUserResponse(user))
}

func (h *UserHandlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", validationMessage(err))
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	user.Name = req.Name
	if err := h.users.Update(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
			return
		}
		h.logger.WithError(err).Error("Failed to update user")
		respondWithError(w, http.StatusInternalServerError, "USER_UPDATE_FAILED", "Failed to update user")
		return
	}

	respondWithJSON(w, http.StatusOK, newUserResponse(user))
}

func (h *UserHandlers) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return nil, false
	}

	user, err := h.users.GetByPhoneNumber(r.Context(), claims.Phone)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user")
		respondWithError(w, http.StatusInternalServerError, "USER_LOOKUP_FAILED", "Failed to load user")
		return nil, false
	}
	if user == nil || user.ID != claims.UserID {
		respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return nil, false
	}
	return user, true
}
