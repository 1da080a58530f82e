package service

import (
	"fmt"
	"time"

	"github.com/attendly/phoneauth/internal/config"
	"github.com/attendly/phoneauth/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	tokenTypeAccess = "access"
	tokenIssuer     = "attendly-phoneauth"
)

// TokenService signs the access token handed out once a phone number is verified.
type TokenService struct {
	secretKey    []byte
	accessExpiry time.Duration
	logger       *logrus.Logger
	now          func() time.Time
}

func NewTokenService(cfg *config.JWTConfig, logger *logrus.Logger) (*TokenService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &TokenService{
		secretKey:    secretKey,
		accessExpiry: cfg.AccessExpiry,
		logger:       logger,
		now:          time.Now,
	}, nil
}

type Claims struct {
	Phone  string `json:"phone"`
	UserID string `json:"uid"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

func (s *TokenService) IssueAccessToken(user *models.User) (*models.AccessToken, error) {
	now := s.now()
	claims := &Claims{
		Phone:  user.PhoneNumber,
		UserID: user.ID,
		Type:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &models.AccessToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessExpiry.Seconds()),
	}, nil
}

func (s *TokenService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("unexpected token type %q", claims.Type)
	}

	return claims, nil
}
