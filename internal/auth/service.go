package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrInvalidCredentials covers both a wrong password and a malformed stored
// hash, so login responses never reveal which one it was.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims is the token payload. There is a single operator identity; the
// machine runs unattended and does not need per-user accounts.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates operator tokens against the configured
// Argon2id password hash.
type Service struct {
	secret       []byte
	tokenTTL     time.Duration
	operatorHash string
	logger       *zap.Logger
}

func NewService(secret string, tokenTTL time.Duration, operatorHash string, logger *zap.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Service{
		secret:       []byte(secret),
		tokenTTL:     tokenTTL,
		operatorHash: operatorHash,
		logger:       logger,
	}
}

// Enabled reports whether authentication is configured. With no secret or
// no operator hash the API runs open, which is the expected mode on an
// air-gapped lab network.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0 && s.operatorHash != ""
}

// Login verifies the operator password and returns a signed token.
func (s *Service) Login(password string) (string, error) {
	ok, err := VerifyPassword(password, s.operatorHash)
	if err != nil {
		s.logger.Warn("Operator hash could not be verified", zap.Error(err))
		return "", ErrInvalidCredentials
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    "prepcore",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and verifies a token issued by Login.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
