package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/models"
)

// ErrInvalidToken токен не прошел проверку
var ErrInvalidToken = errors.New("invalid token")

// JWTService отвечает за создание и валидацию JWT токенов
type JWTService struct {
	secretKey string
	ttl       time.Duration
}

// NewJWTService создаёт новый экземпляр JWTService
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{secretKey: secretKey, ttl: 24 * time.Hour}
}

// GenerateToken создаёт JWT токен
func (s *JWTService) GenerateToken(userID uuid.UUID, role models.Role) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"role": string(role),
		"exp":  time.Now().Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// ValidateToken проверяет JWT токен
func (s *JWTService) ValidateToken(tokenString string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secretKey), nil
	})
}

// ExtractIdentity проверяет токен и достает пользователя и роль.
// Идентификатор ищется в claims sub, id, user_id.
func (s *JWTService) ExtractIdentity(tokenString string) (models.Identity, error) {
	token, err := s.ValidateToken(tokenString)
	if err != nil || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, ErrInvalidToken
	}

	var raw string
	for _, key := range []string{"sub", "id", "user_id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			raw = v
			break
		}
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return models.Identity{}, ErrInvalidToken
	}

	role := models.RoleUser
	if r, ok := claims["role"].(string); ok && models.Role(r) == models.RoleAdmin {
		role = models.RoleAdmin
	}
	return models.Identity{ID: userID, Role: role}, nil
}
