package models

import "github.com/google/uuid"

// Role роль пользователя
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Identity аутентифицированный пользователь запроса
type Identity struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsAdmin проверяет роль администратора
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
