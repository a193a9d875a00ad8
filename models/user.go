package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the spec's User entity (§3): identity, soft-delete, admin/ban
// flags, and the cached gold balance. Password is carried for the
// local/dev identity-provider stand-in (see auth package); a real
// deployment delegates authentication entirely per §1/§6.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	Password     string     `json:"-" db:"password_hash"`
	Email        string     `json:"email" db:"email"`
	DisplayName  string     `json:"display_name" db:"display_name"`
	IsAdmin      bool       `json:"is_admin" db:"is_admin"`
	IsBanned     bool       `json:"is_banned" db:"is_banned"`
	IsDeleted    bool       `json:"-" db:"is_deleted"`
	GoldBalance  int        `json:"gold_balance" db:"gold_balance"`
	LastLoginAt  time.Time  `json:"last_login_at" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

func NewUser(username, passwordHash, email string) *User {
	now := time.Now().UTC()
	return &User{
		ID:          uuid.New(),
		Username:    username,
		Password:    passwordHash,
		Email:       email,
		DisplayName: username,
		LastLoginAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
