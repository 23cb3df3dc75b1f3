package domain

import "time"

type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string // bcrypt encoded
	EmailVerified bool
	IsActive      bool
	LastLoginAt   *time.Time // nil until the first successful login
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
