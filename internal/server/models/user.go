package models

import "time"

// User is an account allowed to sync. Passwords are stored as bcrypt hashes.
type User struct {
	ID           string
	UserName     string
	PasswordHash []byte
	CreatedAt    time.Time
}
