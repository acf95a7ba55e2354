package models

import "time"

// RefreshToken is a stored refresh token. Only a hash of the token is
// kept, so a leaked table cannot be replayed.
type RefreshToken struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
