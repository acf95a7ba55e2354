// Package refreshtokens stores the refresh half of issued token pairs.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/casesync/internal/server/models"
)

// Repository issues and rotates refresh tokens. Tokens are single use:
// Consume removes the token it returns.
type Repository interface {
	Create(ctx context.Context, userID, token string, expiresAt time.Time) error

	// Consume deletes token and returns the row it had. Unknown tokens
	// yield common.ErrorNotFound.
	Consume(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteExpired purges tokens that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
