package users

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id string, hash []byte) error
	Count(ctx context.Context) (int64, error)
}
