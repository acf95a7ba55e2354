// Package services holds the device side workflows: signing in, moving
// cases between the local store and the server, and reporting state.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/casesync/internal/client/client"
	"github.com/dmitrijs2005/casesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// AuthService keeps the device signed in across runs by persisting the
// token pair in the local store.
type AuthService struct {
	client client.Client
	store  *client.Store
}

func NewAuthService(c client.Client, s *client.Store) *AuthService {
	return &AuthService{client: c, store: s}
}

// Login exchanges credentials for a token pair and stores it.
func (a *AuthService) Login(ctx context.Context, username, password string) error {
	t, err := a.client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login error: %w", err)
	}
	return a.store.InTx(ctx, func(ctx context.Context, tx *client.Store) error {
		if err := tx.Metadata.Set(ctx, metadata.KeyUserName, []byte(username)); err != nil {
			return err
		}
		return saveTokens(ctx, tx.Metadata, t)
	})
}

// Restore loads the stored tokens into the client and returns the user
// they belong to.
func (a *AuthService) Restore(ctx context.Context) (string, error) {
	user, err := a.store.Metadata.Get(ctx, metadata.KeyUserName)
	if err != nil {
		return "", err
	}
	raw, err := a.store.Metadata.Get(ctx, metadata.KeyToken)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", ErrNotLoggedIn
	}
	var t wire.Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", fmt.Errorf("stored token: %w", err)
	}
	a.client.SetTokens(&t)
	return string(user), nil
}

// SaveTokens persists a refreshed pair. It is meant as the client's
// OnTokens callback.
func (a *AuthService) SaveTokens(ctx context.Context, t *wire.Token) error {
	return saveTokens(ctx, a.store.Metadata, t)
}

func (a *AuthService) Logout(ctx context.Context) error {
	a.client.SetTokens(nil)
	return a.store.Metadata.Delete(ctx, metadata.KeyUserName, metadata.KeyToken)
}

// saveTokens stores the whole pair under one key so a crash never leaves
// a new access token next to an old refresh token.
func saveTokens(ctx context.Context, repo metadata.Repository, t *wire.Token) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return repo.Set(ctx, metadata.KeyToken, b)
}
