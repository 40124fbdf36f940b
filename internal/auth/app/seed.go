package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
	"github.com/parclabs/keygate/pkg/cryptox"
)

// seedClient registers the configured dev/e2e client when
// AUTH_SEED_CLIENT_ID is set. Already registered ids are left alone
// so restarts are idempotent.
func (app *Application) seedClient(ctx context.Context) error {
	if app.cfg.SeedClientID == "" {
		return nil
	}
	if app.cfg.SeedClientSecret == "" {
		return errors.New("AUTH_SEED_CLIENT_ID is set but AUTH_SEED_CLIENT_SECRET is empty")
	}

	if _, err := app.db.Clients().GetClientByID(ctx, app.cfg.SeedClientID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up seed client: %w", err)
	}

	hashed, err := cryptox.HashSecret(app.cfg.SeedClientSecret)
	if err != nil {
		return fmt.Errorf("failed to hash seed client secret: %w", err)
	}

	now := time.Now().UTC()
	client := domain.Client{
		ID:                  app.cfg.SeedClientID,
		Name:                "Seed Client",
		Enabled:             true,
		RequireClientSecret: true,
		Secrets: []domain.ClientSecret{
			{Kind: domain.SecretKindShared, Value: hashed},
		},
		AllowedGrantTypes: []string{
			domain.GrantTypeClientCredentials,
			domain.GrantTypeRefreshToken,
			domain.GrantTypeDeviceCode,
		},
		AllowedScopes:          []string{"openid", "profile", "email"},
		AccessTokenTTL:         app.cfg.AccessTokenTTL,
		RefreshTokenUsage:      domain.RefreshUsageOneTimeOnly,
		RefreshTokenExpiration: domain.RefreshExpirationAbsolute,
		AbsoluteRefreshTTL:     30 * 24 * time.Hour,
		SlidingRefreshTTL:      15 * 24 * time.Hour,
		DeviceCodeTTL:          app.cfg.DeviceCodeTTL,
		RedirectURIs:           []string{"http://localhost/callback"},
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := app.db.Clients().CreateClient(ctx, client); err != nil {
		return fmt.Errorf("failed to seed client: %w", err)
	}

	app.logger.Info("seed client registered", "client_id", client.ID)
	return nil
}
