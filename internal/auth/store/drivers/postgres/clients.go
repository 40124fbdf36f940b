package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
)

type clientsRepo struct {
	db queryer
}

const clientColumns = `id, name, enabled, require_client_secret, secrets,
	allowed_grant_types, allowed_scopes, allowed_subjects, allowed_roles,
	require_dpop, require_par,
	access_token_ttl_seconds, refresh_token_usage, refresh_token_expiration,
	absolute_refresh_ttl_seconds, sliding_refresh_ttl_seconds,
	device_code_ttl_seconds, redirect_uris, created_at, updated_at`

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	return scanClient(row)
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	secrets, err := json.Marshal(c.Secrets)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO clients (
			id, name, enabled, require_client_secret, secrets,
			allowed_grant_types, allowed_scopes, allowed_subjects, allowed_roles,
			require_dpop, require_par,
			access_token_ttl_seconds, refresh_token_usage, refresh_token_expiration,
			absolute_refresh_ttl_seconds, sliding_refresh_ttl_seconds,
			device_code_ttl_seconds, redirect_uris, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		c.ID, c.Name, c.Enabled, c.RequireClientSecret, string(secrets),
		joinList(c.AllowedGrantTypes), joinList(c.AllowedScopes),
		joinList(c.AllowedSubjects), joinList(c.AllowedRoles),
		c.RequireDPoP, c.RequirePAR,
		int64(c.AccessTokenTTL.Seconds()),
		string(c.RefreshTokenUsage), string(c.RefreshTokenExpiration),
		int64(c.AbsoluteRefreshTTL.Seconds()), int64(c.SlidingRefreshTTL.Seconds()),
		int64(c.DeviceCodeTTL.Seconds()),
		joinList(c.RedirectURIs), c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	return mapConstraint(err)
}

func (r *clientsRepo) UpdateClientSecrets(ctx context.Context, clientID string, secrets []domain.ClientSecret) error {
	encoded, err := json.Marshal(secrets)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE clients SET secrets = $1, updated_at = $2 WHERE id = $3`,
		string(encoded), time.Now().UTC(), clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *clientsRepo) SetClientEnabled(ctx context.Context, clientID string, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE clients SET enabled = $1, updated_at = $2 WHERE id = $3`,
		enabled, time.Now().UTC(), clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *clientsRepo) DeleteClient(ctx context.Context, clientID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM clients WHERE id = $1`, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (domain.Client, error) {
	var (
		c          domain.Client
		secrets    string
		grants     string
		scopes     string
		subjects   string
		roles      string
		redirects  string
		accessTTL  int64
		absTTL     int64
		slidingTTL int64
		deviceTTL  int64
		usage      string
		expiration string
	)

	err := row.Scan(
		&c.ID, &c.Name, &c.Enabled, &c.RequireClientSecret, &secrets,
		&grants, &scopes, &subjects, &roles, &c.RequireDPoP, &c.RequirePAR,
		&accessTTL, &usage, &expiration,
		&absTTL, &slidingTTL, &deviceTTL,
		&redirects, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}

	if err := json.Unmarshal([]byte(secrets), &c.Secrets); err != nil {
		return domain.Client{}, err
	}
	c.AllowedGrantTypes = splitList(grants)
	c.AllowedScopes = splitList(scopes)
	c.AllowedSubjects = splitList(subjects)
	c.AllowedRoles = splitList(roles)
	c.RedirectURIs = splitList(redirects)
	c.RefreshTokenUsage = domain.RefreshTokenUsage(usage)
	c.RefreshTokenExpiration = domain.RefreshTokenExpiration(expiration)
	c.AccessTokenTTL = time.Duration(accessTTL) * time.Second
	c.AbsoluteRefreshTTL = time.Duration(absTTL) * time.Second
	c.SlidingRefreshTTL = time.Duration(slidingTTL) * time.Second
	c.DeviceCodeTTL = time.Duration(deviceTTL) * time.Second
	return c, nil
}
