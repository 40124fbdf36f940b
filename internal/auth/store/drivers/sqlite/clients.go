package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
)

type clientsRepo struct {
	db dbtx
}

const clientColumns = `id, name, enabled, require_client_secret, secrets,
	allowed_grant_types, allowed_scopes, allowed_subjects, allowed_roles,
	require_dpop, require_par,
	access_token_ttl_seconds, refresh_token_usage, refresh_token_expiration,
	absolute_refresh_ttl_seconds, sliding_refresh_ttl_seconds,
	device_code_ttl_seconds, redirect_uris, created_at, updated_at`

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx,
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

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO clients (
			id, name, enabled, require_client_secret, secrets,
			allowed_grant_types, allowed_scopes, allowed_subjects, allowed_roles,
			require_dpop, require_par,
			access_token_ttl_seconds, refresh_token_usage, refresh_token_expiration,
			absolute_refresh_ttl_seconds, sliding_refresh_ttl_seconds,
			device_code_ttl_seconds, redirect_uris, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	return r.exec(ctx,
		`UPDATE clients SET secrets = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC(), clientID)
}

func (r *clientsRepo) SetClientEnabled(ctx context.Context, clientID string, enabled bool) error {
	return r.exec(ctx,
		`UPDATE clients SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), clientID)
}

func (r *clientsRepo) DeleteClient(ctx context.Context, clientID string) error {
	return r.exec(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
}

func (r *clientsRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapNotFound(sql.ErrNoRows)
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
	)

	err := row.Scan(
		&c.ID, &c.Name, &c.Enabled, &c.RequireClientSecret, &secrets,
		&grants, &scopes, &subjects, &roles, &c.RequireDPoP, &c.RequirePAR,
		&accessTTL, &c.RefreshTokenUsage, &c.RefreshTokenExpiration,
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
	c.AccessTokenTTL = time.Duration(accessTTL) * time.Second
	c.AbsoluteRefreshTTL = time.Duration(absTTL) * time.Second
	c.SlidingRefreshTTL = time.Duration(slidingTTL) * time.Second
	c.DeviceCodeTTL = time.Duration(deviceTTL) * time.Second
	return c, nil
}
