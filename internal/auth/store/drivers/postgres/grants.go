package postgres

import (
	"context"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
)

type grantsRepo struct {
	db queryer
}

const grantColumns = `grant_key, kind, client_id, subject_id, session_id,
	user_code, created_at, expires_at, consumed_at, payload`

func (r *grantsRepo) CreateGrant(ctx context.Context, g domain.PersistedGrant) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO persisted_grants (
			grant_key, kind, client_id, subject_id, session_id,
			user_code, created_at, expires_at, consumed_at, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9)`,
		g.Key, string(g.Kind), g.ClientID, g.SubjectID, g.SessionID,
		g.UserCode, g.CreatedAt.UTC(), g.ExpiresAt.UTC(), g.Payload,
	)
	return mapConstraint(err)
}

func (r *grantsRepo) GetGrant(ctx context.Context, key string) (domain.PersistedGrant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM persisted_grants WHERE grant_key = $1`, key)
	return scanGrant(row)
}

func (r *grantsRepo) GetGrantByUserCode(ctx context.Context, userCode string) (domain.PersistedGrant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM persisted_grants WHERE user_code = $1`, userCode)
	return scanGrant(row)
}

func (r *grantsRepo) ConsumeGrant(ctx context.Context, key string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE persisted_grants SET consumed_at = $1
		WHERE grant_key = $2 AND consumed_at IS NULL`,
		at.UTC(), key,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRow(ctx,
		`SELECT 1 FROM persisted_grants WHERE grant_key = $1`, key).Scan(&exists)
	if err != nil {
		return false, mapNotFound(err)
	}
	return false, nil
}

func (r *grantsRepo) UpdateGrantPayload(ctx context.Context, key string, payload []byte) error {
	return r.exec(ctx,
		`UPDATE persisted_grants SET payload = $1 WHERE grant_key = $2`,
		payload, key)
}

func (r *grantsRepo) UpdateGrantExpiration(ctx context.Context, key string, expiresAt time.Time) error {
	return r.exec(ctx,
		`UPDATE persisted_grants SET expires_at = $1 WHERE grant_key = $2`,
		expiresAt.UTC(), key)
}

func (r *grantsRepo) RemoveGrant(ctx context.Context, key string) error {
	return r.exec(ctx, `DELETE FROM persisted_grants WHERE grant_key = $1`, key)
}

func (r *grantsRepo) RemoveSessionGrants(ctx context.Context, clientID, sessionID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM persisted_grants WHERE client_id = $1 AND session_id = $2`,
		clientID, sessionID)
	return err
}

func (r *grantsRepo) RemoveSubjectGrants(ctx context.Context, subjectID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM persisted_grants WHERE subject_id = $1`, subjectID)
	return err
}

func (r *grantsRepo) DeleteExpiredGrants(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM persisted_grants WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *grantsRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanGrant(row rowScanner) (domain.PersistedGrant, error) {
	var (
		g        domain.PersistedGrant
		kind     string
		consumed *time.Time
	)
	err := row.Scan(
		&g.Key, &kind, &g.ClientID, &g.SubjectID, &g.SessionID,
		&g.UserCode, &g.CreatedAt, &g.ExpiresAt, &consumed, &g.Payload,
	)
	if err != nil {
		return domain.PersistedGrant{}, mapNotFound(err)
	}
	g.Kind = domain.GrantKind(kind)
	g.ConsumedAt = mapNullTime(consumed)
	return g, nil
}
