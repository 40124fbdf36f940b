package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
)

type grantsRepo struct {
	db dbtx
}

const grantColumns = `grant_key, kind, client_id, subject_id, session_id,
	user_code, created_at, expires_at, consumed_at, payload`

func (r *grantsRepo) CreateGrant(ctx context.Context, g domain.PersistedGrant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO persisted_grants (
			grant_key, kind, client_id, subject_id, session_id,
			user_code, created_at, expires_at, consumed_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		g.Key, string(g.Kind), g.ClientID, g.SubjectID, g.SessionID,
		g.UserCode, g.CreatedAt.UTC(), g.ExpiresAt.UTC(), g.Payload,
	)
	return mapConstraint(err)
}

func (r *grantsRepo) GetGrant(ctx context.Context, key string) (domain.PersistedGrant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM persisted_grants WHERE grant_key = ?`, key)
	return scanGrant(row)
}

func (r *grantsRepo) GetGrantByUserCode(ctx context.Context, userCode string) (domain.PersistedGrant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM persisted_grants WHERE user_code = ?`, userCode)
	return scanGrant(row)
}

// ConsumeGrant is the atomic heart of one-time-use semantics: the
// conditional UPDATE succeeds for exactly one caller, no matter how
// many race.
func (r *grantsRepo) ConsumeGrant(ctx context.Context, key string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE persisted_grants SET consumed_at = ?
		WHERE grant_key = ? AND consumed_at IS NULL`,
		at.UTC(), key,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Lost the race, or the grant never existed.
	var exists int
	err = r.db.QueryRowContext(ctx,
		`SELECT 1 FROM persisted_grants WHERE grant_key = ?`, key).Scan(&exists)
	if err != nil {
		return false, mapNotFound(err)
	}
	return false, nil
}

func (r *grantsRepo) UpdateGrantPayload(ctx context.Context, key string, payload []byte) error {
	return r.exec(ctx,
		`UPDATE persisted_grants SET payload = ? WHERE grant_key = ?`,
		payload, key)
}

func (r *grantsRepo) UpdateGrantExpiration(ctx context.Context, key string, expiresAt time.Time) error {
	return r.exec(ctx,
		`UPDATE persisted_grants SET expires_at = ? WHERE grant_key = ?`,
		expiresAt.UTC(), key)
}

func (r *grantsRepo) RemoveGrant(ctx context.Context, key string) error {
	return r.exec(ctx, `DELETE FROM persisted_grants WHERE grant_key = ?`, key)
}

func (r *grantsRepo) RemoveSessionGrants(ctx context.Context, clientID, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM persisted_grants WHERE client_id = ? AND session_id = ?`,
		clientID, sessionID)
	return err
}

func (r *grantsRepo) RemoveSubjectGrants(ctx context.Context, subjectID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM persisted_grants WHERE subject_id = ?`, subjectID)
	return err
}

func (r *grantsRepo) DeleteExpiredGrants(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM persisted_grants WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *grantsRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanGrant(row rowScanner) (domain.PersistedGrant, error) {
	var (
		g        domain.PersistedGrant
		consumed sql.NullTime
	)
	err := row.Scan(
		&g.Key, &g.Kind, &g.ClientID, &g.SubjectID, &g.SessionID,
		&g.UserCode, &g.CreatedAt, &g.ExpiresAt, &consumed, &g.Payload,
	)
	if err != nil {
		return domain.PersistedGrant{}, mapNotFound(err)
	}
	g.ConsumedAt = mapNullTime(consumed)
	return g, nil
}
