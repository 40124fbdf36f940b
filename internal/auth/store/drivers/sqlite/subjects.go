package sqlite

import (
	"context"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
)

type subjectsRepo struct {
	db dbtx
}

func (r *subjectsRepo) GetSubjectByID(ctx context.Context, id string) (domain.Subject, error) {
	var (
		s     domain.Subject
		roles string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, active, roles, created_at, updated_at
		FROM subjects WHERE id = ?`, id).
		Scan(&s.ID, &s.Active, &roles, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Subject{}, mapNotFound(err)
	}
	s.Roles = splitList(roles)
	return s, nil
}

func (r *subjectsRepo) CreateSubject(ctx context.Context, s domain.Subject) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (id, active, roles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Active, joinList(s.Roles), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	return mapConstraint(err)
}

func (r *subjectsRepo) SetSubjectActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subjects SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
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
