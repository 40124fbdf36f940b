package postgres

import (
	"context"
	"time"

	"github.com/parclabs/keygate/internal/auth/domain"
	"github.com/parclabs/keygate/internal/auth/store"
)

type subjectsRepo struct {
	db queryer
}

func (r *subjectsRepo) GetSubjectByID(ctx context.Context, id string) (domain.Subject, error) {
	var (
		s     domain.Subject
		roles string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, active, roles, created_at, updated_at
		FROM subjects WHERE id = $1`, id).
		Scan(&s.ID, &s.Active, &roles, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Subject{}, mapNotFound(err)
	}
	s.Roles = splitList(roles)
	return s, nil
}

func (r *subjectsRepo) CreateSubject(ctx context.Context, s domain.Subject) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subjects (id, active, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Active, joinList(s.Roles), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	return mapConstraint(err)
}

func (r *subjectsRepo) SetSubjectActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subjects SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
