package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/stwalsh4118/verrify/internal/models"
)

type userRow struct {
	ID        string `db:"id"`
	Email     string `db:"email"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Role      string `db:"role"`
}

// userRepository is the PostgreSQL implementation of UserRepository.
type userRepository struct {
	q querier
}

func (r *userRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query, args, err := psql().Select("id", "email", "first_name", "last_name", "role").
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	var row userRow
	if err := pgxscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user %s: %w", id, err)
	}
	return &models.User{
		ID:        row.ID,
		Email:     row.Email,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Role:      row.Role,
	}, nil
}

// Upsert inserts the user or refreshes its contact fields. Empty incoming
// fields keep the stored value.
func (r *userRepository) Upsert(ctx context.Context, u *models.User) error {
	role := u.Role
	if role == "" {
		role = "USER"
	}
	query, args, err := psql().Insert("users").
		Columns("id", "email", "first_name", "last_name", "role").
		Values(u.ID, u.Email, u.FirstName, u.LastName, role).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), users.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), users.last_name),
			role = EXCLUDED.role,
			updated_at = now()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build user upsert: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}
