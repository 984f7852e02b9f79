package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const userQuery = `
	SELECT u.id, u.username, COALESCE(u.email, ''), u.password, u.enabled,
	       u.account_non_expired, u.account_non_locked, u.credentials_non_expired, u.created_at,
	       COALESCE(array_agg(r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN users_roles ur ON ur.user_id = u.id
	LEFT JOIN roles r ON r.id = ur.role_id`

func (r *Repository) findUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	var roles pq.StringArray
	err := r.q.QueryRowContext(ctx, userQuery+" WHERE "+where+" GROUP BY u.id", arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Enabled,
			&user.AccountNonExpired, &user.AccountNonLocked, &user.CredentialsNonExpired, &user.CreatedAt, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	for _, role := range roles {
		user.Roles = append(user.Roles, models.Role(role))
	}
	return user, nil
}

// FindUserByID retrieves a user with roles by id
func (r *Repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.findUser(ctx, "u.id = $1", id)
}

// FindUserByUsername retrieves a user with roles by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findUser(ctx, "u.username = $1", username)
}
