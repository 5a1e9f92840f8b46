package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
}

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func (r *userRepo) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	const q = `SELECT user_id, email, name, created_at, updated_at FROM user_profiles WHERE user_id = $1`
	var u model.UserProfile
	err := r.pool.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch profile for user %s: %w", userID, err)
	}
	return &u, nil
}
