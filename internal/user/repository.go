package user

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := "INSERT INTO users (id, name, username, password) VALUES ($1, $2, $3, $4)"
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Name, user.Username, user.Password); err != nil {
		return nil, errors.Wrapf(err, "create user %s", user.Username)
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, name, username, password FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Name, &u.Username, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %s", username)
	}
	return u, nil
}
