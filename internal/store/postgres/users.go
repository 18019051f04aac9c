package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

const uniqueViolation = "23505"

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	role := input.Role
	if role == "" {
		role = models.RoleCitizen
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var user models.User
	var counterNull sql.NullString
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, email, password_hash, role, counter, email_verified, verify_token, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		RETURNING user_id, email, role, counter, email_verified, created_at
	`, uuid.NewString(), strings.ToLower(strings.TrimSpace(input.Email)), input.PasswordHash, role, nullIfEmpty(input.Counter), input.VerifyToken, createdAt)
	if err := row.Scan(&user.UserID, &user.Email, &user.Role, &counterNull, &user.EmailVerified, &user.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.User{}, store.ErrEmailTaken
		}
		return models.User{}, err
	}
	if counterNull.Valid {
		user.Counter = counterNull.String
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, _, err := s.scanUser(ctx, `WHERE user_id = $1`, userID)
	return user, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, string, error) {
	return s.scanUser(ctx, `WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) scanUser(ctx context.Context, where string, arg interface{}) (models.User, string, error) {
	var user models.User
	var counterNull sql.NullString
	var hash string
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, email, password_hash, role, counter, email_verified, created_at
		FROM users
	`+where, arg)
	if err := row.Scan(&user.UserID, &user.Email, &hash, &user.Role, &counterNull, &user.EmailVerified, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, "", store.ErrUserNotFound
		}
		return models.User{}, "", err
	}
	if counterNull.Valid {
		user.Counter = counterNull.String
	}
	return user, hash, nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, token string) (models.User, error) {
	var user models.User
	var counterNull sql.NullString
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET email_verified = TRUE,
			verify_token = ''
		WHERE verify_token = $1 AND verify_token <> ''
		RETURNING user_id, email, role, counter, email_verified, created_at
	`, token)
	if err := row.Scan(&user.UserID, &user.Email, &user.Role, &counterNull, &user.EmailVerified, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrTokenNotFound
		}
		return models.User{}, err
	}
	if counterNull.Valid {
		user.Counter = counterNull.String
	}
	return user, nil
}

func (s *Store) SetResetToken(ctx context.Context, email, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET reset_token = $2 WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)), token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}
