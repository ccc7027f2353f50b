package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tours-auth/internal/domain"
)

// La clasificacion de errores del driver ocurre solo en esta capa.
var (
	// ErrNotFound se devuelve cuando la consulta no encuentra filas.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate se devuelve cuando un INSERT viola una restriccion
	// de unicidad (codigo 23505 de Postgres).
	ErrDuplicate = errors.New("duplicate record")
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) (bool, error)
	ClearRefreshTokenByValue(ctx context.Context, token string) error
	SetPasswordReset(ctx context.Context, id, tokenHash string, expires time.Time) error
	ClearPasswordReset(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	SetVerified(ctx context.Context, id string) error
	SetTwoFactor(ctx context.Context, id, secret string) error
	DisableTwoFactor(ctx context.Context, id string) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `
	id, name, email, role, password_hash, password_changed_at,
	is_verified, is_two_factor_enabled, two_factor_secret,
	refresh_token, password_reset_token, password_reset_expires, created_at
`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, name, email, role, password_hash,
			is_verified, is_two_factor_enabled, two_factor_secret, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.IsVerified,
		user.IsTwoFactorEnabled,
		user.TwoFactorSecret,
		user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.queryUser(ctx, query, id)
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.queryUser(ctx, query, email)
}

func (r *PgUserRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (domain.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE password_reset_token = $1 AND password_reset_expires > $2
	`
	return r.queryUser(ctx, query, tokenHash, now)
}

func (r *PgUserRepository) List(ctx context.Context) ([]domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var (
			u          domain.User
			resetToken *string
		)
		if err := rows.Scan(
			&u.ID,
			&u.Name,
			&u.Email,
			&u.Role,
			&u.PasswordHash,
			&u.PasswordChangedAt,
			&u.IsVerified,
			&u.IsTwoFactorEnabled,
			&u.TwoFactorSecret,
			&u.RefreshToken,
			&resetToken,
			&u.PasswordResetExpires,
			&u.CreatedAt,
		); err != nil {
			return nil, err
		}
		if resetToken != nil {
			u.PasswordResetToken = *resetToken
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PgUserRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	const query = `UPDATE users SET refresh_token = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, token)
	return err
}

// RotateRefreshToken reemplaza el refresh token solo si el valor almacenado
// coincide con oldToken. La base de datos resuelve carreras entre rotaciones
// concurrentes: una sola gana.
func (r *PgUserRepository) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) (bool, error) {
	const query = `UPDATE users SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2`
	tag, err := r.pool.Exec(ctx, query, id, oldToken, newToken)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgUserRepository) ClearRefreshTokenByValue(ctx context.Context, token string) error {
	const query = `UPDATE users SET refresh_token = '' WHERE refresh_token = $1`
	_, err := r.pool.Exec(ctx, query, token)
	return err
}

func (r *PgUserRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expires time.Time) error {
	const query = `
		UPDATE users SET password_reset_token = $2, password_reset_expires = $3
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, tokenHash, expires)
	return err
}

func (r *PgUserRepository) ClearPasswordReset(ctx context.Context, id string) error {
	const query = `
		UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// UpdatePassword fija el nuevo hash, marca el instante de cambio y consume
// cualquier reset pendiente en una sola sentencia.
func (r *PgUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $2, password_changed_at = $3,
			password_reset_token = NULL, password_reset_expires = NULL
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, passwordHash, changedAt)
	return err
}

func (r *PgUserRepository) SetVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET is_verified = TRUE WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PgUserRepository) SetTwoFactor(ctx context.Context, id, secret string) error {
	const query = `
		UPDATE users SET two_factor_secret = $2, is_two_factor_enabled = TRUE
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, secret)
	return err
}

func (r *PgUserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	const query = `
		UPDATE users SET two_factor_secret = '', is_two_factor_enabled = FALSE
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PgUserRepository) queryUser(ctx context.Context, query string, args ...any) (domain.User, error) {
	var (
		u          domain.User
		resetToken *string
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.PasswordHash,
		&u.PasswordChangedAt,
		&u.IsVerified,
		&u.IsTwoFactorEnabled,
		&u.TwoFactorSecret,
		&u.RefreshToken,
		&resetToken,
		&u.PasswordResetExpires,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if resetToken != nil {
		u.PasswordResetToken = *resetToken
	}
	return u, nil
}
