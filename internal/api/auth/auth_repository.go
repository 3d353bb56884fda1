package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kitchenguard/kitchenguard/internal/api"
	"github.com/kitchenguard/kitchenguard/internal/types"
)

const uniqueViolationCode = "23505"

// PGXPool abstracts the pgxpool methods the repository needs, so tests can
// substitute pgxmock.
type PGXPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ AuthRepo = (*PostgresAuthRepo)(nil)

// AuthRepo defines the contract for credential persistence. Password
// material flows in as bcrypt hashes only; plaintext never reaches this layer.
type AuthRepo interface {
	CreateUser(ctx context.Context, params CreateUserParams) (*types.UserAuth, error)
	GetUserByUsername(ctx context.Context, username string) (*types.UserAuth, error)
	GetUserByEmail(ctx context.Context, email string) (*types.UserAuth, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	CreateResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	// ResetPassword consumes a reset token and stores the new hash in one
	// transaction. Returns api.ErrUnauthenticated if the token does not
	// exist, was already used, or is expired.
	ResetPassword(ctx context.Context, token, newPasswordHash string) error
}

// CreateUserParams carries the fields persisted on registration.
type CreateUserParams struct {
	Username       string
	Email          string
	PasswordHash   string
	FullName       string
	RestaurantName string
	RestaurantType string
	UserPosition   string
	KitchenProduce json.RawMessage
	BarProduce     json.RawMessage
}

// PostgresAuthRepo implements AuthRepo on PostgreSQL.
type PostgresAuthRepo struct {
	logger *slog.Logger
	pgpool PGXPool
}

func NewPostgresAuthRepo(pgpool PGXPool, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userColumns = `id, username, email, password_hash, full_name, restaurant_name,
	       restaurant_type, user_position, kitchen_produce_list, bar_produce_list,
	       is_active, created_at, updated_at, last_login`

func scanUser(row pgx.Row) (*types.UserAuth, error) {
	var user types.UserAuth
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.RestaurantName,
		&user.RestaurantType,
		&user.UserPosition,
		&user.KitchenProduce,
		&user.BarProduce,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user row. A uniqueness violation on username or
// email surfaces as api.ErrConflict; the constraint is the arbiter for
// concurrent duplicate registrations.
func (r *PostgresAuthRepo) CreateUser(ctx context.Context, params CreateUserParams) (*types.UserAuth, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	kitchen := params.KitchenProduce
	if len(kitchen) == 0 {
		kitchen = json.RawMessage("[]")
	}
	bar := params.BarProduce
	if len(bar) == 0 {
		bar = json.RawMessage("[]")
	}

	query := `
		INSERT INTO users (username, email, password_hash, full_name, restaurant_name,
		                   restaurant_type, user_position, kitchen_produce_list, bar_produce_list)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	user, err := scanUser(r.pgpool.QueryRow(ctx, query,
		params.Username, params.Email, params.PasswordHash, params.FullName,
		params.RestaurantName, params.RestaurantType, params.UserPosition,
		kitchen, bar))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			span.SetStatus(codes.Error, "Duplicate username or email")
			return nil, fmt.Errorf("username or email already exists: %w", api.ErrConflict)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	span.SetStatus(codes.Ok, "User created")
	return user, nil
}

func (r *PostgresAuthRepo) GetUserByUsername(ctx context.Context, username string) (*types.UserAuth, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "GetUserByUsername", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	user, err := scanUser(r.pgpool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user %q: %w", username, api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresAuthRepo) GetUserByEmail(ctx context.Context, email string) (*types.UserAuth, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "GetUserByEmail", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.pgpool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("email lookup: %w", api.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return user, nil
}

func (r *PostgresAuthRepo) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "UpdateLastLogin", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx,
		`UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = $1`, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("update last login: %w", api.ErrNotFound)
	}

	span.SetStatus(codes.Ok, "Last login updated")
	return nil
}

func (r *PostgresAuthRepo) CreateResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateResetToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "password_reset_tokens"),
	))
	defer span.End()

	_, err := r.pgpool.Exec(ctx,
		`INSERT INTO password_reset_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)`,
		userID, token, expiresAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	span.SetStatus(codes.Ok, "Reset token stored")
	return nil
}

// ResetPassword atomically consumes a reset token and stores the new hash.
// The conditional UPDATE is the single point that enforces single-use: only
// one of two concurrent consumers can flip used to TRUE.
func (r *PostgresAuthRepo) ResetPassword(ctx context.Context, token, newPasswordHash string) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "ResetPassword", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "password_reset_tokens"),
	))
	defer span.End()

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Begin failed")
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.WarnContext(ctx, "Reset transaction rollback failed", slog.Any("error", rbErr))
		}
	}()

	var userID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE password_reset_tokens
		 SET used = TRUE
		 WHERE token = $1 AND used = FALSE AND expires_at > CURRENT_TIMESTAMP
		 RETURNING user_id`,
		token).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Token missing, used or expired")
			return fmt.Errorf("reset token: %w", api.ErrUnauthenticated)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Token consume failed")
		return fmt.Errorf("failed to consume reset token: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		newPasswordHash, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Password UPDATE failed")
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("reset password: %w", api.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit failed")
		return fmt.Errorf("failed to commit reset transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "Password reset")
	return nil
}
