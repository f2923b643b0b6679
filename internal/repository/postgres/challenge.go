package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nowrise/authgate/internal/core/domain"
	"github.com/nowrise/authgate/internal/core/port"
	"github.com/nowrise/authgate/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ChallengeRepository implements port.ChallengeStore backed by PostgreSQL.
type ChallengeRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewChallengeRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewChallengeRepository(exec pgExecutor) *ChallengeRepository {
	repo := &ChallengeRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *ChallengeRepository) WithTx(tx pgx.Tx) *ChallengeRepository {
	if tx == nil {
		return r
	}
	return &ChallengeRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new challenge row.
func (r *ChallengeRepository) Create(ctx context.Context, challenge domain.Challenge) error {
	stmt, args, err := r.builder.Insert("otp_challenges").
		Columns(
			"id",
			"email",
			"otp_hash",
			"attempts",
			"created_at",
			"expires_at",
		).
		Values(
			challenge.ID,
			challenge.Email,
			challenge.OTPHash,
			challenge.Attempts,
			challenge.CreatedAt,
			challenge.ExpiresAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert challenge sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}

	return nil
}

// GetByEmail retrieves the single outstanding challenge for an email.
func (r *ChallengeRepository) GetByEmail(ctx context.Context, email string) (*domain.Challenge, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"email",
		"otp_hash",
		"attempts",
		"created_at",
		"expires_at",
	).
		From("otp_challenges").
		Where(squirrel.Eq{"email": email}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select challenge sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var challenge domain.Challenge
	if err := row.Scan(
		&challenge.ID,
		&challenge.Email,
		&challenge.OTPHash,
		&challenge.Attempts,
		&challenge.CreatedAt,
		&challenge.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select challenge: %w", err)
	}

	return &challenge, nil
}

// IncrementAttempts bumps the wrong-code counter and returns the new value.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	stmt, args, err := r.builder.Update("otp_challenges").
		Set("attempts", squirrel.Expr("attempts + 1")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment attempts sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	return attempts, nil
}

// Consume deletes the challenge only when the stored hash matches the
// supplied one. Exactly one of two racing consumers observes true.
func (r *ChallengeRepository) Consume(ctx context.Context, id string, otpHash string) (bool, error) {
	stmt, args, err := r.builder.Delete("otp_challenges").
		Where(squirrel.Eq{"id": id, "otp_hash": otpHash}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build consume challenge sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Delete removes a challenge by id.
func (r *ChallengeRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("otp_challenges").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete challenge sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeleteByEmail removes every challenge for an email and reports how many rows went away.
func (r *ChallengeRepository) DeleteByEmail(ctx context.Context, email string) (int, error) {
	stmt, args, err := r.builder.Delete("otp_challenges").
		Where(squirrel.Eq{"email": email}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete challenges sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete challenges: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes challenges whose validity window closed before the given instant.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("otp_challenges").
		Where(squirrel.Lt{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.ChallengeStore = (*ChallengeRepository)(nil)
