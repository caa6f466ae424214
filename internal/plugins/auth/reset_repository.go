package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// ResetTokenRepository stores at most one password reset token per email.
type ResetTokenRepository interface {
	// Upsert replaces any token previously stored for the email.
	Upsert(ctx context.Context, email, tokenHash string, createdAt time.Time) error
	FindByEmail(ctx context.Context, email string) (*ResetToken, error)
	Delete(ctx context.Context, email string) error

	// DeleteMatching removes the row only if it still holds tokenHash.
	// Returns false when another request already consumed or replaced it.
	DeleteMatching(ctx context.Context, email, tokenHash string) (bool, error)
}

type resetTokenRepository struct {
	db *sql.DB
}

// NewResetTokenRepository creates a reset token repository backed by MariaDB.
func NewResetTokenRepository(db *sql.DB) ResetTokenRepository {
	return &resetTokenRepository{db: db}
}

func (r *resetTokenRepository) Upsert(ctx context.Context, email, tokenHash string, createdAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (email, token_hash, created_at)
		 VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		     token_hash = VALUES(token_hash),
		     created_at = VALUES(created_at)`,
		email, tokenHash, createdAt)
	if err != nil {
		return fmt.Errorf("upserting reset token: %w", err)
	}
	return nil
}

// FindByEmail returns apperror.NotFound when no token is outstanding.
func (r *resetTokenRepository) FindByEmail(ctx context.Context, email string) (*ResetToken, error) {
	t := &ResetToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, token_hash, created_at FROM password_reset_tokens WHERE email = ?`, email,
	).Scan(&t.Email, &t.TokenHash, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("reset token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying reset token: %w", err)
	}
	return t, nil
}

func (r *resetTokenRepository) Delete(ctx context.Context, email string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE email = ?`, email); err != nil {
		return fmt.Errorf("deleting reset token: %w", err)
	}
	return nil
}

// consumeResetTokenQuery deletes the row only while it still holds the
// token that was verified, so one token is redeemed at most once.
const consumeResetTokenQuery = `DELETE FROM password_reset_tokens WHERE email = ? AND token_hash = ?`

func (r *resetTokenRepository) DeleteMatching(ctx context.Context, email, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, consumeResetTokenQuery, email, tokenHash)
	if err != nil {
		return false, fmt.Errorf("consuming reset token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}
