package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// ChallengeRepository persists login code challenges. The conditional
// updates report whether a row matched so callers can detect a challenge
// that stopped being active between read and write.
type ChallengeRepository interface {
	// ExpireActive marks every unconsumed, unexpired challenge of the user
	// as expired.
	ExpireActive(ctx context.Context, userID string) error
	Create(ctx context.Context, ch *Challenge) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*Challenge, error)

	// IncrementAttempts adds one wrong attempt if the challenge is still
	// active at now. Returns false when no active row matched.
	IncrementAttempts(ctx context.Context, id string, now time.Time) (bool, error)

	// Consume marks the challenge consumed if it is still active at now.
	// Returns false when no active row matched.
	Consume(ctx context.Context, id string, now time.Time) (bool, error)
}

type challengeRepository struct {
	db *sql.DB
}

// NewChallengeRepository creates a challenge repository backed by MariaDB.
func NewChallengeRepository(db *sql.DB) ChallengeRepository {
	return &challengeRepository{db: db}
}

// activeGuard mirrors Challenge.IsActive. The single placeholder is "now".
const activeGuard = `consumed = FALSE AND expired = FALSE
	  AND attempts_used < max_attempts AND expires_at > ?`

const (
	incrementAttemptsQuery = `UPDATE otp_challenges SET attempts_used = attempts_used + 1
		 WHERE id = ? AND ` + activeGuard

	consumeChallengeQuery = `UPDATE otp_challenges SET consumed = TRUE
		 WHERE id = ? AND ` + activeGuard
)

func (r *challengeRepository) ExpireActive(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET expired = TRUE
		 WHERE user_id = ? AND consumed = FALSE AND expired = FALSE`, userID)
	if err != nil {
		return fmt.Errorf("expiring active challenges: %w", err)
	}
	return nil
}

func (r *challengeRepository) Create(ctx context.Context, ch *Challenge) error {
	query := `INSERT INTO otp_challenges
	          (id, user_id, code_hash, ip_address, user_agent, location,
	           consumed, expired, attempts_used, max_attempts, created_at, expires_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		ch.ID, ch.UserID, ch.CodeHash, ch.IPAddress, ch.UserAgent, ch.Location,
		ch.Consumed, ch.Expired, ch.AttemptsUsed, ch.MaxAttempts, ch.CreatedAt, ch.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting challenge: %w", err)
	}
	return nil
}

func (r *challengeRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}

// FindByID returns apperror.NotFound when the challenge does not exist.
func (r *challengeRepository) FindByID(ctx context.Context, id string) (*Challenge, error) {
	query := `SELECT id, user_id, code_hash, ip_address, user_agent, location,
	                 consumed, expired, attempts_used, max_attempts, created_at, expires_at
	          FROM otp_challenges WHERE id = ?`

	ch := &Challenge{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ch.ID, &ch.UserID, &ch.CodeHash, &ch.IPAddress, &ch.UserAgent, &ch.Location,
		&ch.Consumed, &ch.Expired, &ch.AttemptsUsed, &ch.MaxAttempts, &ch.CreatedAt, &ch.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("challenge not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}
	return ch, nil
}

func (r *challengeRepository) IncrementAttempts(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, incrementAttemptsQuery, id, now)
	if err != nil {
		return false, fmt.Errorf("incrementing challenge attempts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *challengeRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, consumeChallengeQuery, id, now)
	if err != nil {
		return false, fmt.Errorf("consuming challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}
