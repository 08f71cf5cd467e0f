package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/smehub/apiserver/types"
)

// ResetTokenRepository persists password-reset tokens and the per-IP
// request log used for throttling.
type ResetTokenRepository struct {
	db *sql.DB
}

func NewResetTokenRepository(db *sql.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// PurgeExpired deletes tokens whose expiry is at or before now and request
// log entries older than requestCutoff. It returns the number of tokens removed.
func (r *ResetTokenRepository) PurgeExpired(ctx context.Context, now, requestCutoff time.Time) (int64, error) {
	const purgeTokens = `DELETE FROM password_reset_tokens WHERE expires_at <= $1`
	const purgeRequests = `DELETE FROM password_reset_requests WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, purgeTokens, now)
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, purgeRequests, requestCutoff); err != nil {
		return removed, err
	}
	return removed, nil
}

func (r *ResetTokenRepository) CountRequestsSince(ctx context.Context, ip string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM password_reset_requests
		WHERE ip_address = $1 AND created_at >= $2`
	var count int
	if err := r.db.QueryRowContext(ctx, query, ip, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ResetTokenRepository) RecordRequest(ctx context.Context, ip string, at time.Time) error {
	const query = `INSERT INTO password_reset_requests (ip_address, created_at) VALUES ($1, $2)`
	_, err := r.db.ExecContext(ctx, query, ip, at)
	return err
}

// Create inserts token. A duplicate token value yields ErrConflict.
func (r *ResetTokenRepository) Create(ctx context.Context, token types.ResetToken) (types.ResetToken, error) {
	const query = `
		INSERT INTO password_reset_tokens (user_id, token, created_at, expires_at, ip_address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.db.QueryRowContext(
		ctx,
		query,
		token.UserID,
		token.Token,
		token.CreatedAt,
		token.ExpiresAt,
		token.IPAddress,
	).Scan(&token.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return types.ResetToken{}, ErrConflict
		}
		return types.ResetToken{}, err
	}
	return token, nil
}

func (r *ResetTokenRepository) GetByToken(ctx context.Context, token string) (types.ResetToken, error) {
	const query = `
		SELECT id, user_id, token, created_at, expires_at, used_at, ip_address
		FROM password_reset_tokens
		WHERE token = $1`
	var t types.ResetToken
	var ip sql.NullString
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&t.ID,
		&t.UserID,
		&t.Token,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.UsedAt,
		&ip,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ResetToken{}, ErrNotFound
		}
		return types.ResetToken{}, err
	}
	t.IPAddress = ip.String
	return t, nil
}

// Consume marks token used and stores passwordHash for its owner in a single
// transaction. Only one caller can consume a given token: the conditional
// update affects zero rows for every other caller. It returns ErrTokenUsed
// when the token was consumed before, and ErrNotFound when it is unknown,
// expired, or its owner is missing or inactive.
func (r *ResetTokenRepository) Consume(ctx context.Context, token, passwordHash string, now time.Time) (string, error) {
	const markUsed = `
		UPDATE password_reset_tokens
		SET used_at = $1
		WHERE token = $2 AND used_at IS NULL AND expires_at > $1
		RETURNING user_id`
	const updatePassword = `
		UPDATE users
		SET hashed_password = $1
		WHERE id = $2 AND is_active = TRUE`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	if err := tx.QueryRowContext(ctx, markUsed, now, token).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return "", r.classifyUnconsumable(ctx, token)
		}
		return "", err
	}

	result, err := tx.ExecContext(ctx, updatePassword, passwordHash, userID)
	if err != nil {
		return "", err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return userID, nil
}

func (r *ResetTokenRepository) classifyUnconsumable(ctx context.Context, token string) error {
	const query = `SELECT used_at IS NOT NULL FROM password_reset_tokens WHERE token = $1`
	var used bool
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if used {
		return ErrTokenUsed
	}
	return ErrNotFound
}
